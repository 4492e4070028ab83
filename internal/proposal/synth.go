package proposal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/advisory"
	"github.com/hailam/chesstuner/internal/state"
	"github.com/hailam/chesstuner/internal/telemetry"
)

const remediation = "check the advisory provider, model and API key in the config file; " +
	"the statistical proposal can be accepted as is or analyze can be rerun once the provider answers"

// Synthesizer produces and persists proposals.
type Synthesizer struct {
	completer advisory.Completer
	store     *Store
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewSynthesizer creates a synthesizer. completer may be nil, in which case
// every proposal comes from the fallback.
func NewSynthesizer(completer advisory.Completer, store *Store, logger *zap.Logger, m *telemetry.Metrics) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{completer: completer, store: store, logger: logger, metrics: m, now: time.Now}
}

// Synthesize builds the proposal for in, saves it and returns it with the
// name of its directory. Advisory failures never fail the call.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*state.Proposal, string, error) {
	doc := BuildContext(in)

	var (
		ans      Answer
		response string
		used     bool
	)
	if s.completer == nil {
		s.metrics.AdvisoryCall("disabled")
		s.logger.Info("No advisory model configured, using the statistical fallback")
	} else {
		text, err := s.completer.Complete(ctx, doc)
		response = text
		switch {
		case err != nil:
			s.metrics.AdvisoryCall("error")
			s.logger.Warn("Advisory call failed, using the statistical fallback",
				zap.String("model", s.completer.Name()),
				zap.Error(err),
				zap.String("remediation", remediation))
		default:
			parsed, perr := ParseResponse(text, in.BestConfig)
			if perr != nil {
				s.metrics.AdvisoryCall("unparsable")
				s.logger.Warn("Advisory answer unusable, using the statistical fallback",
					zap.String("model", s.completer.Name()),
					zap.Error(perr),
					zap.String("remediation", remediation))
				break
			}
			s.metrics.AdvisoryCall("ok")
			ans, used = parsed, true
		}
	}
	if !used {
		ans = Fallback(in.BestConfig, in.Results)
	}

	p := &state.Proposal{
		ID:              uuid.NewString(),
		Cycle:           in.Cycle,
		CreatedAt:       s.now(),
		BaselineScore:   in.Baseline.Score,
		Baseline:        in.Baseline,
		Experiments:     in.Results,
		ExperimentsRun:  len(in.Triage),
		ProposedConfig:  ans.ProposedConfig,
		Changes:         ans.Changes,
		Summary:         ans.Summary,
		CodeSuggestions: ans.CodeSuggestions,
		NextPriorities:  ans.NextPriorities,
		Warnings:        ans.Warnings,
		AdvisoryUsed:    used,
	}
	if p.Changes == nil {
		p.Changes = []state.ConfigChange{}
	}
	if in.Regression.HasPrevious {
		for _, m := range in.Regression.Critical() {
			p.Warnings = append(p.Warnings, "critical regression in "+m.Metric+" since the previous cycle")
		}
	}
	if p.ProposedConfig.IsEmpty() {
		p.Warnings = append(p.Warnings, "no configuration change proposed; accepting keeps the current configuration")
	}

	name, err := s.store.Save(p, doc, response)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("Proposal written",
		zap.String("id", p.ID),
		zap.String("dir", s.store.Path(name)),
		zap.Int("changes", len(p.Changes)),
		zap.Bool("advisory_used", used))
	return p, name, nil
}
