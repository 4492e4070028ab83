// Package runner executes baseline and experiment runs through the accuracy
// tester, one dataset at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/state"
	"github.com/hailam/chesstuner/internal/telemetry"
)

// Request is one accuracy run against one dataset.
type Request struct {
	Seed  int64  `json:"seed"`
	Label string `json:"label"`
	// Overrides is the layered partial change applied for this run.
	Overrides botconfig.Override `json:"overrides"`
	// Config is the effective configuration after merging Overrides.
	Config      botconfig.Config `json:"config"`
	PositionCap int              `json:"positionCap"`
	FastMode    bool             `json:"fastMode"`
}

// Tester measures how well a configuration mimics the players of a dataset.
type Tester interface {
	Run(ctx context.Context, dataset string, req Request) (metrics.Metrics, error)
	Close() error
}

// Factory creates the single tester instance used for a whole sweep.
type Factory interface {
	Open(ctx context.Context) (Tester, error)
}

// ErrNoResults means no dataset produced a measurement.
var ErrNoResults = errors.New("no dataset produced results")

// triageDepth is the per-band depth ceiling of a triage run.
var triageDepth = botconfig.BandTable{
	Beginner:     2,
	Intermediate: 3,
	Advanced:     4,
	Expert:       5,
	Master:       6,
}

const triageCandidates = 3

// TriageOverride returns the speed caps for a triage run over base. Values
// already below a cap are kept.
func TriageOverride(base botconfig.Config) botconfig.Override {
	depth := base.Search.DepthByBand.Map(func(b elo.Band, v float64) float64 {
		return math.Min(v, triageDepth.Get(b))
	})
	candidates := base.Search.CandidateCount
	if candidates > triageCandidates {
		candidates = triageCandidates
	}
	return botconfig.Override{
		Search: &botconfig.SearchOverride{
			DepthByBand:    &depth,
			CandidateCount: &candidates,
		},
	}
}

// Options configures a Runner.
type Options struct {
	// FullPositions caps positions per dataset in full mode. Zero means all.
	FullPositions int
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// Runner drives one Tester sequentially.
type Runner struct {
	tester  Tester
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New creates a runner over tester.
func New(tester Tester, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{tester: tester, opts: opts, logger: logger, metrics: opts.Metrics}
}

// Baseline measures base unmodified on every dataset. In triage mode the same
// speed caps as experiments are applied.
func (r *Runner) Baseline(ctx context.Context, base botconfig.Config, label string, datasets []state.DatasetRef, mode metrics.Mode, seed int64, positionCap int) (map[string]metrics.Metrics, error) {
	return r.run(ctx, base, label, botconfig.Override{}, datasets, mode, seed, positionCap)
}

// Experiment measures spec's override over base on datasets.
func (r *Runner) Experiment(ctx context.Context, base botconfig.Config, spec *state.ExperimentSpec, datasets []state.DatasetRef, mode metrics.Mode) (map[string]metrics.Metrics, error) {
	positionCap := r.opts.FullPositions
	if mode == metrics.ModeTriage {
		positionCap = spec.PositionCap
	}
	return r.run(ctx, base, spec.ID, spec.Override, datasets, mode, spec.Seed, positionCap)
}

func (r *Runner) run(ctx context.Context, base botconfig.Config, label string, ov botconfig.Override, datasets []state.DatasetRef, mode metrics.Mode, seed int64, positionCap int) (map[string]metrics.Metrics, error) {
	effective := ov
	if mode == metrics.ModeTriage {
		// the experiment's own fields win over the caps
		effective = botconfig.Layer(TriageOverride(base), ov)
	}
	req := Request{
		Seed:        seed,
		Label:       label,
		Overrides:   effective,
		Config:      botconfig.Merge(base, effective),
		PositionCap: positionCap,
		FastMode:    mode == metrics.ModeTriage,
	}

	out := make(map[string]metrics.Metrics, len(datasets))
	for _, d := range datasets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := time.Now()
		m, err := r.tester.Run(ctx, d.Handle, req)
		r.metrics.RunDuration(string(mode), time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			r.logger.Warn("Accuracy run failed, skipping dataset",
				zap.String("label", label), zap.String("dataset", d.Name), zap.Error(err))
			continue
		}
		m.Sanitize()
		if m.TotalPositions == 0 {
			r.logger.Warn("Accuracy run measured no positions",
				zap.String("label", label), zap.String("dataset", d.Name))
			continue
		}
		out[d.Name] = m
		r.logger.Debug("Accuracy run",
			zap.String("label", label),
			zap.String("dataset", d.Name),
			zap.String("mode", string(mode)),
			zap.Int("positions", m.TotalPositions),
			zap.Float64("match_rate", m.MatchRate))
	}
	if len(out) == 0 && len(datasets) > 0 {
		return out, fmt.Errorf("%s: %w", label, ErrNoResults)
	}
	return out, nil
}
