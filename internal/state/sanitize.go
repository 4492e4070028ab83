package state

import (
	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/metrics"
)

// Sanitize repairs a freshly decoded state before anything computes on it:
// nil collections become empty, unknown phases fall back to idle, metrics get
// their missing-value semantic back and an invalid best config is replaced by
// fallback. It must run on every load.
func Sanitize(st *TunerState, fallback botconfig.Config) {
	if st.Version < CurrentVersion {
		st.Version = CurrentVersion
	}
	if st.Cycle < 1 {
		st.Cycle = 1
	}
	if !st.Phase.Valid() {
		st.Phase = PhaseIdle
	}
	if st.Players == nil {
		st.Players = []PlayerEntry{}
	}
	if st.Datasets == nil {
		st.Datasets = []DatasetRef{}
	}
	if st.History == nil {
		st.History = []CycleRecord{}
	}
	if st.AuditLog == nil {
		st.AuditLog = []AuditEntry{}
	}
	if err := st.BestConfig.Validate(); err != nil {
		st.BestConfig = fallback
	}
	for i := range st.History {
		sanitizeSnapshot(&st.History[i].Baseline)
	}
	if st.Plan != nil {
		kept := st.Plan.Experiments[:0]
		for _, e := range st.Plan.Experiments {
			if e != nil {
				kept = append(kept, e)
			}
		}
		st.Plan.Experiments = kept
	}
	if st.Phase == PhaseWaiting && st.PendingProposal == "" {
		st.Phase = PhaseAnalyze
	}
}

// SanitizeSweep restores missing-value semantics inside stored sweep results.
func SanitizeSweep(r *SweepResults) {
	if r.Triage == nil {
		r.Triage = map[string]metrics.AggregatedResult{}
	}
	if r.Full == nil {
		r.Full = map[string]metrics.AggregatedResult{}
	}
	sanitizeBaseline(r.TriageBaseline)
	sanitizeBaseline(r.FullBaseline)
	for id, res := range r.Triage {
		sanitizeResult(&res)
		r.Triage[id] = res
	}
	for id, res := range r.Full {
		sanitizeResult(&res)
		r.Full[id] = res
	}
}

func sanitizeSnapshot(s *BaselineSnapshot) {
	s.Aggregate.Sanitize()
	for name, d := range s.PerDataset {
		d.Metrics.Sanitize()
		s.PerDataset[name] = d
	}
}

func sanitizeBaseline(b *metrics.Baseline) {
	if b == nil {
		return
	}
	b.Aggregate.Sanitize()
	sanitizeMap(b.PerDataset)
}

func sanitizeResult(r *metrics.AggregatedResult) {
	r.Aggregate.Sanitize()
	sanitizeMap(r.PerDataset)
}

func sanitizeMap(m map[string]metrics.Metrics) {
	for name, v := range m {
		v.Sanitize()
		m[name] = v
	}
}
