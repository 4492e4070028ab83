package tuner

import (
	"time"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/planner"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/state"
)

// Status is a read-only summary of the tuner.
type Status struct {
	Cycle          int
	Phase          state.Phase
	Players        int
	PlayersByBand  map[elo.Band]int
	Datasets       int
	Plan           *planner.Progress
	PlanStatus     state.PlanStatus
	NextExperiment string
	Proposal       string
	ProposalDir    string
	BestConfig     botconfig.Config
	LastScore      float64
	HasScore       bool
	LastCheckpoint time.Time
	Next           string
}

// Status reports where the tuner stands.
func (t *Tuner) Status() Status {
	s := Status{
		Cycle:          t.st.Cycle,
		Phase:          t.st.Phase,
		Players:        len(t.st.Players),
		PlayersByBand:  pool.BandCounts(t.st),
		Datasets:       len(pool.ActiveDatasets(t.st)),
		Proposal:       t.st.PendingProposal,
		BestConfig:     t.st.BestConfig,
		LastCheckpoint: t.st.LastCheckpoint,
		Next:           t.hint(),
	}
	if t.st.Plan != nil {
		p := planner.ProgressOf(t.st.Plan)
		s.Plan = &p
		s.PlanStatus = t.st.Plan.Status
		if e := planner.Next(t.st.Plan); e != nil {
			s.NextExperiment = e.Label
		}
	}
	if s.Proposal != "" {
		s.ProposalDir = t.deps.Proposals.Path(s.Proposal)
	}
	if rec, ok := t.st.LastBaseline(); ok {
		s.LastScore = rec.Baseline.Score
		s.HasScore = true
	}
	return s
}

// History returns the finished cycles, most recent last, and the audit log
// of every applied change.
func (t *Tuner) History() ([]state.CycleRecord, []state.AuditEntry) {
	return t.st.History, t.st.AuditLog
}
