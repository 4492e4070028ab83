package state

import "fmt"

// Phase is the position of the tuner in its cycle. Phases are totally ordered
// and a crashed run resumes from the persisted phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGather
	PhaseSweep
	PhaseAnalyze
	PhaseWaiting
)

var phaseNames = [...]string{"idle", "gather", "sweep", "analyze", "waiting"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Valid reports whether p is a defined phase.
func (p Phase) Valid() bool {
	return p >= PhaseIdle && p <= PhaseWaiting
}

// Next returns the phase that follows p in a cycle. Waiting has no automatic
// successor; it only leaves through accept or reject.
func (p Phase) Next() Phase {
	if p >= PhaseWaiting {
		return PhaseWaiting
	}
	return p + 1
}

func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ExperimentStatus tracks one experiment through triage and full validation.
// Statuses only move forward: pending < triage < promoted < running < complete,
// and skipped is terminal.
type ExperimentStatus int

const (
	StatusPending ExperimentStatus = iota
	StatusTriage
	StatusPromoted
	StatusRunning
	StatusComplete
	StatusSkipped
)

var statusNames = [...]string{"pending", "triage", "promoted", "running", "complete", "skipped"}

func (s ExperimentStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further work is needed.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusComplete || s == StatusSkipped
}

func (s ExperimentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ExperimentStatus) UnmarshalText(text []byte) error {
	for i, n := range statusNames {
		if n == string(text) {
			*s = ExperimentStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown experiment status %q", text)
}
