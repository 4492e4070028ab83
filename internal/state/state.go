// Package state holds the tuner's persistent data model. The TunerState
// aggregate is passed explicitly through every phase and persisted with an
// explicit call after each mutation.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/metrics"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 2

// DatasetMaxAge is how long a fetched dataset stays fresh.
const DatasetMaxAge = 7 * 24 * time.Hour

var (
	// ErrNoState is returned by a Store when nothing has been persisted yet.
	ErrNoState = errors.New("no persisted tuner state")
	// ErrCorrupt wraps persisted data that could not be decoded.
	ErrCorrupt = errors.New("corrupted persisted data")
	// ErrNoSweep is returned when a cycle has no stored sweep results.
	ErrNoSweep = errors.New("no sweep results for cycle")
)

// PlayerSource records how a player entered the pool.
type PlayerSource string

const (
	SourceSeed       PlayerSource = "seed"
	SourceDiscovered PlayerSource = "discovered"
)

// PlayerEntry is one sample player.
type PlayerEntry struct {
	Username    string       `json:"username"`
	Band        elo.Band     `json:"band"`
	Elo         int          `json:"elo"`
	Source      PlayerSource `json:"source"`
	AddedAt     time.Time    `json:"addedAt"`
	ValidatedAt time.Time    `json:"validatedAt,omitempty"`
}

// DatasetRef points at a cached set of games for one player.
type DatasetRef struct {
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Band      elo.Band  `json:"band"`
	Elo       int       `json:"elo"`
	Games     int       `json:"games"`
	Handle    string    `json:"handle"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Fresh reports whether the dataset is younger than DatasetMaxAge at now.
func (d DatasetRef) Fresh(now time.Time) bool {
	return now.Sub(d.FetchedAt) < DatasetMaxAge
}

// ExperimentSpec is one planned configuration change to measure.
type ExperimentSpec struct {
	ID          string             `json:"id"`
	Path        botconfig.Path     `json:"path"`
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Override    botconfig.Override `json:"override"`
	Datasets    []string           `json:"datasets"`
	PositionCap int                `json:"positionCap"`
	Seed        int64              `json:"seed"`
	Status      ExperimentStatus   `json:"status"`
	TriageScore *float64           `json:"triageScore,omitempty"`
}

// Advance moves the experiment to status to. Moving backwards or out of a
// terminal status is refused.
func (e *ExperimentSpec) Advance(to ExperimentStatus) error {
	if e.Status.Terminal() {
		return fmt.Errorf("experiment %s is already %s", e.ID, e.Status)
	}
	if to != StatusSkipped && to < e.Status {
		return fmt.Errorf("experiment %s cannot move from %s back to %s", e.ID, e.Status, to)
	}
	e.Status = to
	return nil
}

// Experiment returns the identity used when summarizing results.
func (e *ExperimentSpec) Experiment() metrics.Experiment {
	return metrics.Experiment{ID: e.ID, Path: e.Path, Description: e.Description, Override: e.Override}
}

// PlanStatus is the lifecycle of a sweep plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanComplete  PlanStatus = "complete"
	PlanDiscarded PlanStatus = "discarded"
)

// SweepPlan is the ordered set of experiments for one cycle.
type SweepPlan struct {
	Cycle         int               `json:"cycle"`
	BaseConfig    botconfig.Config  `json:"baseConfig"`
	BaselineLabel string            `json:"baselineLabel"`
	Seed          int64             `json:"seed"`
	Experiments   []*ExperimentSpec `json:"experiments"`
	Status        PlanStatus        `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// ConfigChange is one applied or proposed change to a config address.
type ConfigChange struct {
	Path       botconfig.Path  `json:"path"`
	OldValue   botconfig.Value `json:"oldValue"`
	NewValue   botconfig.Value `json:"newValue"`
	ScoreDelta float64         `json:"scoreDelta"`
	Rationale  string          `json:"rationale"`
}

// AuditEntry is one change applied to the best-known configuration.
type AuditEntry struct {
	Cycle     int          `json:"cycle"`
	AppliedAt time.Time    `json:"appliedAt"`
	Change    ConfigChange `json:"change"`
}

// DatasetBaseline is one dataset's baseline measurement within a snapshot.
type DatasetBaseline struct {
	Band    elo.Band        `json:"band"`
	Elo     int             `json:"elo"`
	Metrics metrics.Metrics `json:"metrics"`
}

// BaselineSnapshot freezes a cycle's baseline for later regression checks.
type BaselineSnapshot struct {
	Mode       metrics.Mode               `json:"mode"`
	Score      float64                    `json:"score"`
	Aggregate  metrics.Metrics            `json:"aggregate"`
	PerDataset map[string]DatasetBaseline `json:"perDataset"`
}

// Valid reports whether the snapshot holds a real measurement.
func (s BaselineSnapshot) Valid() bool {
	return s.Aggregate.TotalPositions > 0
}

// DatasetNames returns the datasets in the snapshot, sorted.
func (s BaselineSnapshot) DatasetNames() []string {
	names := make([]string, 0, len(s.PerDataset))
	for n := range s.PerDataset {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot freezes baseline b, annotating each dataset with its band and Elo.
func Snapshot(b *metrics.Baseline, datasets []DatasetRef) BaselineSnapshot {
	if b == nil {
		return BaselineSnapshot{}
	}
	byName := make(map[string]DatasetRef, len(datasets))
	for _, d := range datasets {
		byName[d.Name] = d
	}
	per := make(map[string]DatasetBaseline, len(b.PerDataset))
	for name, m := range b.PerDataset {
		ref := byName[name]
		per[name] = DatasetBaseline{Band: ref.Band, Elo: ref.Elo, Metrics: m}
	}
	return BaselineSnapshot{Mode: b.Mode, Score: b.Score, Aggregate: b.Aggregate, PerDataset: per}
}

// CycleRecord is the outcome of one finished cycle.
type CycleRecord struct {
	Cycle          int              `json:"cycle"`
	Timestamp      time.Time        `json:"timestamp"`
	Datasets       []string         `json:"datasets"`
	ExperimentsRun int              `json:"experimentsRun"`
	BestDelta      float64          `json:"bestDelta"`
	Accepted       bool             `json:"accepted"`
	Changes        []ConfigChange   `json:"changes"`
	Baseline       BaselineSnapshot `json:"baseline"`
	ProposalID     string           `json:"proposalId,omitempty"`
}

// Proposal is the reviewed output of the analyze phase.
type Proposal struct {
	ID              string                     `json:"id"`
	Cycle           int                        `json:"cycle"`
	CreatedAt       time.Time                  `json:"createdAt"`
	BaselineScore   float64                    `json:"baselineScore"`
	Baseline        BaselineSnapshot           `json:"baseline"`
	Experiments     []metrics.AggregatedResult `json:"experiments"`
	ExperimentsRun  int                        `json:"experimentsRun"`
	ProposedConfig  botconfig.Override         `json:"proposedConfig"`
	Changes         []ConfigChange             `json:"changes"`
	Summary         string                     `json:"summary"`
	CodeSuggestions []string                   `json:"codeSuggestions"`
	NextPriorities  []string                   `json:"nextPriorities"`
	Warnings        []string                   `json:"warnings"`
	AdvisoryUsed    bool                       `json:"advisoryUsed"`
}

// TunerState is the single persisted aggregate.
type TunerState struct {
	Version         int              `json:"version"`
	Cycle           int              `json:"cycle"`
	Phase           Phase            `json:"phase"`
	Players         []PlayerEntry    `json:"players"`
	Datasets        []DatasetRef     `json:"datasets"`
	Plan            *SweepPlan       `json:"plan"`
	BestConfig      botconfig.Config `json:"bestConfig"`
	History         []CycleRecord    `json:"history"`
	AuditLog        []AuditEntry     `json:"auditLog"`
	PendingProposal string           `json:"pendingProposal,omitempty"`
	LastCheckpoint  time.Time        `json:"lastCheckpoint"`
	// Rejected lists usernames removed after failing validation; they are
	// neither seeded nor discovered again.
	Rejected []string `json:"rejectedPlayers,omitempty"`
}

// New returns a fresh state at cycle 1 holding best as the known-good config.
func New(best botconfig.Config) *TunerState {
	return &TunerState{
		Version:    CurrentVersion,
		Cycle:      1,
		Phase:      PhaseIdle,
		Players:    []PlayerEntry{},
		Datasets:   []DatasetRef{},
		BestConfig: best,
		History:    []CycleRecord{},
		AuditLog:   []AuditEntry{},
	}
}

// Player returns the pool entry for username. Lichess usernames are case
// insensitive.
func (s *TunerState) Player(username string) (*PlayerEntry, bool) {
	for i := range s.Players {
		if strings.EqualFold(s.Players[i].Username, username) {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// WasRejected reports whether username was removed for failing validation.
func (s *TunerState) WasRejected(username string) bool {
	for _, name := range s.Rejected {
		if strings.EqualFold(name, username) {
			return true
		}
	}
	return false
}

// Dataset returns the dataset reference named name.
func (s *TunerState) Dataset(name string) (*DatasetRef, bool) {
	for i := range s.Datasets {
		if s.Datasets[i].Name == name {
			return &s.Datasets[i], true
		}
	}
	return nil, false
}

// LastBaseline returns the most recent valid baseline in the history.
func (s *TunerState) LastBaseline() (CycleRecord, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Baseline.Valid() {
			return s.History[i], true
		}
	}
	return CycleRecord{}, false
}

// SweepResults holds every measurement of one cycle's sweep. It is persisted
// as its own record so the tuner state stays small.
type SweepResults struct {
	Cycle          int                                 `json:"cycle"`
	TriageBaseline *metrics.Baseline                   `json:"triageBaseline,omitempty"`
	FullBaseline   *metrics.Baseline                   `json:"fullBaseline,omitempty"`
	Triage         map[string]metrics.AggregatedResult `json:"triage"`
	Full           map[string]metrics.AggregatedResult `json:"full"`
}

// NewSweepResults returns an empty record for cycle.
func NewSweepResults(cycle int) *SweepResults {
	return &SweepResults{
		Cycle:  cycle,
		Triage: map[string]metrics.AggregatedResult{},
		Full:   map[string]metrics.AggregatedResult{},
	}
}

// RankedFull returns the full-fidelity results, best delta first.
func (r *SweepResults) RankedFull() []metrics.AggregatedResult {
	return rankMap(r.Full)
}

// RankedTriage returns the triage results, best delta first.
func (r *SweepResults) RankedTriage() []metrics.AggregatedResult {
	return rankMap(r.Triage)
}

func rankMap(m map[string]metrics.AggregatedResult) []metrics.AggregatedResult {
	list := make([]metrics.AggregatedResult, 0, len(m))
	for _, res := range m {
		list = append(list, res)
	}
	return metrics.Rank(list)
}

// Store persists the tuner state and per-cycle sweep results.
type Store interface {
	LoadState() (*TunerState, error)
	SaveState(st *TunerState) error
	LoadSweep(cycle int) (*SweepResults, error)
	SaveSweep(r *SweepResults) error
}
