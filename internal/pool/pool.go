// Package pool maintains the Elo-stratified roster of sample players and their
// cached game datasets.
package pool

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/lichess"
	"github.com/hailam/chesstuner/internal/state"
)

// PlayerSource is the player-data collaborator.
type PlayerSource interface {
	FetchUser(ctx context.Context, username string) (lichess.User, error)
	FetchGames(ctx context.Context, username string, max int, speeds []string) ([]lichess.Game, error)
}

// Checkpoint persists the state after one unit of work.
type Checkpoint func() error

// Options configures a Manager.
type Options struct {
	Bands          []elo.BandConfig
	SeedPlayers    map[elo.Band][]string
	GamesPerPlayer int
	// MinGames is the smallest archive worth keeping.
	MinGames int
	Speeds   []string
	// MaxDiscoveryPerBand caps profile lookups spent on one band per gather.
	MaxDiscoveryPerBand int
}

// Report summarizes one gather phase.
type Report struct {
	Seeded     int
	Validated  int
	Removed    int
	Discovered int
	Fetched    int
	Reused     int
	Failed     int
}

// Manager runs the gather phase.
type Manager struct {
	source   PlayerSource
	users    *lichess.CachedUsers
	datasets DatasetStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates a manager over source and datasets.
func NewManager(source PlayerSource, datasets DatasetStore, opts Options, logger *zap.Logger) *Manager {
	if len(opts.Bands) == 0 {
		opts.Bands = elo.DefaultBands()
	}
	if opts.GamesPerPlayer <= 0 {
		opts.GamesPerPlayer = 100
	}
	if opts.MinGames <= 0 {
		opts.MinGames = 10
	}
	if len(opts.Speeds) == 0 {
		opts.Speeds = []string{"blitz", "rapid", "classical"}
	}
	if opts.MaxDiscoveryPerBand <= 0 {
		opts.MaxDiscoveryPerBand = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		source:   source,
		users:    lichess.NewCachedUsers(source, 10000),
		datasets: datasets,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Gather seeds, revalidates and tops up the pool and refreshes stale datasets.
// Per-player failures are logged and skipped; save runs after every mutation.
func (m *Manager) Gather(ctx context.Context, st *state.TunerState, save Checkpoint) (Report, error) {
	var rep Report

	if n := m.seed(st); n > 0 {
		rep.Seeded = n
		if err := save(); err != nil {
			return rep, err
		}
	}
	if err := m.revalidate(ctx, st, save, &rep); err != nil {
		return rep, err
	}
	if err := m.refreshDatasets(ctx, st, save, &rep); err != nil {
		return rep, err
	}
	if err := m.discover(ctx, st, save, &rep); err != nil {
		return rep, err
	}

	m.logger.Info("Gather complete",
		zap.Int("players", len(st.Players)),
		zap.Int("datasets", len(st.Datasets)),
		zap.Int("seeded", rep.Seeded),
		zap.Int("removed", rep.Removed),
		zap.Int("discovered", rep.Discovered),
		zap.Int("fetched", rep.Fetched),
		zap.Int("reused", rep.Reused),
		zap.Int("failed", rep.Failed),
		zap.Float64("profile_cache_hit_pct", m.users.HitRate()))
	return rep, nil
}

func (m *Manager) seed(st *state.TunerState) int {
	added := 0
	for _, b := range elo.All() {
		for _, name := range m.opts.SeedPlayers[b] {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := st.Player(name); ok || st.WasRejected(name) {
				continue
			}
			st.Players = append(st.Players, state.PlayerEntry{
				Username: name,
				Band:     b,
				Source:   state.SourceSeed,
				AddedAt:  m.now(),
			})
			added++
		}
	}
	return added
}

func (m *Manager) revalidate(ctx context.Context, st *state.TunerState, save Checkpoint, rep *Report) error {
	names := make([]string, 0, len(st.Players))
	for _, p := range st.Players {
		if !p.ValidatedAt.IsZero() && m.now().Sub(p.ValidatedAt) < state.DatasetMaxAge {
			continue
		}
		names = append(names, p.Username)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		// a profile seen earlier in this process may predate the rating change
		m.users.Forget(name)
		rating, band, err := m.validate(ctx, name)
		switch {
		case errors.Is(err, lichess.ErrNotFound), errors.Is(err, errInvalidRating):
			m.logger.Info("Removing player that failed validation", zap.String("user", name), zap.Error(err))
			m.remove(st, name)
			if !st.WasRejected(name) {
				st.Rejected = append(st.Rejected, name)
			}
			rep.Removed++
		case err != nil:
			m.logger.Warn("Skipping validation", zap.String("user", name), zap.Error(err))
			rep.Failed++
			continue
		default:
			p, _ := st.Player(name)
			if p.Band != band {
				m.logger.Info("Player moved band", zap.String("user", name),
					zap.Stringer("from", p.Band), zap.Stringer("to", band), zap.Int("elo", rating))
			}
			p.Elo = rating
			p.Band = band
			p.ValidatedAt = m.now()
			if ref, ok := st.Dataset(datasetName(name)); ok {
				ref.Elo = rating
				ref.Band = band
			}
			rep.Validated++
		}
		if err := save(); err != nil {
			return err
		}
	}
	return nil
}

var errInvalidRating = errors.New("no established rating inside any band")

func (m *Manager) validate(ctx context.Context, name string) (int, elo.Band, error) {
	u, err := m.users.FetchUser(ctx, name)
	if err != nil {
		return 0, 0, err
	}
	rating := u.EstimateElo(m.opts.Speeds)
	if rating == 0 {
		return 0, 0, errInvalidRating
	}
	band, ok := elo.Classify(m.opts.Bands, rating)
	if !ok {
		return 0, 0, errInvalidRating
	}
	return rating, band, nil
}

func (m *Manager) remove(st *state.TunerState, name string) {
	players := st.Players[:0]
	for _, p := range st.Players {
		if !strings.EqualFold(p.Username, name) {
			players = append(players, p)
		}
	}
	st.Players = players

	datasets := st.Datasets[:0]
	for _, d := range st.Datasets {
		if strings.EqualFold(d.Username, name) {
			if err := m.datasets.Remove(d.Handle); err != nil {
				m.logger.Warn("Failed to remove dataset file", zap.String("handle", d.Handle), zap.Error(err))
			}
			continue
		}
		datasets = append(datasets, d)
	}
	st.Datasets = datasets
}

func (m *Manager) refreshDatasets(ctx context.Context, st *state.TunerState, save Checkpoint, rep *Report) error {
	names := make([]string, 0, len(st.Players))
	for _, p := range st.Players {
		names = append(names, p.Username)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetched, err := m.refreshOne(ctx, st, name)
		if err != nil {
			m.logger.Warn("Skipping dataset fetch", zap.String("user", name), zap.Error(err))
			rep.Failed++
			continue
		}
		if !fetched {
			rep.Reused++
			continue
		}
		rep.Fetched++
		if err := save(); err != nil {
			return err
		}
	}
	return nil
}

// refreshOne fetches name's games unless a fresh dataset exists.
func (m *Manager) refreshOne(ctx context.Context, st *state.TunerState, name string) (bool, error) {
	p, ok := st.Player(name)
	if !ok {
		return false, nil
	}
	dsName := datasetName(name)
	if ref, ok := st.Dataset(dsName); ok && ref.Fresh(m.now()) {
		return false, nil
	}

	games, err := m.source.FetchGames(ctx, name, m.opts.GamesPerPlayer, m.opts.Speeds)
	if err != nil {
		return false, err
	}
	if len(games) < m.opts.MinGames {
		return false, errTooFewGames
	}

	fetchedAt := m.now()
	handle, err := m.datasets.Write(name, fetchedAt, games)
	if err != nil {
		return false, err
	}

	ref := state.DatasetRef{
		Name:      dsName,
		Username:  name,
		Band:      p.Band,
		Elo:       p.Elo,
		Games:     len(games),
		Handle:    handle,
		FetchedAt: fetchedAt,
	}
	if existing, ok := st.Dataset(dsName); ok {
		if existing.Handle != handle {
			if err := m.datasets.Remove(existing.Handle); err != nil {
				m.logger.Warn("Failed to remove stale dataset", zap.String("handle", existing.Handle), zap.Error(err))
			}
		}
		*existing = ref
	} else {
		st.Datasets = append(st.Datasets, ref)
	}
	m.logger.Debug("Dataset fetched", zap.String("user", name), zap.Int("games", len(games)))
	return true, nil
}

var errTooFewGames = errors.New("too few games for a dataset")

type candidate struct {
	name   string
	rating int
	seen   int
}

func (m *Manager) discover(ctx context.Context, st *state.TunerState, save Checkpoint, rep *Report) error {
	var opponents []candidate
	loaded := false

	for _, cfg := range m.opts.Bands {
		if bandCount(st, cfg.Band) >= cfg.Target {
			continue
		}
		if !loaded {
			opponents = m.opponents(st)
			loaded = true
		}

		tried := 0
		for _, c := range opponents {
			if bandCount(st, cfg.Band) >= cfg.Target || tried >= m.opts.MaxDiscoveryPerBand {
				break
			}
			if !cfg.Contains(c.rating) {
				continue
			}
			if _, ok := st.Player(c.name); ok || st.WasRejected(c.name) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			tried++

			rating, band, err := m.validate(ctx, c.name)
			if err != nil || band != cfg.Band {
				m.logger.Debug("Discovery candidate rejected", zap.String("user", c.name), zap.Error(err))
				continue
			}
			st.Players = append(st.Players, state.PlayerEntry{
				Username:    c.name,
				Band:        band,
				Elo:         rating,
				Source:      state.SourceDiscovered,
				AddedAt:     m.now(),
				ValidatedAt: m.now(),
			})
			rep.Discovered++
			m.logger.Info("Discovered player", zap.String("user", c.name), zap.Stringer("band", band), zap.Int("elo", rating))

			fetched, err := m.refreshOne(ctx, st, c.name)
			switch {
			case err != nil:
				m.logger.Warn("Skipping dataset fetch for discovered player", zap.String("user", c.name), zap.Error(err))
				rep.Failed++
			case fetched:
				rep.Fetched++
			default:
				rep.Reused++
			}
			if err := save(); err != nil {
				return err
			}
		}
	}
	return nil
}

// opponents lists the opponents seen in cached datasets, most frequent first.
func (m *Manager) opponents(st *state.TunerState) []candidate {
	byName := map[string]*candidate{}
	for _, d := range st.Datasets {
		games, err := m.datasets.Read(d.Handle)
		if err != nil {
			m.logger.Warn("Cannot read dataset for discovery", zap.String("dataset", d.Name), zap.Error(err))
			continue
		}
		for _, g := range games {
			name, rating, ok := g.Opponent(d.Username)
			if !ok {
				continue
			}
			key := strings.ToLower(name)
			c, exists := byName[key]
			if !exists {
				c = &candidate{name: name}
				byName[key] = c
			}
			c.rating = rating
			c.seen++
		}
	}

	out := make([]candidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].seen != out[j].seen {
			return out[i].seen > out[j].seen
		}
		return out[i].name < out[j].name
	})
	return out
}

func bandCount(st *state.TunerState, b elo.Band) int {
	n := 0
	for _, p := range st.Players {
		if p.Band == b {
			n++
		}
	}
	return n
}

func datasetName(username string) string {
	return strings.ToLower(username)
}

// ActiveDatasets returns the datasets of players still in the pool, ordered
// by Elo and then name.
func ActiveDatasets(st *state.TunerState) []state.DatasetRef {
	out := make([]state.DatasetRef, 0, len(st.Datasets))
	for _, d := range st.Datasets {
		if _, ok := st.Player(d.Username); ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Elo != out[j].Elo {
			return out[i].Elo < out[j].Elo
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BandCounts returns how many players each band holds.
func BandCounts(st *state.TunerState) map[elo.Band]int {
	out := make(map[elo.Band]int, elo.NumBands)
	for _, p := range st.Players {
		out[p.Band]++
	}
	return out
}
