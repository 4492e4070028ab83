package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/chesstuner/internal/state"
)

// Storage keys
const (
	keyTunerState  = "tuner_state"
	keySweepPrefix = "sweep/"
)

func sweepKey(cycle int) []byte {
	return []byte(fmt.Sprintf("%s%06d", keySweepPrefix, cycle))
}

// Storage wraps BadgerDB for the tuner state record and per-cycle sweep results.
type Storage struct {
	db *badger.DB
}

var _ state.Store = (*Storage)(nil)

// Open opens (or creates) the database in dir.
func Open(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	return &Storage{db: db}, nil
}

// OpenInMemory opens a database that lives only for the process.
func OpenInMemory() (*Storage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveState overwrites the tuner state record. The write is synchronous:
// when it returns nil the record is durable.
func (s *Storage) SaveState(st *state.TunerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode tuner state: %w", err)
	}

	if err := s.put([]byte(keyTunerState), data); err != nil {
		return fmt.Errorf("save tuner state: %w", err)
	}
	return s.sync()
}

// LoadState loads the tuner state. It returns state.ErrNoState when nothing has
// been saved and wraps state.ErrCorrupt when the record cannot be decoded.
func (s *Storage) LoadState() (*state.TunerState, error) {
	var st state.TunerState
	if err := s.get([]byte(keyTunerState), &st); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, state.ErrNoState
		}
		return nil, err
	}
	return &st, nil
}

// SaveSweep overwrites the sweep results of r.Cycle.
func (s *Storage) SaveSweep(r *state.SweepResults) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode sweep results: %w", err)
	}

	if err := s.put(sweepKey(r.Cycle), data); err != nil {
		return fmt.Errorf("save sweep results for cycle %d: %w", r.Cycle, err)
	}
	return s.sync()
}

// LoadSweep loads the sweep results of cycle, or state.ErrNoSweep.
func (s *Storage) LoadSweep(cycle int) (*state.SweepResults, error) {
	var r state.SweepResults
	if err := s.get(sweepKey(cycle), &r); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, state.ErrNoSweep
		}
		return nil, err
	}
	state.SanitizeSweep(&r)
	return &r, nil
}

func (s *Storage) put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Storage) get(key []byte, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, out); err != nil {
				return fmt.Errorf("%w: %s: %v", state.ErrCorrupt, key, err)
			}
			return nil
		})
	})
}

func (s *Storage) sync() error {
	if s.db.Opts().InMemory {
		return nil
	}
	return s.db.Sync()
}
