package proposal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hailam/chesstuner/internal/state"
)

// ErrNotFound means no proposal directory has the requested name.
var ErrNotFound = errors.New("proposal not found")

const (
	proposalFile   = "proposal.json"
	contextFile    = "context.md"
	responseFile   = "response.md"
	rejectedPrefix = "rejected-"
)

// Store keeps one directory per proposal. Directories are never overwritten;
// rejected ones are renamed with a prefix.
type Store struct {
	dir string
}

// NewStore keeps proposals under dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes p with its context document and the raw advisory answer into a
// fresh directory and returns the directory name.
func (s *Store) Save(p *state.Proposal, contextDoc, response string) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	name, err := s.create(fmt.Sprintf("cycle-%04d", p.Cycle))
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode proposal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, proposalFile), data, 0644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, contextFile), []byte(contextDoc), 0644); err != nil {
		return "", err
	}
	if response != "" {
		if err := os.WriteFile(filepath.Join(dir, responseFile), []byte(response), 0644); err != nil {
			return "", err
		}
	}
	return name, nil
}

// create makes the first free directory among base, base-2, base-3...
// A name taken by a rejected proposal counts as used.
func (s *Store) create(base string) (string, error) {
	for i := 1; ; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		if _, err := os.Stat(filepath.Join(s.dir, rejectedPrefix+name)); err == nil {
			continue
		}
		err := os.Mkdir(filepath.Join(s.dir, name), 0755)
		if err == nil {
			return name, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create proposal directory: %w", err)
		}
	}
}

// Load reads the proposal saved under name, looking at the archived name too.
func (s *Store) Load(name string) (*state.Proposal, error) {
	for _, candidate := range []string{name, rejectedPrefix + name} {
		data, err := os.ReadFile(filepath.Join(s.dir, candidate, proposalFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var p state.Proposal
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode proposal %s: %w", candidate, err)
		}
		for i := range p.Experiments {
			p.Experiments[i].Aggregate.Sanitize()
		}
		return &p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Archive renames the proposal directory to its rejected form.
func (s *Store) Archive(name string) error {
	from := filepath.Join(s.dir, name)
	if _, err := os.Stat(from); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return os.Rename(from, filepath.Join(s.dir, rejectedPrefix+name))
}

// Path returns the directory of the proposal called name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}
