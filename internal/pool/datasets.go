package pool

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hailam/chesstuner/internal/lichess"
)

// DatasetStore keeps one timestamped game archive per player.
type DatasetStore interface {
	// Write stores games and returns the handle of the new archive.
	Write(username string, fetchedAt time.Time, games []lichess.Game) (string, error)
	// Read loads the games behind handle.
	Read(handle string) ([]lichess.Game, error)
	// Remove deletes an archive that has been superseded.
	Remove(handle string) error
}

const datasetExt = ".ndjson.zst"

// FileDatasets stores archives as zstd-compressed ndjson files in one directory.
// The handle is the file path.
type FileDatasets struct {
	dir string
}

// NewFileDatasets stores archives under dir.
func NewFileDatasets(dir string) *FileDatasets {
	return &FileDatasets{dir: dir}
}

func (f *FileDatasets) Write(username string, fetchedAt time.Time, games []lichess.Game) (string, error) {
	name := fmt.Sprintf("%s-%s%s", strings.ToLower(username), fetchedAt.UTC().Format("20060102T150405Z"), datasetExt)
	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create dataset file: %w", err)
	}
	if err := writeGames(file, games); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync dataset file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil { // atomic replace
		return "", fmt.Errorf("publish dataset file: %w", err)
	}
	return path, nil
}

func writeGames(file *os.File, games []lichess.Game) error {
	enc, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	w := bufio.NewWriter(enc)
	for _, g := range games {
		if len(g.Raw) == 0 {
			continue
		}
		if _, err := w.Write(g.Raw); err != nil {
			enc.Close()
			return fmt.Errorf("write game %s: %w", g.ID, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			enc.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (f *FileDatasets) Read(handle string) ([]lichess.Game, error) {
	file, err := os.Open(handle)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", handle, err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream %s: %w", handle, err)
	}
	defer dec.Close()

	var games []lichess.Game
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		g, err := lichess.ParseGame(line)
		if err != nil {
			return nil, fmt.Errorf("decode game in %s: %w", handle, err)
		}
		games = append(games, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", handle, err)
	}
	return games, nil
}

func (f *FileDatasets) Remove(handle string) error {
	if handle == "" {
		return nil
	}
	if err := os.Remove(handle); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
