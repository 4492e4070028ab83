// Package storage provides persistent storage for the tuner state and sweep
// results, plus the on-disk layout of the data directory.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "chesstuner"

// DataDirEnv overrides the platform data directory.
const DataDirEnv = "CHESSTUNER_DATA_DIR"

// GetDataDir resolves and creates the data directory: $CHESSTUNER_DATA_DIR
// when set, otherwise chesstuner/ under the platform data home
// (~/Library/Application Support on macOS, %APPDATA% on Windows,
// $XDG_DATA_HOME or ~/.local/share elsewhere).
func GetDataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return ensureDir(dir)
	}
	home, err := dataHome(runtime.GOOS, os.Getenv, os.UserHomeDir)
	if err != nil {
		return "", fmt.Errorf("locate data home: %w", err)
	}
	return ensureDir(filepath.Join(home, appName))
}

func dataHome(goos string, getenv func(string) string, userHome func() (string, error)) (string, error) {
	envVar, under := "XDG_DATA_HOME", []string{".local", "share"}
	switch goos {
	case "darwin":
		envVar, under = "", []string{"Library", "Application Support"}
	case "windows":
		envVar, under = "APPDATA", []string{"AppData", "Roaming"}
	}
	if envVar != "" {
		if dir := getenv(envVar); dir != "" {
			return dir, nil
		}
	}
	home, err := userHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{home}, under...)...), nil
}

// Layout names the directories under a data root.
type Layout struct {
	Root      string
	Database  string
	Datasets  string
	Proposals string
}

// NewLayout creates the directory tree under root. An empty root resolves to
// GetDataDir.
func NewLayout(root string) (Layout, error) {
	if root == "" {
		dir, err := GetDataDir()
		if err != nil {
			return Layout{}, err
		}
		root = dir
	}

	l := Layout{
		Root:      root,
		Database:  filepath.Join(root, "db"),
		Datasets:  filepath.Join(root, "datasets"),
		Proposals: filepath.Join(root, "proposals"),
	}
	for _, dir := range []string{l.Root, l.Database, l.Datasets, l.Proposals} {
		if _, err := ensureDir(dir); err != nil {
			return Layout{}, err
		}
	}
	return l, nil
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
