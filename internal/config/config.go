// Package config loads the tuner's application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
)

// FileName is the config file looked up in the data directory.
const FileName = "chesstuner.yaml"

// Config holds all tuner configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Lichess  LichessConfig  `yaml:"lichess"`
	Pool     PoolConfig     `yaml:"pool"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Tester   TesterConfig   `yaml:"tester"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	Logging  LoggingConfig  `yaml:"logging"`

	// InitialBot is layered over the built-in defaults when no state exists yet.
	InitialBot botconfig.Override `yaml:"initial_bot,omitempty"`
}

// LichessConfig configures the player-data API.
type LichessConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
	// Delay is the fixed wait between two API calls.
	Delay   string `yaml:"delay"`
	Timeout string `yaml:"timeout"`
}

// PoolConfig configures the player pool.
type PoolConfig struct {
	Bands               []elo.BandConfig    `yaml:"bands"`
	Seeds               map[string][]string `yaml:"seeds"`
	GamesPerPlayer      int                 `yaml:"games_per_player"`
	MinGames            int                 `yaml:"min_games"`
	Speeds              []string            `yaml:"speeds"`
	MaxDiscoveryPerBand int                 `yaml:"max_discovery_per_band"`
}

// SweepConfig bounds one sweep.
type SweepConfig struct {
	MaxExperiments  int   `yaml:"max_experiments"`
	TriagePositions int   `yaml:"triage_positions"`
	FullPositions   int   `yaml:"full_positions"`
	PromoteTop      int   `yaml:"promote_top"`
	BaseSeed        int64 `yaml:"base_seed"`
}

// TesterConfig locates the accuracy tester program.
type TesterConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	Dir          string   `yaml:"dir"`
	StartTimeout string   `yaml:"start_timeout"`
}

// AdvisoryConfig selects the advisory model.
type AdvisoryConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	Timeout  string `yaml:"timeout"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Lichess: LichessConfig{
			BaseURL: "https://lichess.org",
			Delay:   "1s",
			Timeout: "60s",
		},
		Pool: PoolConfig{
			Bands:               elo.DefaultBands(),
			Seeds:               map[string][]string{},
			GamesPerPlayer:      100,
			MinGames:            20,
			Speeds:              []string{"blitz", "rapid", "classical"},
			MaxDiscoveryPerBand: 10,
		},
		Sweep: SweepConfig{
			MaxExperiments:  24,
			TriagePositions: 60,
			PromoteTop:      6,
			BaseSeed:        20240601,
		},
		Tester: TesterConfig{
			StartTimeout: "2m",
		},
		Advisory: AdvisoryConfig{
			Provider: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment variables override secrets from the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnvOverrides() {
	if tok := os.Getenv("LICHESS_TOKEN"); tok != "" {
		c.Lichess.Token = tok
	}
	switch strings.ToLower(c.Advisory.Provider) {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Advisory.APIKey = key
		}
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.Advisory.APIKey = key
		}
	}
	if cmd := os.Getenv("CHESSTUNER_TESTER"); cmd != "" {
		c.Tester.Command = cmd
	}
}

// Validate checks values that would otherwise fail deep inside a phase.
func (c *Config) Validate() error {
	for _, d := range []struct{ name, value string }{
		{"lichess.delay", c.Lichess.Delay},
		{"lichess.timeout", c.Lichess.Timeout},
		{"tester.start_timeout", c.Tester.StartTimeout},
		{"advisory.timeout", c.Advisory.Timeout},
	} {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	for name := range c.Pool.Seeds {
		band, err := elo.ParseBand(name)
		if err != nil {
			return fmt.Errorf("pool.seeds: %w", err)
		}
		if _, ok := elo.Lookup(c.Pool.Bands, band); !ok {
			return fmt.Errorf("pool.seeds: band %s is not listed in pool.bands", band)
		}
	}
	for _, b := range c.Pool.Bands {
		if b.MinElo > b.MaxElo {
			return fmt.Errorf("pool.bands: %s has min_elo above max_elo", b.Band)
		}
	}
	if _, err := c.InitialConfig(); err != nil {
		return fmt.Errorf("initial_bot: %w", err)
	}
	return nil
}

// InitialConfig returns the configuration a fresh tuner starts from.
func (c *Config) InitialConfig() (botconfig.Config, error) {
	cfg := botconfig.Merge(botconfig.Default(), c.InitialBot)
	return cfg, cfg.Validate()
}

// SeedPlayers returns the seeds keyed by band.
func (c *Config) SeedPlayers() map[elo.Band][]string {
	out := make(map[elo.Band][]string, len(c.Pool.Seeds))
	for name, players := range c.Pool.Seeds {
		if b, err := elo.ParseBand(name); err == nil {
			out[b] = append(out[b], players...)
		}
	}
	return out
}

// LichessDelay returns the parsed inter-call delay.
func (c *Config) LichessDelay() time.Duration { return mustDuration(c.Lichess.Delay) }

// LichessTimeout returns the parsed HTTP timeout.
func (c *Config) LichessTimeout() time.Duration { return mustDuration(c.Lichess.Timeout) }

// TesterStartTimeout returns the parsed handshake timeout.
func (c *Config) TesterStartTimeout() time.Duration { return mustDuration(c.Tester.StartTimeout) }

// AdvisoryTimeout returns the parsed completion timeout. Zero means none.
func (c *Config) AdvisoryTimeout() time.Duration { return mustDuration(c.Advisory.Timeout) }

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is only used on values Validate accepted.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// NewLogger builds the production zap logger, at debug level when verbose.
func NewLogger(c LoggingConfig, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if c.Level != "" {
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if c.File != "" {
		config.OutputPaths = []string{c.File}
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
