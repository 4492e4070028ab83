// Package cli is the operator surface of the tuner. Every command maps to one
// phase transition or to a read-only report.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/advisory"
	"github.com/hailam/chesstuner/internal/config"
	"github.com/hailam/chesstuner/internal/lichess"
	"github.com/hailam/chesstuner/internal/planner"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/proposal"
	"github.com/hailam/chesstuner/internal/runner"
	"github.com/hailam/chesstuner/internal/storage"
	"github.com/hailam/chesstuner/internal/telemetry"
	"github.com/hailam/chesstuner/internal/tuner"
)

// app holds what the persistent flags resolve to.
type app struct {
	configPath  string
	dataDir     string
	verbose     bool
	metricsFile string

	cfg        *config.Config
	configFile string
	layout     storage.Layout
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chesstuner",
		Short: "Tune a human-like chess move selector against real players",
		Long: `chesstuner measures how closely the move selector imitates real players,
sweeps one configuration change at a time, and writes a proposal for review.

A cycle runs gather -> sweep -> analyze and then waits until the proposal is
accepted or rejected. Each phase checkpoints its progress, so an interrupted
command can simply be run again.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.metrics.WriteTextfile(a.metricsFile); err != nil {
				a.logger.Warn("Could not write metrics file", zap.String("path", a.metricsFile), zap.Error(err))
			}
			_ = a.logger.Sync()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: <data-dir>/"+config.FileName+")")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (default: platform data directory)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write prometheus metrics to this textfile after each command")

	root.AddCommand(
		a.phaseCommand("start", "Run the cycle until a proposal is waiting for review", (*tuner.Tuner).Start),
		a.phaseCommand("gather", "Validate the player pool and refresh datasets", (*tuner.Tuner).Gather),
		a.phaseCommand("sweep", "Measure every planned configuration variant", (*tuner.Tuner).Sweep),
		a.phaseCommand("analyze", "Check for regressions and write the proposal", (*tuner.Tuner).Analyze),
		a.phaseCommand("accept", "Apply the waiting proposal and close the cycle", (*tuner.Tuner).Accept),
		a.phaseCommand("reject", "Archive the waiting proposal and close the cycle", (*tuner.Tuner).Reject),
		a.statusCommand(),
		a.historyCommand(),
		a.initCommand(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	path := a.configPath
	if path == "" {
		dir := a.dataDir
		if dir == "" {
			var err error
			if dir, err = storage.GetDataDir(); err != nil {
				return fmt.Errorf("resolve data directory: %w", err)
			}
		}
		path = filepath.Join(dir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	a.cfg = cfg
	a.configFile = path

	logger, err := config.NewLogger(cfg.Logging, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger

	layout, err := storage.NewLayout(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	a.layout = layout
	a.metrics = telemetry.New()
	logger.Debug("Configuration loaded", zap.String("config", path), zap.String("data_dir", layout.Root))
	return nil
}

// open wires the tuner over the data directory. The returned function closes
// the state database.
func (a *app) open(ctx context.Context) (*tuner.Tuner, func(), error) {
	initial, err := a.cfg.InitialConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(a.layout.Database)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("Closing state database failed", zap.Error(err))
		}
	}

	client := lichess.NewClient(lichess.Options{
		BaseURL: a.cfg.Lichess.BaseURL,
		Token:   a.cfg.Lichess.Token,
		Delay:   a.cfg.LichessDelay(),
		Timeout: a.cfg.LichessTimeout(),
		Logger:  a.logger.Named("lichess"),
		Metrics: a.metrics,
	})
	players := pool.NewManager(client, pool.NewFileDatasets(a.layout.Datasets), pool.Options{
		Bands:               a.cfg.Pool.Bands,
		SeedPlayers:         a.cfg.SeedPlayers(),
		GamesPerPlayer:      a.cfg.Pool.GamesPerPlayer,
		MinGames:            a.cfg.Pool.MinGames,
		Speeds:              a.cfg.Pool.Speeds,
		MaxDiscoveryPerBand: a.cfg.Pool.MaxDiscoveryPerBand,
	}, a.logger.Named("pool"))

	completer, err := advisory.New(ctx, advisory.Options{
		Provider: a.cfg.Advisory.Provider,
		Model:    a.cfg.Advisory.Model,
		APIKey:   a.cfg.Advisory.APIKey,
		BaseURL:  a.cfg.Advisory.BaseURL,
		Timeout:  a.cfg.AdvisoryTimeout(),
	}, a.logger.Named("advisory"))
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	proposals := proposal.NewStore(a.layout.Proposals)

	t, err := tuner.New(tuner.Deps{
		Store: db,
		Pool:  players,
		Testers: &runner.ProcessFactory{
			Command:      a.cfg.Tester.Command,
			Args:         a.cfg.Tester.Args,
			Dir:          a.cfg.Tester.Dir,
			StartTimeout: a.cfg.TesterStartTimeout(),
			Logger:       a.logger,
		},
		Synth:     proposal.NewSynthesizer(completer, proposals, a.logger.Named("proposal"), a.metrics),
		Proposals: proposals,
	}, tuner.Options{
		Initial: initial,
		Planner: planner.Options{
			MaxExperiments:  a.cfg.Sweep.MaxExperiments,
			TriagePositions: a.cfg.Sweep.TriagePositions,
			BaseSeed:        a.cfg.Sweep.BaseSeed,
		},
		PromoteTop:    a.cfg.Sweep.PromoteTop,
		FullPositions: a.cfg.Sweep.FullPositions,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return t, closeDB, nil
}

func (a *app) phaseCommand(use, short string, run func(*tuner.Tuner, context.Context) (tuner.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			out, err := run(t, cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out.Ignored {
				fmt.Fprintf(w, "Nothing done: %s\n", out.Message)
				return nil
			}
			fmt.Fprintf(w, "%s\nPhase: %s\n", out.Message, out.Phase)
			return nil
		},
	}
}
