package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/state"
	"github.com/hailam/chesstuner/internal/tuner"
)

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cycle, phase, pool and sweep progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			return printStatus(cmd.OutOrStdout(), t.Status())
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished cycles and every applied change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			cycles, audit := t.History()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Cycles []state.CycleRecord `json:"cycles"`
					Audit  []state.AuditEntry  `json:"audit"`
				}{cycles, audit})
			}
			return printHistory(cmd.OutOrStdout(), cycles, audit)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw records as JSON")
	return cmd
}

func printStatus(w io.Writer, s tuner.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Cycle:\t%d\n", s.Cycle)
	fmt.Fprintf(tw, "Phase:\t%s\n", s.Phase)
	fmt.Fprintf(tw, "Players:\t%d\n", s.Players)
	for _, b := range elo.All() {
		fmt.Fprintf(tw, "  %s:\t%d\n", b, s.PlayersByBand[b])
	}
	fmt.Fprintf(tw, "Datasets:\t%d\n", s.Datasets)
	if s.Plan != nil {
		fmt.Fprintf(tw, "Plan:\t%s, %s\n", s.PlanStatus, s.Plan)
		if s.NextExperiment != "" {
			fmt.Fprintf(tw, "Next experiment:\t%s\n", s.NextExperiment)
		}
	}
	if s.HasScore {
		fmt.Fprintf(tw, "Last baseline score:\t%.4f\n", s.LastScore)
	}
	if s.Proposal != "" {
		fmt.Fprintf(tw, "Proposal:\t%s\n", s.ProposalDir)
	}
	if !s.LastCheckpoint.IsZero() {
		fmt.Fprintf(tw, "Last checkpoint:\t%s\n", s.LastCheckpoint.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Next:\t%s\n", s.Next)
	if err := tw.Flush(); err != nil {
		return err
	}

	cfg, err := yaml.Marshal(s.BestConfig)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\nBest configuration:\n%s", cfg)
	return err
}

func printHistory(w io.Writer, cycles []state.CycleRecord, audit []state.AuditEntry) error {
	if len(cycles) == 0 {
		_, err := fmt.Fprintln(w, "No finished cycles yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tDATE\tRESULT\tEXPERIMENTS\tBEST DELTA\tSCORE\tCHANGES")
	for _, c := range cycles {
		result := "rejected"
		if c.Accepted {
			result = "accepted"
		}
		score := "-"
		if c.Baseline.Valid() {
			score = fmt.Sprintf("%.4f", c.Baseline.Score)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%+.4f\t%s\t%d\n",
			c.Cycle, c.Timestamp.Format("2006-01-02"), result, c.ExperimentsRun, c.BestDelta, score, len(c.Changes))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(audit) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nApplied changes:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tPATH\tFROM\tTO\tDELTA\tRATIONALE")
	for _, e := range audit {
		c := e.Change
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%+.4f\t%s\n", e.Cycle, c.Path, c.OldValue, c.NewValue, c.ScoreDelta, c.Rationale)
	}
	return tw.Flush()
}
