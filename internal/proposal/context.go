// Package proposal turns a finished sweep into a reviewed configuration
// proposal: it writes the advisory context document, parses the advisory
// answer or falls back to a statistical ranking, and keeps one directory per
// proposal on disk.
package proposal

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/params"
	"github.com/hailam/chesstuner/internal/regression"
	"github.com/hailam/chesstuner/internal/state"
)

// Input is everything the analyze phase knows about the finished sweep.
// Baseline and Results are full-fidelity; every score delta in the document
// is taken against Baseline.
type Input struct {
	Cycle      int
	BestConfig botconfig.Config
	Baseline   state.BaselineSnapshot
	Regression regression.Report
	// Results are the full-mode results, ranked.
	Results []metrics.AggregatedResult
	// Triage are the reduced-fidelity results of every triaged experiment, ranked.
	Triage  []metrics.AggregatedResult
	History []state.CycleRecord
}

const (
	historyCycles  = 5
	detailedTop    = 5
	fallbackChange = 5
)

// guidance is the fixed instruction block handed to the advisory model.
const guidance = `## Instructions

You are reviewing one tuning cycle of a chess move selector that imitates human players.

- Prefer one high-confidence change per cycle. Propose several only when they touch
  independent parts of the configuration and each was measured on its own.
- Changes to per-band tables interact across Elo bands: say which bands a change helps and
  which it may hurt.
- Address critical regressions from the regression report before anything else.
- Treat small score deltas measured on few positions as noise.

Answer with exactly one fenced block tagged json, with this shape:

` + "```json" + `
{
  "summary": "what the results show and what you recommend",
  "changes": [
    {"path": "selection.temperature", "newValue": 0.45, "scoreDelta": 0.012, "reasoning": "why"}
  ],
  "proposedConfig": {"selection": {"temperature": 0.45}},
  "codeSuggestions": ["changes to the move selector itself, if any"],
  "nextPriorities": ["what the next cycle should explore"],
  "warnings": ["risks the reviewer should know about"]
}
` + "```" + `

Band tables are objects keyed by band name (beginner, intermediate, advanced, expert, master)
and are merged per band: a band you leave out keeps its current value. proposedConfig holds
only the sections and fields you change. Valid paths:

%s
`

// BuildContext renders the advisory context document.
func BuildContext(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Tuning cycle %d\n\n", in.Cycle)
	fmt.Fprintf(&b, "%d experiments triaged, %d validated at full fidelity. Baseline composite score %.4f.\n\n",
		len(in.Triage), len(in.Results), in.Baseline.Score)

	b.WriteString("## Current best configuration\n\n```yaml\n")
	if data, err := yaml.Marshal(in.BestConfig); err == nil {
		b.Write(data)
	}
	b.WriteString("```\n\n")

	b.WriteString("## Regression report\n\n")
	b.WriteString(in.Regression.Markdown())
	b.WriteString("\n")

	writeBaseline(&b, in.Baseline)
	writeExperiments(&b, in.Results)
	writeTriage(&b, in.Triage)
	writeHistory(&b, in.History, in.Cycle, in.Baseline)
	writeDetails(&b, in.Results)

	paths := make([]string, 0, len(botconfig.Paths()))
	for _, p := range botconfig.Paths() {
		line := "- `" + p.String() + "`"
		if param, ok := params.Lookup(p); ok {
			line += ": " + param.Description
		}
		paths = append(paths, line)
	}
	fmt.Fprintf(&b, guidance, strings.Join(paths, "\n"))
	return b.String()
}

func writeBaseline(b *strings.Builder, s state.BaselineSnapshot) {
	b.WriteString("## Baseline\n\n")
	b.WriteString("| Positions | Match | Top-N | Book | Bot CPL | Player CPL | CPL delta | Score |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	m := s.Aggregate.Measures
	fmt.Fprintf(b, "| %d | %s | %s | %s | %s | %s | %s | %.4f |\n\n",
		m.TotalPositions, rate(m.MatchRate), rate(m.TopNRate), rate(m.BookCoverage),
		cp(m.SyntheticCPL), cp(m.ActualCPL), cp(m.CPLDelta), s.Score)

	b.WriteString("### Strength calibration by band\n\n")
	b.WriteString("| Dataset | Band | Elo | Positions | Bot CPL | Player CPL | Gap |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, name := range byElo(s) {
		d := s.PerDataset[name]
		fmt.Fprintf(b, "| %s | %s | %d | %d | %s | %s | %s |\n",
			name, d.Band, d.Elo, d.Metrics.TotalPositions,
			cp(d.Metrics.SyntheticCPL), cp(d.Metrics.ActualCPL), cp(d.Metrics.Gap()))
	}
	b.WriteString("\n")
}

func writeExperiments(b *strings.Builder, results []metrics.AggregatedResult) {
	b.WriteString("## Experiments (full fidelity, best first)\n\n")
	if len(results) == 0 {
		b.WriteString("No experiment survived triage.\n\n")
		return
	}
	b.WriteString("| # | Experiment | Path | Change | Score | Delta | Positions |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for i, r := range metrics.Rank(results) {
		fmt.Fprintf(b, "| %d | %s | %s | %s | %.4f | %+.4f | %d |\n",
			i+1, r.ExperimentID, r.Path, r.Description, r.Score, r.ScoreDelta, r.Aggregate.TotalPositions)
	}
	b.WriteString("\n")
}

func writeTriage(b *strings.Builder, results []metrics.AggregatedResult) {
	if len(results) == 0 {
		return
	}
	b.WriteString("## Triage (reduced fidelity, best first)\n\n")
	b.WriteString("| Experiment | Path | Change | Delta | Positions |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range results {
		fmt.Fprintf(b, "| %s | %s | %s | %+.4f | %d |\n",
			r.ExperimentID, r.Path, r.Description, r.ScoreDelta, r.Aggregate.TotalPositions)
	}
	b.WriteString("\n")
}

func writeHistory(b *strings.Builder, history []state.CycleRecord, cycle int, current state.BaselineSnapshot) {
	recent := history
	if len(recent) > historyCycles {
		recent = recent[len(recent)-historyCycles:]
	}

	b.WriteString("## Recent cycles\n\n")
	if len(recent) == 0 {
		b.WriteString("This is the first recorded cycle.\n\n")
	} else {
		b.WriteString("| Cycle | Outcome | Baseline score | Best delta | Changes |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range recent {
			outcome := "rejected"
			if r.Accepted {
				outcome = "accepted"
			}
			changes := make([]string, 0, len(r.Changes))
			for _, c := range r.Changes {
				changes = append(changes, fmt.Sprintf("%s=%s", c.Path, c.NewValue))
			}
			fmt.Fprintf(b, "| %d | %s | %.4f | %+.4f | %s |\n",
				r.Cycle, outcome, r.Baseline.Score, r.BestDelta, orDash(strings.Join(changes, "; ")))
		}
		b.WriteString("\n")
	}

	type row struct {
		cycle int
		snap  state.BaselineSnapshot
	}
	var rows []row
	for _, r := range recent {
		if r.Baseline.Valid() {
			rows = append(rows, row{r.Cycle, r.Baseline})
		}
	}
	rows = append(rows, row{cycle, current})

	b.WriteString("### Metrics progression\n\n")
	b.WriteString("| Cycle | Score | Match | Top-N | Book | CPL delta | Gap |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range rows {
		m := r.snap.Aggregate.Measures
		fmt.Fprintf(b, "| %d | %.4f | %s | %s | %s | %s | %s |\n",
			r.cycle, r.snap.Score, rate(m.MatchRate), rate(m.TopNRate), rate(m.BookCoverage), cp(m.CPLDelta), cp(m.Gap()))
	}
	b.WriteString("\n")

	b.WriteString("### Strength gap per dataset\n\n")
	b.WriteString("| Dataset |")
	for _, r := range rows {
		fmt.Fprintf(b, " c%d |", r.cycle)
	}
	b.WriteString("\n|---|")
	for range rows {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, name := range byElo(current) {
		fmt.Fprintf(b, "| %s |", name)
		for _, r := range rows {
			gap := metrics.Missing()
			if d, ok := r.snap.PerDataset[name]; ok {
				gap = d.Metrics.Gap()
			}
			fmt.Fprintf(b, " %s |", cp(gap))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeDetails(b *strings.Builder, results []metrics.AggregatedResult) {
	ranked := metrics.Rank(results)
	if len(ranked) > detailedTop {
		ranked = ranked[:detailedTop]
	}
	if len(ranked) == 0 {
		return
	}
	b.WriteString("## Top experiments in detail\n\n")
	for _, r := range ranked {
		fmt.Fprintf(b, "### %s (%+.4f)\n\n%s\n\n", r.ExperimentID, r.ScoreDelta, r.Description)
		b.WriteString("| Dataset | Positions | Match | Top-N | Book | CPL delta | Gap |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		names := make([]string, 0, len(r.PerDataset))
		for n := range r.PerDataset {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			m := r.PerDataset[n].Measures
			fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s | %s |\n",
				n, m.TotalPositions, rate(m.MatchRate), rate(m.TopNRate), rate(m.BookCoverage), cp(m.CPLDelta), cp(m.Gap()))
		}
		if len(r.Aggregate.Phases) > 0 {
			b.WriteString("\nBy game phase:")
			for _, ph := range metrics.Phases() {
				if pm, ok := r.Aggregate.Phases[ph]; ok {
					fmt.Fprintf(b, " %s match %s top-N %s;", ph, rate(pm.MatchRate), rate(pm.TopNRate))
				}
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

func byElo(s state.BaselineSnapshot) []string {
	names := s.DatasetNames()
	sort.SliceStable(names, func(i, j int) bool {
		return s.PerDataset[names[i]].Elo < s.PerDataset[names[j]].Elo
	})
	return names
}

func rate(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

func cp(f float64) string {
	if metrics.IsMissing(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", f)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
