package proposal

import (
	"fmt"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/state"
)

// Fallback builds an answer from the ranked results alone. Up to five
// positive-delta experiments become independent changes. Combining them needs
// judgment, so the proposed configuration carries only the best one.
func Fallback(best botconfig.Config, results []metrics.AggregatedResult) Answer {
	var ans Answer
	for _, r := range metrics.Rank(results) {
		if r.ScoreDelta <= 0 || len(ans.Changes) >= fallbackChange {
			break
		}
		merged := botconfig.Merge(best, r.Override)
		ans.Changes = append(ans.Changes, state.ConfigChange{
			Path:       r.Path,
			OldValue:   r.Path.Get(best),
			NewValue:   r.Path.Get(merged),
			ScoreDelta: r.ScoreDelta,
			Rationale: fmt.Sprintf("experiment %s scored %+.4f over %d positions at full fidelity",
				r.ExperimentID, r.ScoreDelta, r.Aggregate.TotalPositions),
		})
		if len(ans.Changes) == 1 {
			ans.ProposedConfig = r.Override
		}
	}

	switch n := len(ans.Changes); n {
	case 0:
		ans.Summary = "No experiment improved on the baseline this cycle. Keeping the current configuration."
	case 1:
		ans.Summary = fmt.Sprintf("One experiment improved on the baseline: %s (%+.4f).",
			ans.Changes[0].Path, ans.Changes[0].ScoreDelta)
	default:
		ans.Summary = fmt.Sprintf("%d experiments improved on the baseline. Only the best, %s (%+.4f), is proposed; "+
			"the others were measured on their own and are listed for review.",
			n, ans.Changes[0].Path, ans.Changes[0].ScoreDelta)
	}
	ans.Warnings = []string{"Advisory analysis was not available; this proposal is a statistical ranking only."}
	if len(ans.Changes) > 1 {
		ans.Warnings = append(ans.Warnings, "Changes were measured one at a time and were not combined.")
	}
	ans.NextPriorities = []string{}
	ans.CodeSuggestions = []string{}
	return ans
}
