package regression

import (
	"fmt"
	"strings"

	"github.com/hailam/chesstuner/internal/metrics"
)

// Markdown renders the report for the advisory context and the operator.
func (r Report) Markdown() string {
	var b strings.Builder
	if !r.HasPrevious {
		fmt.Fprintf(&b, "No earlier baseline to compare cycle %d against.\n", r.Cycle)
		return b.String()
	}

	fmt.Fprintf(&b, "Cycle %d compared with cycle %d.\n\n", r.Cycle, r.PreviousCycle)
	b.WriteString("| Metric | Previous | Current | Delta | Direction | Severity |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, m := range append([]MetricDelta{r.Score}, r.Metrics...) {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			m.Metric, num(m.Previous), num(m.Current), signed(m.Delta), m.Direction, m.Severity)
	}

	if len(r.Bands) > 0 {
		b.WriteString("\n| Dataset | Band | Elo | Gap before | Gap now | Change | Verdict | Severity |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, d := range r.Bands {
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %s | %s | %s | %s |\n",
				d.Dataset, d.Band, d.Elo, num(d.PrevGap), num(d.CurrGap), signed(d.GapChange), d.Verdict, d.Severity)
		}
	}
	fmt.Fprintf(&b, "\nAverage strength gap: %s -> %s\n", num(r.AvgGapPrev), num(r.AvgGapCurr))

	if len(r.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, n := range r.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

func num(f float64) string {
	if metrics.IsMissing(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", f)
}

func signed(f float64) string {
	if metrics.IsMissing(f) {
		return "n/a"
	}
	return fmt.Sprintf("%+.4f", f)
}
