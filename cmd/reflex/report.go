package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/antigravity-dev/reflex/internal/metrics"
	"github.com/antigravity-dev/reflex/internal/store"
)

// renderReport formats the analytics report as markdown or JSON.
func renderReport(r *metrics.Report, format string) (string, error) {
	if format == "json" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode report: %w", err)
		}
		return string(data) + "\n", nil
	}
	return renderMarkdown(r), nil
}

func renderMarkdown(r *metrics.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reflex Report (last %d days)\n\n", r.WindowDays)
	fmt.Fprintf(&b, "- Success rate: %.0f%%\n", r.SuccessRate*100)
	fmt.Fprintf(&b, "- Average duration: %.1fs\n", r.AvgDuration)

	if len(r.Counts) > 0 {
		b.WriteString("\n## Operations\n\n")
		kinds := make([]string, 0, len(r.Counts))
		for kind := range r.Counts {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		b.WriteString("| Kind | Count |\n|---|---|\n")
		for _, kind := range kinds {
			fmt.Fprintf(&b, "| %s | %d |\n", kind, r.Counts[store.Kind(kind)])
		}
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s: %d", e.ErrorKind, e.Count)
			if e.ExampleMessage != "" {
				fmt.Fprintf(&b, " (e.g. %s)", e.ExampleMessage)
			}
			b.WriteString("\n")
		}
	}

	if r.Issues != nil && r.Issues.Processed > 0 {
		b.WriteString("\n## Issues\n\n")
		fmt.Fprintf(&b, "- Processed %d, succeeded %d, average complexity %.1f\n",
			r.Issues.Processed, r.Issues.Succeeded, r.Issues.AvgComplexity)
	}
	if r.PRs != nil && r.PRs.Managed > 0 {
		b.WriteString("\n## Pull Requests\n\n")
		fmt.Fprintf(&b, "- Managed %d, merged %d, average CI failures %.1f, average time to merge %.1fh\n",
			r.PRs.Managed, r.PRs.Merged, r.PRs.AvgCIFailures, r.PRs.AvgTimeToMergeHr)
	}

	if r.Costs != nil {
		b.WriteString("\n## Spend\n\n")
		fmt.Fprintf(&b, "- Total: $%.2f (%d tokens)\n", r.Costs.TotalCostUSD, r.Costs.TotalTokens)
		for _, pc := range r.Costs.ByProviderModel {
			fmt.Fprintf(&b, "- %s/%s: $%.2f over %d operations\n", pc.Provider, pc.Model, pc.CostUSD, pc.Operations)
		}
	}

	if len(r.Insights) > 0 {
		b.WriteString("\n## Insights\n\n")
		for _, in := range r.Insights {
			fmt.Fprintf(&b, "- **%s**: %s %s\n", in.Pattern, in.Detail, in.Recommendation)
		}
	}
	return b.String()
}
