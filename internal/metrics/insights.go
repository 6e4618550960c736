package metrics

import (
	"fmt"

	"github.com/antigravity-dev/reflex/internal/store"
)

// Insight is one detected pattern of concern with a recommendation.
type Insight struct {
	Pattern        string `json:"pattern"`
	Detail         string `json:"detail"`
	Recommendation string `json:"recommendation"`
}

// InsightsGenerator layers concern detection over Analytics.
type InsightsGenerator struct {
	analytics *Analytics
}

// NewInsights creates an InsightsGenerator over the given analytics view.
func NewInsights(a *Analytics) *InsightsGenerator {
	return &InsightsGenerator{analytics: a}
}

// Thresholds for patterns of concern.
const (
	recurringErrorMin  = 5
	lowSuccessRate     = 0.70
	highCIFailureMean  = 2.0
	costOutlierUSD     = 100.0
	highComplexityMean = 7.0
	slowMergeHours     = 24.0
)

// Generate inspects window aggregates and returns detected concerns.
func (g *InsightsGenerator) Generate(days int) ([]Insight, error) {
	var insights []Insight

	errors, err := g.analytics.ErrorAnalysis(days)
	if err != nil {
		return nil, err
	}
	for _, ec := range errors {
		if ec.Count > recurringErrorMin {
			insights = append(insights, Insight{
				Pattern: "recurring_error",
				Detail:  fmt.Sprintf("%s occurred %d times (e.g. %q)", ec.ErrorKind, ec.Count, ec.ExampleMessage),
				Recommendation: fmt.Sprintf("Investigate the root cause of repeated %s failures before the next cycle",
					ec.ErrorKind),
			})
		}
	}

	rate, err := g.analytics.SuccessRate("", days)
	if err != nil {
		return nil, err
	}
	counts, err := g.analytics.OperationCounts(days)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 && rate < lowSuccessRate {
		insights = append(insights, Insight{
			Pattern:        "low_success_rate",
			Detail:         fmt.Sprintf("overall success rate %.0f%% across %d operations", rate*100, total),
			Recommendation: "Review the most frequent error kinds and consider tightening prompt templates",
		})
	}

	prStats, err := g.analytics.PRStats(days)
	if err != nil {
		return nil, err
	}
	if prStats.Managed > 0 && prStats.AvgCIFailures > highCIFailureMean {
		insights = append(insights, Insight{
			Pattern:        "high_ci_failures",
			Detail:         fmt.Sprintf("mean %.1f CI failures per PR", prStats.AvgCIFailures),
			Recommendation: "Add pre-push validation or stricter generated-code tests to reduce CI churn",
		})
	}
	if prStats.Merged > 0 && prStats.AvgTimeToMergeHr > slowMergeHours {
		insights = append(insights, Insight{
			Pattern:        "slow_merges",
			Detail:         fmt.Sprintf("mean time to merge %.1f hours", prStats.AvgTimeToMergeHr),
			Recommendation: "Smaller PRs or earlier review requests would shorten the merge pipeline",
		})
	}

	costs, err := g.analytics.CostAnalysis(days)
	if err != nil {
		return nil, err
	}
	if costs.TotalCostUSD > costOutlierUSD {
		insights = append(insights, Insight{
			Pattern:        "cost_outlier",
			Detail:         fmt.Sprintf("$%.2f spent across %d tokens in the window", costs.TotalCostUSD, costs.TotalTokens),
			Recommendation: "Shift routine operations to cheaper providers or reduce cycle frequency",
		})
	}

	issueStats, err := g.analytics.IssueStats(days)
	if err != nil {
		return nil, err
	}
	if issueStats.Processed > 0 && issueStats.AvgComplexity > highComplexityMean {
		insights = append(insights, Insight{
			Pattern:        "high_complexity",
			Detail:         fmt.Sprintf("mean issue complexity %.1f", issueStats.AvgComplexity),
			Recommendation: "Split complex issues into smaller work items before processing",
		})
	}

	return insights, nil
}

// Report is the aggregate view rendered by the report CLI command.
type Report struct {
	WindowDays  int                `json:"window_days"`
	SuccessRate float64            `json:"success_rate"`
	AvgDuration float64            `json:"avg_duration_seconds"`
	Counts      map[store.Kind]int `json:"operation_counts"`
	Errors      []ErrorCount       `json:"errors"`
	Issues      *IssueStats        `json:"issues"`
	PRs         *PRStats           `json:"prs"`
	Costs       *CostSummary       `json:"costs"`
	Insights    []Insight          `json:"insights"`
}

// BuildReport assembles the full analytics report for the window.
func (g *InsightsGenerator) BuildReport(days int) (*Report, error) {
	r := &Report{WindowDays: days}
	var err error
	if r.SuccessRate, err = g.analytics.SuccessRate("", days); err != nil {
		return nil, err
	}
	if r.AvgDuration, err = g.analytics.AverageDuration("", days); err != nil {
		return nil, err
	}
	if r.Counts, err = g.analytics.OperationCounts(days); err != nil {
		return nil, err
	}
	if r.Errors, err = g.analytics.ErrorAnalysis(days); err != nil {
		return nil, err
	}
	if r.Issues, err = g.analytics.IssueStats(days); err != nil {
		return nil, err
	}
	if r.PRs, err = g.analytics.PRStats(days); err != nil {
		return nil, err
	}
	if r.Costs, err = g.analytics.CostAnalysis(days); err != nil {
		return nil, err
	}
	if r.Insights, err = g.Generate(days); err != nil {
		return nil, err
	}
	return r, nil
}
