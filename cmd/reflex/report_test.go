package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/antigravity-dev/reflex/internal/metrics"
	"github.com/antigravity-dev/reflex/internal/store"
)

func sampleReport() *metrics.Report {
	return &metrics.Report{
		WindowDays:  7,
		SuccessRate: 0.85,
		AvgDuration: 42.5,
		Counts: map[store.Kind]int{
			store.KindLearningCycle: 3,
			store.KindRoadmapCycle:  1,
		},
		Errors: []metrics.ErrorCount{
			{ErrorKind: "ProviderFault", Count: 4, ExampleMessage: "timeout"},
		},
		Costs: &metrics.CostSummary{TotalCostUSD: 12.34, TotalTokens: 5000},
		Insights: []metrics.Insight{
			{Pattern: "recurring_error", Detail: "ProviderFault x4.", Recommendation: "Check runner health."},
		},
	}
}

func TestRenderReportMarkdown(t *testing.T) {
	out, err := renderReport(sampleReport(), "md")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"last 7 days",
		"Success rate: 85%",
		"| LearningCycle | 3 |",
		"ProviderFault: 4 (e.g. timeout)",
		"$12.34 (5000 tokens)",
		"**recurring_error**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportJSON(t *testing.T) {
	out, err := renderReport(sampleReport(), "json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["window_days"].(float64) != 7 {
		t.Errorf("window_days = %v", decoded["window_days"])
	}
}

func TestBudgetThresholds(t *testing.T) {
	got := budgetThresholds(100)
	want := []float64{50, 80, 100}
	if len(got) != len(want) {
		t.Fatalf("thresholds = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("threshold[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if budgetThresholds(0) != nil {
		t.Error("zero budget should disable thresholds")
	}
}
