package safety

import (
	"context"
	"testing"
	"time"

	"github.com/antigravity-dev/reflex/internal/runner"
)

// fakeRunner returns a canned response and records the last query.
type fakeRunner struct {
	resp         *runner.Response
	lastPrompt   string
	lastStrategy runner.Strategy
}

func (f *fakeRunner) Query(_ context.Context, prompt string, strategy runner.Strategy, _ time.Duration) *runner.Response {
	f.lastPrompt = prompt
	f.lastStrategy = strategy
	return f.resp
}

func TestExtractRiskLevel(t *testing.T) {
	tests := []struct {
		text string
		want RiskLevel
	}{
		{"Risk level: LOW. Nothing to see.", RiskLow},
		{"risk level: medium, limited blast radius", RiskMedium},
		{"HIGH risk due to auth surface", RiskHigh},
		{"Risk level: CRITICAL, do not proceed", RiskCritical},
		{"this change is dangerous despite low line count", RiskCritical},
		{"no structured verdict here", RiskCritical},
	}
	for _, tt := range tests {
		if got := extractRiskLevel(tt.text); got != tt.want {
			t.Errorf("extractRiskLevel(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestAssessConservativeConsensus(t *testing.T) {
	fr := &fakeRunner{resp: &runner.Response{
		Success: true,
		Responses: map[string]string{
			"a": "Risk level: LOW",
			"b": "Risk level: LOW",
			"c": "Risk level: LOW",
			"d": "Risk level: CRITICAL",
		},
		ProviderIDs: []string{"a", "b", "c", "d"},
		TotalTokens: 800,
		TotalCost:   0.08,
	}}
	as := NewAssessor(fr, time.Minute, testLogger()).Assess(context.Background(), "merge PR #12", nil)

	if fr.lastStrategy != runner.StrategyAll {
		t.Errorf("strategy = %s, want all", fr.lastStrategy)
	}
	if as.Level != RiskCritical {
		t.Errorf("level = %s, want CRITICAL", as.Level)
	}
	if as.ConsensusStrength != 0.25 {
		t.Errorf("consensus strength = %v, want 0.25", as.ConsensusStrength)
	}
	if as.Unanimous {
		t.Error("split vote must not be unanimous")
	}
}

func TestAssessUnanimous(t *testing.T) {
	fr := &fakeRunner{resp: &runner.Response{
		Success: true,
		Responses: map[string]string{
			"a": "Risk level: MEDIUM",
			"b": "risk: medium overall",
		},
		ProviderIDs: []string{"a", "b"},
	}}
	as := NewAssessor(fr, time.Minute, testLogger()).Assess(context.Background(), "update prompt template", nil)

	if as.Level != RiskMedium || !as.Unanimous || as.ConsensusStrength != 1.0 {
		t.Errorf("assessment = %+v, want unanimous MEDIUM", as)
	}
}

func TestAssessFailsClosed(t *testing.T) {
	fr := &fakeRunner{resp: &runner.Response{Success: false, Error: "timeout"}}
	as := NewAssessor(fr, time.Minute, testLogger()).Assess(context.Background(), "anything", nil)

	if as.Level != RiskCritical {
		t.Errorf("level = %s, want CRITICAL on runner failure", as.Level)
	}
	if !as.Unanimous {
		t.Error("failed assessment reports unanimous critical")
	}
}

func TestBreakingSeverityExtraction(t *testing.T) {
	tests := []struct {
		text string
		want BreakingSeverity
	}{
		{"Severity: NONE", BreakingNone},
		{"Severity: MINOR rename only", BreakingMinor},
		{"severity: major, public API surface shrank", BreakingMajor},
		{"Severity: CRITICAL removal of exported entry point", BreakingCritical},
		{"no verdict", BreakingNone},
	}
	for _, tt := range tests {
		if got := extractBreakingSeverity(tt.text); got != tt.want {
			t.Errorf("extractBreakingSeverity(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestBreakingDetectorFailsClosed(t *testing.T) {
	fr := &fakeRunner{resp: &runner.Response{Success: false, Error: "runner exited abnormally"}}
	ba := NewBreakingDetector(fr, time.Minute, testLogger()).Analyze(context.Background(), "-func A() {}")

	if ba.OverallSeverity != BreakingCritical {
		t.Errorf("severity = %s, want CRITICAL on runner failure", ba.OverallSeverity)
	}
}

func TestBreakingDetectorDialectical(t *testing.T) {
	fr := &fakeRunner{resp: &runner.Response{
		Success: true,
		Summary: "THESIS...\nANTITHESIS...\nSYNTHESIS...\nSeverity: MINOR",
	}}
	ba := NewBreakingDetector(fr, time.Minute, testLogger()).Analyze(context.Background(), "-func A() {}")

	if fr.lastStrategy != runner.StrategyDialectical {
		t.Errorf("strategy = %s, want dialectical", fr.lastStrategy)
	}
	if ba.OverallSeverity != BreakingMinor {
		t.Errorf("severity = %s, want MINOR", ba.OverallSeverity)
	}
}
