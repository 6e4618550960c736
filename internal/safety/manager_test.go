package safety

import (
	"context"
	"testing"
)

type stubAssessor struct {
	level RiskLevel
	calls int
}

func (s *stubAssessor) Assess(context.Context, string, map[string]string) *Assessment {
	s.calls++
	return &Assessment{Level: s.level, ConsensusStrength: 1, Unanimous: true}
}

type stubBreaking struct {
	severity BreakingSeverity
	calls    int
}

func (s *stubBreaking) Analyze(context.Context, string) *BreakingAssessment {
	s.calls++
	return &BreakingAssessment{OverallSeverity: s.severity}
}

func newTestManager(assessor riskAssessor, breaking breakingAnalyzer) *Manager {
	return &Manager{
		guard:         NewGuard(nil, 8, testLogger()),
		assessor:      assessor,
		breaking:      breaking,
		useMultiAgent: assessor != nil,
		logger:        testLogger(),
	}
}

func TestCheckEmptyChangeAllowed(t *testing.T) {
	m := newTestManager(&stubAssessor{level: RiskCritical}, nil)

	res := m.CheckOperationSafety(context.Background(), nil, nil, "", nil)
	if !res.Allowed || res.RequiresApproval || res.Risk != RiskLow {
		t.Errorf("result = %+v, want allowed LOW without assessment", res)
	}
}

func TestCheckProtectedDeletionBlocked(t *testing.T) {
	assessor := &stubAssessor{level: RiskCritical}
	m := newTestManager(assessor, nil)

	res := m.CheckOperationSafety(context.Background(), nil, []string{".env"}, "", nil)

	got := opTypes(res.Operations)
	if !got[ChangeFileDeletion] || !got[ChangeProtectedFile] {
		t.Fatalf("operations = %v, want FileDeletion and ProtectedFileAccess", res.Operations)
	}
	if res.Allowed {
		t.Error("critical risk must not be allowed")
	}
	if res.RequiresApproval {
		t.Error("blocked operations do not go to approval")
	}
	if res.Risk != RiskCritical {
		t.Errorf("risk = %s, want CRITICAL", res.Risk)
	}
	if res.Message != "operation blocked for safety" {
		t.Errorf("message = %q", res.Message)
	}
	if assessor.calls == 0 {
		t.Error("assessor was never consulted")
	}
}

func TestCheckDecisionMatrix(t *testing.T) {
	tests := []struct {
		level        RiskLevel
		wantAllowed  bool
		wantApproval bool
	}{
		{RiskCritical, false, false},
		{RiskHigh, false, true},
		{RiskMedium, true, true},
		{RiskLow, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			m := newTestManager(&stubAssessor{level: tt.level}, nil)
			res := m.CheckOperationSafety(context.Background(), []string{"main.go"}, nil, "", nil)
			if res.Allowed != tt.wantAllowed || res.RequiresApproval != tt.wantApproval {
				t.Errorf("allowed=%v approval=%v, want %v/%v",
					res.Allowed, res.RequiresApproval, tt.wantAllowed, tt.wantApproval)
			}
		})
	}
}

func TestCheckBreakingCriticalElevates(t *testing.T) {
	breaking := &stubBreaking{severity: BreakingCritical}
	m := newTestManager(&stubAssessor{level: RiskLow}, breaking)

	res := m.CheckOperationSafety(context.Background(), []string{"api.go"}, nil, "-func Exported() {}\n", nil)

	if breaking.calls != 1 {
		t.Fatalf("breaking pass calls = %d, want 1", breaking.calls)
	}
	if res.Risk != RiskCritical || res.Allowed {
		t.Errorf("risk = %s allowed = %v, want blocked CRITICAL", res.Risk, res.Allowed)
	}
}

func TestCheckBreakingSkippedWithoutDiff(t *testing.T) {
	breaking := &stubBreaking{severity: BreakingCritical}
	m := newTestManager(&stubAssessor{level: RiskLow}, breaking)

	m.CheckOperationSafety(context.Background(), []string{"api.go"}, nil, "", nil)
	if breaking.calls != 0 {
		t.Errorf("breaking pass calls = %d, want 0 for empty diff", breaking.calls)
	}
}

func TestCheckFallbackRuleTable(t *testing.T) {
	m := newTestManager(nil, nil) // multi-agent disabled

	res := m.CheckOperationSafety(context.Background(), []string{"internal/auth/login.go"}, nil, "", nil)
	if res.Risk != RiskHigh {
		t.Errorf("risk = %s, want HIGH from the fallback table for a security change", res.Risk)
	}
	if res.Allowed || !res.RequiresApproval {
		t.Errorf("allowed=%v approval=%v, want false/true", res.Allowed, res.RequiresApproval)
	}
}
