package safety

import (
	"context"
	"fmt"
	"log/slog"
)

// riskAssessor and breakingAnalyzer are satisfied by Assessor and
// BreakingDetector; tests substitute stubs.
type riskAssessor interface {
	Assess(ctx context.Context, operation string, opCtx map[string]string) *Assessment
}

type breakingAnalyzer interface {
	Analyze(ctx context.Context, diff string) *BreakingAssessment
}

// CheckResult is the final safety verdict for a proposed change.
type CheckResult struct {
	Allowed          bool
	RequiresApproval bool
	Risk             RiskLevel
	Operations       []DetectedOperation
	Assessments      map[ChangeType]*Assessment
	Breaking         *BreakingAssessment
	Message          string
	TotalTokens      int
	TotalCost        float64
}

// Manager orchestrates guard, risk assessor, and breaking-change pass into
// one decision. Highest risk wins.
type Manager struct {
	guard         *Guard
	assessor      riskAssessor
	breaking      breakingAnalyzer
	useMultiAgent bool
	logger        *slog.Logger
}

func NewManager(guard *Guard, assessor *Assessor, breaking *BreakingDetector, useMultiAgent bool, logger *slog.Logger) *Manager {
	m := &Manager{guard: guard, useMultiAgent: useMultiAgent, logger: logger}
	// Assign through the interface fields only for non-nil concretes so the
	// nil checks in CheckOperationSafety stay meaningful.
	if assessor != nil {
		m.assessor = assessor
	}
	if breaking != nil {
		m.breaking = breaking
	}
	return m
}

// fallbackRisk maps a change type to a static risk when multi-agent
// assessment is disabled.
var fallbackRisk = map[ChangeType]RiskLevel{
	ChangeProtectedFile:     RiskCritical,
	ChangeFileDeletion:      RiskHigh,
	ChangeSecurity:          RiskHigh,
	ChangeDatabaseMigration: RiskHigh,
	ChangeBreaking:          RiskHigh,
	ChangeComplex:           RiskMedium,
	ChangeConfiguration:     RiskMedium,
	ChangeFileModification:  RiskLow,
}

// CheckOperationSafety runs detection, per-operation risk assessment, and
// the breaking-change pass, then applies the decision matrix.
func (m *Manager) CheckOperationSafety(ctx context.Context, filesChanged, filesDeleted []string, diff string, opCtx map[string]string) *CheckResult {
	ops := m.guard.DetectOperations(filesChanged, filesDeleted, diff)
	if len(ops) == 0 {
		return &CheckResult{Allowed: true, Risk: RiskLow, Message: "allowed"}
	}

	result := &CheckResult{
		Operations:  ops,
		Assessments: make(map[ChangeType]*Assessment, len(ops)),
	}

	overall := RiskLow
	for _, op := range ops {
		var level RiskLevel
		if m.useMultiAgent && m.assessor != nil {
			as := m.assessor.Assess(ctx, describeOperation(op), opCtx)
			result.Assessments[op.Type] = as
			result.TotalTokens += as.TotalTokens
			result.TotalCost += as.TotalCost
			level = as.Level
		} else {
			level = fallbackRisk[op.Type]
		}
		if level > overall {
			overall = level
		}
	}

	if diff != "" && m.breaking != nil {
		ba := m.breaking.Analyze(ctx, diff)
		result.Breaking = ba
		result.TotalTokens += ba.TotalTokens
		result.TotalCost += ba.TotalCost
		if ba.OverallSeverity == BreakingCritical {
			overall = RiskCritical
		}
	}

	result.Risk = overall
	switch overall {
	case RiskCritical:
		result.Allowed = false
		result.RequiresApproval = false
		result.Message = "operation blocked for safety"
	case RiskHigh:
		result.Allowed = false
		result.RequiresApproval = true
		result.Message = "requires human approval"
	case RiskMedium:
		result.Allowed = true
		result.RequiresApproval = true
		result.Message = "allowed with review"
	default:
		result.Allowed = true
		result.RequiresApproval = false
		result.Message = "allowed"
	}

	if m.logger != nil {
		m.logger.Info("safety check complete",
			"risk", overall.String(), "allowed", result.Allowed,
			"requires_approval", result.RequiresApproval, "operations", len(ops))
	}
	return result
}

func describeOperation(op DetectedOperation) string {
	if len(op.Files) == 0 {
		return fmt.Sprintf("%s: %s", op.Type, op.Detail)
	}
	files := op.Files
	if len(files) > 8 {
		files = files[:8]
	}
	return fmt.Sprintf("%s (%s): %v", op.Type, op.Detail, files)
}
