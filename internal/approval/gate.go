package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/reflex/internal/rollback"
	"github.com/antigravity-dev/reflex/internal/safety"
)

var (
	// ErrBlocked means the safety check refused the change outright.
	ErrBlocked = errors.New("approval: blocked for safety")
	// ErrDenied means a human (or the timeout) rejected the change.
	ErrDenied = errors.New("approval: denied")
)

// SafetyChecker is satisfied by safety.Manager.
type SafetyChecker interface {
	CheckOperationSafety(ctx context.Context, filesChanged, filesDeleted []string, diff string, opCtx map[string]string) *safety.CheckResult
}

// RollbackPointer is satisfied by rollback.Manager.
type RollbackPointer interface {
	CreateRollbackPoint(ctx context.Context, description, workItemID string) (*rollback.Point, error)
}

// Gate arbitrates one externally-visible mutation: safety check first, then
// the decision matrix. Critical risk blocks outright; high risk snapshots a
// rollback point (when configured) and waits for human approval; medium risk
// proceeds flagged for review; low risk proceeds.
type Gate struct {
	checker             SafetyChecker
	workflow            *Workflow
	rollback            RollbackPointer
	rollbackBeforeRisky bool
	approvalTimeout     time.Duration
	useMultiAgent       bool
	logger              *slog.Logger
}

// NewGate wires the gate. rb may be nil when no rollback manager is
// available; rollbackBeforeRisky is then ignored.
func NewGate(checker SafetyChecker, workflow *Workflow, rb RollbackPointer, rollbackBeforeRisky bool, approvalTimeout time.Duration, useMultiAgent bool, logger *slog.Logger) *Gate {
	return &Gate{
		checker:             checker,
		workflow:            workflow,
		rollback:            rb,
		rollbackBeforeRisky: rollbackBeforeRisky,
		approvalTimeout:     approvalTimeout,
		useMultiAgent:       useMultiAgent,
		logger:              logger,
	}
}

// Authorize returns nil when the change may proceed. A refusal wraps
// ErrBlocked (critical risk) or ErrDenied (approval rejected or timed out).
func (g *Gate) Authorize(ctx context.Context, operation string, filesChanged, filesDeleted []string, diff string, opCtx map[string]string) error {
	check := g.checker.CheckOperationSafety(ctx, filesChanged, filesDeleted, diff, opCtx)

	if !check.Allowed && !check.RequiresApproval {
		return fmt.Errorf("%w: %s: %s (risk %s)", ErrBlocked, operation, check.Message, check.Risk)
	}
	if check.Allowed && !check.RequiresApproval {
		return nil
	}
	if check.Allowed {
		// Medium risk: allowed with review, non-blocking.
		g.logger.Info("change allowed with review",
			"operation", operation, "risk", check.Risk.String())
		return nil
	}

	// High risk: snapshot, then wait for a human.
	if g.rollbackBeforeRisky && g.rollback != nil {
		if _, err := g.rollback.CreateRollbackPoint(ctx, "before "+operation, ""); err != nil {
			g.logger.Warn("rollback point not created", "operation", operation, "error", err)
		}
	}

	concerns := make([]string, 0, len(check.Operations))
	for _, op := range check.Operations {
		concerns = append(concerns, fmt.Sprintf("%s: %s", op.Type, op.Detail))
	}
	d := g.workflow.RequestApproval(ctx, operation, concerns, opCtx, g.approvalTimeout, g.useMultiAgent)
	if !d.Approved {
		return fmt.Errorf("%w: %s: %s", ErrDenied, operation, d.Rationale)
	}
	g.logger.Info("change approved", "operation", operation, "decided_by", d.DecidedBy)
	return nil
}
