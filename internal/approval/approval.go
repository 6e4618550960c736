// Package approval implements the human-approval workflow: risk-gated
// requests that wait for an external decision or time out conservatively.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/reflex/internal/safety"
)

const (
	defaultTimeout = 24 * time.Hour
	expiringSoon   = time.Hour
	maxHistory     = 200
)

// Request is one pending approval.
type Request struct {
	ID        string
	Operation string
	Risk      safety.RiskLevel
	Concerns  []string
	Context   map[string]string
	Timeout   time.Duration
	CreatedAt time.Time
}

func (r *Request) deadline() time.Time {
	return r.CreatedAt.Add(r.Timeout)
}

// Decision is the terminal outcome of a request.
type Decision struct {
	RequestID    string
	Approved     bool
	AutoApproved bool
	Risk         safety.RiskLevel
	Rationale    string
	DecidedBy    string
	DecidedAt    time.Time
}

// Summary describes the pending queue.
type Summary struct {
	Total        int
	ByRisk       map[string]int
	ByOperation  map[string]int
	ExpiringSoon []string
}

// NotifyFunc is called when a request enters the pending queue.
type NotifyFunc func(*Request)

// RiskAssessor is satisfied by safety.Assessor.
type RiskAssessor interface {
	Assess(ctx context.Context, operation string, opCtx map[string]string) *safety.Assessment
}

type pendingEntry struct {
	request *Request
	decided chan Decision
}

// Workflow gates operations on human approval. Pending requests live only
// in memory; a restart drops them.
type Workflow struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	history []Decision

	assessor       RiskAssessor
	autoApproveLow bool
	notify         NotifyFunc
	logger         *slog.Logger
}

// New creates a workflow. assessor may be nil, in which case the static
// rule table decides risk; notify may be nil.
func New(assessor RiskAssessor, autoApproveLow bool, notify NotifyFunc, logger *slog.Logger) *Workflow {
	return &Workflow{
		pending:        make(map[string]*pendingEntry),
		assessor:       assessor,
		autoApproveLow: autoApproveLow,
		notify:         notify,
		logger:         logger,
	}
}

// RequestApproval determines risk, auto-approves low-risk work when
// configured, and otherwise blocks until a decision or the timeout. The
// timeout outcome is always a denial decided by "system". A zero timeout
// expires immediately; a negative one falls back to the 24h default.
func (w *Workflow) RequestApproval(ctx context.Context, operation string, concerns []string, opCtx map[string]string, timeout time.Duration, useMultiAgent bool) Decision {
	if timeout < 0 {
		timeout = defaultTimeout
	}

	risk := w.determineRisk(ctx, operation, opCtx, useMultiAgent)

	if timeout == 0 && !(w.autoApproveLow && risk == safety.RiskLow) {
		d := Decision{
			Approved:  false,
			Risk:      risk,
			Rationale: "approval request expired immediately (zero timeout)",
			DecidedBy: "system",
			DecidedAt: time.Now(),
		}
		w.appendHistory(d)
		if w.logger != nil {
			w.logger.Info("approval expired immediately", "operation", operation)
		}
		return d
	}

	if w.autoApproveLow && risk == safety.RiskLow {
		d := Decision{
			Approved:     true,
			AutoApproved: true,
			Risk:         risk,
			Rationale:    "low risk, auto-approved",
			DecidedBy:    "system",
			DecidedAt:    time.Now(),
		}
		w.appendHistory(d)
		if w.logger != nil {
			w.logger.Info("approval auto-granted", "operation", operation)
		}
		return d
	}

	now := time.Now()
	req := &Request{
		Operation: operation,
		Risk:      risk,
		Concerns:  concerns,
		Context:   opCtx,
		Timeout:   timeout,
		CreatedAt: now,
	}
	entry := &pendingEntry{request: req, decided: make(chan Decision, 1)}

	w.mu.Lock()
	base := fmt.Sprintf("%s-%d", sanitizeID(operation), now.Unix())
	req.ID = base
	for i := 2; ; i++ {
		if _, exists := w.pending[req.ID]; !exists {
			break
		}
		req.ID = fmt.Sprintf("%s-%d", base, i)
	}
	w.pending[req.ID] = entry
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Info("approval requested",
			"id", req.ID, "risk", risk.String(), "timeout", timeout)
	}
	if w.notify != nil {
		w.notify(req)
	}

	timer := time.NewTimer(time.Until(req.deadline()))
	defer timer.Stop()

	select {
	case d := <-entry.decided:
		return d
	case <-timer.C:
		d := Decision{
			RequestID: req.ID,
			Approved:  false,
			Risk:      risk,
			Rationale: fmt.Sprintf("approval request timed out after %s", timeout),
			DecidedBy: "system",
			DecidedAt: time.Now(),
		}
		w.resolve(req.ID, d)
		return d
	case <-ctx.Done():
		d := Decision{
			RequestID: req.ID,
			Approved:  false,
			Risk:      risk,
			Rationale: "approval wait cancelled: " + ctx.Err().Error(),
			DecidedBy: "system",
			DecidedAt: time.Now(),
		}
		w.resolve(req.ID, d)
		return d
	}
}

// Approve grants a pending request. Returns false when the request is
// missing or already past its deadline.
func (w *Workflow) Approve(id, decidedBy, rationale string) bool {
	return w.decide(id, true, decidedBy, rationale)
}

// Deny rejects a pending request under the same rules as Approve.
func (w *Workflow) Deny(id, decidedBy, rationale string) bool {
	return w.decide(id, false, decidedBy, rationale)
}

func (w *Workflow) decide(id string, approved bool, decidedBy, rationale string) bool {
	w.mu.Lock()
	entry, ok := w.pending[id]
	if !ok {
		w.mu.Unlock()
		return false
	}
	if time.Now().After(entry.request.deadline()) {
		w.mu.Unlock()
		return false
	}
	delete(w.pending, id)
	d := Decision{
		RequestID: id,
		Approved:  approved,
		Risk:      entry.request.Risk,
		Rationale: rationale,
		DecidedBy: decidedBy,
		DecidedAt: time.Now(),
	}
	w.history = append(w.history, d)
	w.trimHistoryLocked()
	w.mu.Unlock()

	entry.decided <- d
	if w.logger != nil {
		w.logger.Info("approval decided", "id", id, "approved", approved, "decided_by", decidedBy)
	}
	return true
}

// resolve records a system decision for a request the waiter itself closed.
func (w *Workflow) resolve(id string, d Decision) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, id)
	w.history = append(w.history, d)
	w.trimHistoryLocked()
}

// CheckPendingApprovals prunes expired requests and summarises the rest.
func (w *Workflow) CheckPendingApprovals() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	s := Summary{ByRisk: make(map[string]int), ByOperation: make(map[string]int)}
	for id, entry := range w.pending {
		if now.After(entry.request.deadline()) {
			delete(w.pending, id)
			continue
		}
		s.Total++
		s.ByRisk[entry.request.Risk.String()]++
		s.ByOperation[entry.request.Operation]++
		if time.Until(entry.request.deadline()) < expiringSoon {
			s.ExpiringSoon = append(s.ExpiringSoon, id)
		}
	}
	return s
}

// History returns a copy of the decision log, newest last.
func (w *Workflow) History() []Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Decision, len(w.history))
	copy(out, w.history)
	return out
}

func (w *Workflow) appendHistory(d Decision) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, d)
	w.trimHistoryLocked()
}

func (w *Workflow) trimHistoryLocked() {
	if len(w.history) > maxHistory {
		w.history = w.history[len(w.history)-maxHistory:]
	}
}

func (w *Workflow) determineRisk(ctx context.Context, operation string, opCtx map[string]string, useMultiAgent bool) safety.RiskLevel {
	if useMultiAgent && w.assessor != nil {
		return w.assessor.Assess(ctx, operation, opCtx).Level
	}
	return fallbackRiskForOperation(operation)
}

// fallbackRiskForOperation is the static rule table used when multi-agent
// assessment is off.
func fallbackRiskForOperation(operation string) safety.RiskLevel {
	lower := strings.ToLower(operation)
	switch {
	case strings.Contains(lower, "delete"), strings.Contains(lower, "secret"),
		strings.Contains(lower, "credential"):
		return safety.RiskCritical
	case strings.Contains(lower, "merge"), strings.Contains(lower, "deploy"),
		strings.Contains(lower, "migration"), strings.Contains(lower, "rollback"):
		return safety.RiskHigh
	case strings.Contains(lower, "prompt"), strings.Contains(lower, "config"):
		return safety.RiskMedium
	default:
		return safety.RiskLow
	}
}

func sanitizeID(operation string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(operation) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "operation"
	}
	return s
}
