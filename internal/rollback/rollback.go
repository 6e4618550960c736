// Package rollback manages annotated rollback tags and revert flows over
// the local working tree and the host's PR surface.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/antigravity-dev/reflex/internal/host"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second

	tagTimeFormat = "20060102-150405"
)

// Point marks a repository state the orchestrator can return to.
type Point struct {
	CommitSHA   string
	TagName     string
	Description string
	Branch      string
	WorkItemID  string
	CreatedAt   time.Time
}

// Result reports how a rollback was executed.
type Result struct {
	Success      bool
	Method       string // revert, hard_reset, revert_pr
	RevertCommit string
	RevertPR     int
	Detail       string
}

// gitFunc executes one git invocation; swapped out in tests.
type gitFunc func(ctx context.Context, timeout time.Duration, args ...string) (string, error)

// Manager creates rollback points and executes rollbacks.
type Manager struct {
	workspace string
	host      host.Host
	logger    *slog.Logger
	git       gitFunc
	now       func() time.Time
}

// New creates a manager over the given working tree. h may be nil when PR
// rollback is not needed.
func New(workspace string, h host.Host, logger *slog.Logger) *Manager {
	m := &Manager{workspace: workspace, host: h, logger: logger, now: time.Now}
	m.git = func(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = m.workspace
		out, err := cmd.CombinedOutput()
		text := strings.TrimSpace(string(out))
		if err != nil {
			return text, fmt.Errorf("rollback: git %s: %w (%s)", args[0], err, text)
		}
		return text, nil
	}
	return m
}

// CreateRollbackPoint tags HEAD with an annotated rollback marker. The tag
// name embeds the optional work item id and the creation time.
func (m *Manager) CreateRollbackPoint(ctx context.Context, description, workItemID string) (*Point, error) {
	sha, err := m.git(ctx, readTimeout, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	branch, err := m.git(ctx, readTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}

	now := m.now()
	name := "rollback-"
	if workItemID != "" {
		name += workItemID + "-"
	}
	name += now.Format(tagTimeFormat)

	if _, err := m.git(ctx, writeTimeout, "tag", "-a", name, "-m", description); err != nil {
		return nil, err
	}

	p := &Point{
		CommitSHA:   sha,
		TagName:     name,
		Description: description,
		Branch:      branch,
		WorkItemID:  workItemID,
		CreatedAt:   now,
	}
	if m.logger != nil {
		m.logger.Info("rollback point created", "tag", name, "sha", sha, "branch", branch)
	}
	return p, nil
}

// Rollback returns the tree to a rollback point, either by reverting the
// range since the point into a new commit or by hard-resetting HEAD.
// cleanupBranch additionally deletes the point's branch locally and on the
// remote; those failures are logged, not surfaced.
func (m *Manager) Rollback(ctx context.Context, p *Point, cleanupBranch, createRevertCommit bool) (*Result, error) {
	if createRevertCommit {
		if _, err := m.git(ctx, writeTimeout, "revert", "--no-edit", p.CommitSHA+"..HEAD"); err != nil {
			return nil, err
		}
		sha, err := m.git(ctx, readTimeout, "rev-parse", "HEAD")
		if err != nil {
			return nil, err
		}
		m.cleanup(ctx, p, cleanupBranch)
		return &Result{
			Success:      true,
			Method:       "revert",
			RevertCommit: sha,
			Detail:       fmt.Sprintf("reverted %s..HEAD", shortSHA(p.CommitSHA)),
		}, nil
	}

	if _, err := m.git(ctx, writeTimeout, "reset", "--hard", p.CommitSHA); err != nil {
		return nil, err
	}
	m.cleanup(ctx, p, cleanupBranch)
	return &Result{
		Success: true,
		Method:  "hard_reset",
		Detail:  fmt.Sprintf("reset HEAD to %s", shortSHA(p.CommitSHA)),
	}, nil
}

func (m *Manager) cleanup(ctx context.Context, p *Point, enabled bool) {
	if !enabled || p.Branch == "" || p.Branch == "HEAD" {
		return
	}
	if _, err := m.git(ctx, writeTimeout, "branch", "-D", p.Branch); err != nil && m.logger != nil {
		m.logger.Warn("local branch cleanup failed", "branch", p.Branch, "error", err)
	}
	if _, err := m.git(ctx, writeTimeout, "push", "origin", "--delete", p.Branch); err != nil && m.logger != nil {
		m.logger.Warn("remote branch cleanup failed", "branch", p.Branch, "error", err)
	}
}

// RollbackPR reverts a merged PR. With createRevertPR it opens a revert PR
// through the host; otherwise it reverts the merge commit in place.
func (m *Manager) RollbackPR(ctx context.Context, prNumber int, reason string, createRevertPR bool) (*Result, error) {
	if m.host == nil {
		return nil, fmt.Errorf("rollback: no host configured for PR rollback")
	}
	pr, err := m.host.GetPR(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("rollback: fetch PR %d: %w", prNumber, err)
	}
	if !pr.Merged || pr.MergeCommit == "" {
		return nil, fmt.Errorf("rollback: PR %d is not merged", prNumber)
	}

	if !createRevertPR {
		if _, err := m.git(ctx, writeTimeout, "revert", "-m", "1", "--no-edit", pr.MergeCommit); err != nil {
			return nil, err
		}
		return &Result{
			Success: true,
			Method:  "revert",
			Detail:  fmt.Sprintf("reverted merge commit %s in place", shortSHA(pr.MergeCommit)),
		}, nil
	}

	branch := fmt.Sprintf("revert/pr-%d", prNumber)
	if _, err := m.git(ctx, writeTimeout, "checkout", "-b", branch, pr.BaseBranch); err != nil {
		return nil, err
	}
	if _, err := m.git(ctx, writeTimeout, "revert", "-m", "1", "--no-edit", pr.MergeCommit); err != nil {
		return nil, err
	}
	if _, err := m.git(ctx, writeTimeout, "push", "origin", branch); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Revert %q", pr.Title)
	body := fmt.Sprintf("Reverts #%d.\n\n%s", prNumber, reason)
	revertPR, err := m.host.CreatePR(ctx, branch, pr.BaseBranch, title, body)
	if err != nil {
		return nil, fmt.Errorf("rollback: open revert PR: %w", err)
	}
	if err := m.host.Comment(ctx, prNumber, fmt.Sprintf("Reverted by #%d: %s", revertPR.Number, reason)); err != nil && m.logger != nil {
		m.logger.Warn("revert comment failed", "pr", prNumber, "error", err)
	}

	if m.logger != nil {
		m.logger.Info("revert PR opened", "pr", prNumber, "revert_pr", revertPR.Number)
	}
	return &Result{
		Success:  true,
		Method:   "revert_pr",
		RevertPR: revertPR.Number,
		Detail:   fmt.Sprintf("opened revert PR #%d", revertPR.Number),
	}, nil
}

// ListRollbackPoints enumerates rollback tags, newest first.
func (m *Manager) ListRollbackPoints(ctx context.Context) ([]Point, error) {
	out, err := m.git(ctx, readTimeout, "tag", "-l", "rollback-*",
		"--sort=-creatordate", "--format=%(refname:short)%09%(objectname)%09%(contents:subject)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var points []Point
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		p := Point{TagName: parts[0], CommitSHA: parts[1]}
		if len(parts) == 3 {
			p.Description = parts[2]
		}
		p.WorkItemID, p.CreatedAt = parseTagName(parts[0])
		points = append(points, p)
	}
	return points, nil
}

// parseTagName splits rollback-[workitem-]yyyymmdd-HHMMSS.
func parseTagName(tag string) (workItemID string, created time.Time) {
	rest, ok := strings.CutPrefix(tag, "rollback-")
	if !ok {
		return "", time.Time{}
	}
	if len(rest) >= len(tagTimeFormat) {
		stamp := rest[len(rest)-len(tagTimeFormat):]
		if t, err := time.ParseInLocation(tagTimeFormat, stamp, time.Local); err == nil {
			created = t
			rest = strings.TrimSuffix(rest[:len(rest)-len(tagTimeFormat)], "-")
			return rest, created
		}
	}
	return rest, time.Time{}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
