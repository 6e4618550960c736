// Package host abstracts the upstream issue tracker and PR surface. The
// production implementation shells out to the gh CLI so the orchestrator
// rides the operator's existing authentication.
package host

import (
	"context"
	"time"
)

// Issue is one tracker work item.
type Issue struct {
	Number    int
	Title     string
	Body      string
	Labels    []string
	State     string
	URL       string
	CreatedAt time.Time
}

// PullRequest is one change proposal.
type PullRequest struct {
	Number      int
	Title       string
	Body        string
	State       string
	URL         string
	HeadBranch  string
	BaseBranch  string
	Merged      bool
	MergeCommit string
}

// Check is one CI check on a pull request.
type Check struct {
	Name       string
	Status     string
	Conclusion string
}

// RateLimit mirrors the tracker's core API quota window.
type RateLimit struct {
	Limit     int
	Remaining int
	Used      int
	ResetTime time.Time
}

// Host is the tracker surface the cycles depend on. Reads are retried by
// the implementation; writes surface their first error.
type Host interface {
	ListIssues(ctx context.Context, labels []string, state string, limit int) ([]Issue, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error)
	Comment(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int, comment string) error

	CreatePR(ctx context.Context, head, base, title, body string) (*PullRequest, error)
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	MergePR(ctx context.Context, number int, strategy string) error
	PRChecks(ctx context.Context, number int) ([]Check, error)
	RequestReview(ctx context.Context, number int, reviewers []string) error

	GetFile(ctx context.Context, path, ref string) (string, error)
	GetRateLimit(ctx context.Context) (*RateLimit, error)
}
