package host

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Host for tests across packages.
type Fake struct {
	mu         sync.Mutex
	issues     map[int]*Issue
	prs        map[int]*PullRequest
	comments   map[int][]string
	files      map[string]string
	nextIssue  int
	nextPR     int
	FailWrites bool
}

var _ Host = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		issues:    make(map[int]*Issue),
		prs:       make(map[int]*PullRequest),
		comments:  make(map[int][]string),
		files:     make(map[string]string),
		nextIssue: 1,
		nextPR:    1,
	}
}

func (f *Fake) writeErr() error {
	if f.FailWrites {
		return fmt.Errorf("host: write refused")
	}
	return nil
}

func (f *Fake) ListIssues(_ context.Context, labels []string, state string, limit int) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Issue
	for _, issue := range f.issues {
		if state != "" && state != "all" && issue.State != state {
			continue
		}
		if !hasAllLabels(issue.Labels, labels) {
			continue
		}
		out = append(out, *issue)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GetIssue(_ context.Context, number int) (*Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("host: issue %d not found", number)
	}
	cp := *issue
	return &cp, nil
}

func (f *Fake) CreateIssue(_ context.Context, title, body string, labels []string) (*Issue, error) {
	if err := f.writeErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := &Issue{
		Number:    f.nextIssue,
		Title:     title,
		Body:      body,
		Labels:    append([]string{}, labels...),
		State:     "open",
		URL:       fmt.Sprintf("https://example.test/issues/%d", f.nextIssue),
		CreatedAt: time.Now(),
	}
	f.issues[issue.Number] = issue
	f.nextIssue++
	cp := *issue
	return &cp, nil
}

func (f *Fake) Comment(_ context.Context, number int, body string) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[number] = append(f.comments[number], body)
	return nil
}

func (f *Fake) AddLabels(_ context.Context, number int, labels []string) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return fmt.Errorf("host: issue %d not found", number)
	}
	for _, l := range labels {
		if !hasAllLabels(issue.Labels, []string{l}) {
			issue.Labels = append(issue.Labels, l)
		}
	}
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, number int, label string) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return fmt.Errorf("host: issue %d not found", number)
	}
	kept := issue.Labels[:0]
	for _, l := range issue.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	issue.Labels = kept
	return nil
}

func (f *Fake) CloseIssue(_ context.Context, number int, comment string) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[number]
	if !ok {
		return fmt.Errorf("host: issue %d not found", number)
	}
	issue.State = "closed"
	if comment != "" {
		f.comments[number] = append(f.comments[number], comment)
	}
	return nil
}

func (f *Fake) CreatePR(_ context.Context, head, base, title, body string) (*PullRequest, error) {
	if err := f.writeErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pr := &PullRequest{
		Number:     f.nextPR,
		Title:      title,
		Body:       body,
		State:      "open",
		URL:        fmt.Sprintf("https://example.test/pull/%d", f.nextPR),
		HeadBranch: head,
		BaseBranch: base,
	}
	f.prs[pr.Number] = pr
	f.nextPR++
	cp := *pr
	return &cp, nil
}

func (f *Fake) GetPR(_ context.Context, number int) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("host: PR %d not found", number)
	}
	cp := *pr
	return &cp, nil
}

func (f *Fake) MergePR(_ context.Context, number int, _ string) error {
	if err := f.writeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[number]
	if !ok {
		return fmt.Errorf("host: PR %d not found", number)
	}
	pr.State = "merged"
	pr.Merged = true
	return nil
}

func (f *Fake) PRChecks(_ context.Context, number int) ([]Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.prs[number]; !ok {
		return nil, fmt.Errorf("host: PR %d not found", number)
	}
	return nil, nil
}

func (f *Fake) RequestReview(_ context.Context, number int, _ []string) error {
	return f.writeErr()
}

func (f *Fake) GetFile(_ context.Context, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := path
	if ref != "" {
		key = path + "@" + ref
	}
	content, ok := f.files[key]
	if !ok {
		return "", fmt.Errorf("host: file %s not found", key)
	}
	return content, nil
}

// SetFile seeds content served by GetFile.
func (f *Fake) SetFile(path, ref, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := path
	if ref != "" {
		key = path + "@" + ref
	}
	f.files[key] = content
}

func (f *Fake) GetRateLimit(context.Context) (*RateLimit, error) {
	return &RateLimit{Limit: 5000, Remaining: 5000, ResetTime: time.Now().Add(time.Hour)}, nil
}

// SeedPR installs a pull request directly, for tests that need a merged PR
// without walking the create/merge flow.
func (f *Fake) SeedPR(pr PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := pr
	f.prs[pr.Number] = &cp
	if pr.Number >= f.nextPR {
		f.nextPR = pr.Number + 1
	}
}

// Issues returns a snapshot of all stored issues for assertions.
func (f *Fake) Issues() []Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Issue, 0, len(f.issues))
	for _, issue := range f.issues {
		out = append(out, *issue)
	}
	return out
}

// Comments returns the comments recorded for an issue or PR number.
func (f *Fake) Comments(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.comments[number]...)
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
