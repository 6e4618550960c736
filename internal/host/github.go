package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	readRetries    = 3
	readRetryDelay = 500 * time.Millisecond
)

// runFunc executes one gh invocation; swapped out in tests.
type runFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// GitHub talks to the tracker through the gh CLI.
type GitHub struct {
	bin       string
	repo      string
	workspace string
	logger    *slog.Logger
	run       runFunc
}

// NewGitHub creates a gh-backed host rooted at workspace. bin defaults to
// "gh" when empty. A non-empty repo ("owner/name") pins every issue and PR
// command to that repository instead of the workspace's origin.
func NewGitHub(bin, repo, workspace string, logger *slog.Logger) *GitHub {
	if bin == "" {
		bin = "gh"
	}
	g := &GitHub{bin: bin, repo: repo, workspace: workspace, logger: logger}
	g.run = func(ctx context.Context, dir string, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, g.bin, args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return out, fmt.Errorf("host: gh %s: %w (%s)", args[0], err, strings.TrimSpace(string(out)))
		}
		return out, nil
	}
	return g
}

// scoped appends the --repo pin to issue and pr commands when configured.
func (g *GitHub) scoped(args []string) []string {
	if g.repo == "" || len(args) == 0 {
		return args
	}
	switch args[0] {
	case "issue", "pr":
		return append(args, "--repo", g.repo)
	}
	return args
}

// read runs a gh query with retries; write runs it once.
func (g *GitHub) read(ctx context.Context, args ...string) ([]byte, error) {
	args = g.scoped(args)
	var out []byte
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(readRetryDelay):
			}
			if g.logger != nil {
				g.logger.Debug("retrying host read", "attempt", attempt+1, "args", args)
			}
		}
		out, err = g.run(ctx, g.workspace, args...)
		if err == nil {
			return out, nil
		}
	}
	return out, err
}

func (g *GitHub) write(ctx context.Context, args ...string) ([]byte, error) {
	return g.run(ctx, g.workspace, g.scoped(args)...)
}

// ghIssue matches gh's --json issue shape.
type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (i ghIssue) toIssue() Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{
		Number: i.Number, Title: i.Title, Body: i.Body,
		Labels: labels, State: i.State, URL: i.URL, CreatedAt: i.CreatedAt,
	}
}

const issueJSONFields = "number,title,body,labels,state,url,createdAt"

func (g *GitHub) ListIssues(ctx context.Context, labels []string, state string, limit int) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 {
		limit = 30
	}
	args := []string{"issue", "list", "--state", state, "--limit", strconv.Itoa(limit), "--json", issueJSONFields}
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	out, err := g.read(ctx, args...)
	if err != nil {
		return nil, err
	}
	var raw []ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("host: parse issue list: %w", err)
	}
	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, r.toIssue())
	}
	return issues, nil
}

func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := g.read(ctx, "issue", "view", strconv.Itoa(number), "--json", issueJSONFields)
	if err != nil {
		return nil, err
	}
	var raw ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("host: parse issue %d: %w", number, err)
	}
	issue := raw.toIssue()
	return &issue, nil
}

func (g *GitHub) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	args := []string{"issue", "create", "--title", title, "--body", body}
	if len(labels) > 0 {
		args = append(args, "--label", strings.Join(labels, ","))
	}
	out, err := g.write(ctx, args...)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSpace(string(out))
	issue := &Issue{Title: title, Body: body, Labels: labels, State: "open", URL: url}
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		issue.Number, _ = strconv.Atoi(url[idx+1:])
	}
	if g.logger != nil {
		g.logger.Info("issue created", "number", issue.Number, "url", url)
	}
	return issue, nil
}

func (g *GitHub) Comment(ctx context.Context, number int, body string) error {
	_, err := g.write(ctx, "issue", "comment", strconv.Itoa(number), "--body", body)
	return err
}

func (g *GitHub) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, err := g.write(ctx, "issue", "edit", strconv.Itoa(number), "--add-label", strings.Join(labels, ","))
	return err
}

func (g *GitHub) RemoveLabel(ctx context.Context, number int, label string) error {
	_, err := g.write(ctx, "issue", "edit", strconv.Itoa(number), "--remove-label", label)
	return err
}

func (g *GitHub) CloseIssue(ctx context.Context, number int, comment string) error {
	args := []string{"issue", "close", strconv.Itoa(number)}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	_, err := g.write(ctx, args...)
	return err
}

// ghPR matches gh's --json pull request shape.
type ghPR struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	URL         string     `json:"url"`
	HeadRefName string     `json:"headRefName"`
	BaseRefName string     `json:"baseRefName"`
	MergedAt    *time.Time `json:"mergedAt"`
	MergeCommit *struct {
		OID string `json:"oid"`
	} `json:"mergeCommit"`
}

const prJSONFields = "number,title,body,state,url,headRefName,baseRefName,mergedAt,mergeCommit"

func (g *GitHub) CreatePR(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	out, err := g.write(ctx, "pr", "create", "--head", head, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSpace(string(out))
	pr := &PullRequest{Title: title, Body: body, State: "open", URL: url, HeadBranch: head, BaseBranch: base}
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		pr.Number, _ = strconv.Atoi(url[idx+1:])
	}
	if g.logger != nil {
		g.logger.Info("pull request created", "number", pr.Number, "url", url)
	}
	return pr, nil
}

func (g *GitHub) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	out, err := g.read(ctx, "pr", "view", strconv.Itoa(number), "--json", prJSONFields)
	if err != nil {
		return nil, err
	}
	var raw ghPR
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("host: parse PR %d: %w", number, err)
	}
	pr := &PullRequest{
		Number: raw.Number, Title: raw.Title, Body: raw.Body,
		State: raw.State, URL: raw.URL,
		HeadBranch: raw.HeadRefName, BaseBranch: raw.BaseRefName,
		Merged: raw.MergedAt != nil,
	}
	if raw.MergeCommit != nil {
		pr.MergeCommit = raw.MergeCommit.OID
	}
	return pr, nil
}

func (g *GitHub) MergePR(ctx context.Context, number int, strategy string) error {
	flag := "--merge"
	switch strategy {
	case "squash":
		flag = "--squash"
	case "rebase":
		flag = "--rebase"
	}
	_, err := g.write(ctx, "pr", "merge", strconv.Itoa(number), flag)
	return err
}

func (g *GitHub) PRChecks(ctx context.Context, number int) ([]Check, error) {
	out, err := g.read(ctx, "pr", "view", strconv.Itoa(number), "--json", "statusCheckRollup")
	if err != nil {
		return nil, err
	}
	var raw struct {
		StatusCheckRollup []struct {
			Name       string `json:"name"`
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("host: parse PR %d checks: %w", number, err)
	}
	checks := make([]Check, 0, len(raw.StatusCheckRollup))
	for _, c := range raw.StatusCheckRollup {
		checks = append(checks, Check{Name: c.Name, Status: c.Status, Conclusion: c.Conclusion})
	}
	return checks, nil
}

func (g *GitHub) RequestReview(ctx context.Context, number int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	_, err := g.write(ctx, "pr", "edit", strconv.Itoa(number), "--add-reviewer", strings.Join(reviewers, ","))
	return err
}

// GetFile fetches a file's raw contents at an optional ref.
func (g *GitHub) GetFile(ctx context.Context, path, ref string) (string, error) {
	endpoint := "repos/{owner}/{repo}/contents/" + path
	if g.repo != "" {
		endpoint = "repos/" + g.repo + "/contents/" + path
	}
	if ref != "" {
		endpoint += "?ref=" + ref
	}
	out, err := g.read(ctx, "api", "-H", "Accept: application/vnd.github.raw", endpoint)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (g *GitHub) GetRateLimit(ctx context.Context) (*RateLimit, error) {
	out, err := g.read(ctx, "api", "rate_limit")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Used      int   `json:"used"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("host: parse rate limit: %w", err)
	}
	core := raw.Resources.Core
	return &RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Used:      core.Used,
		ResetTime: time.Unix(core.Reset, 0),
	}, nil
}
