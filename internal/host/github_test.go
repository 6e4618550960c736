package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// stubGitHub returns a GitHub whose gh invocations are captured and served
// from canned output.
func stubGitHub(output string, err error) (*GitHub, *[][]string) {
	g := NewGitHub("gh", "", "/tmp/ws", testLogger())
	var calls [][]string
	g.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte(output), err
	}
	return g, &calls
}

func TestListIssuesParsesLabels(t *testing.T) {
	g, calls := stubGitHub(`[
		{"number":7,"title":"Flaky auth tests","body":"...","state":"OPEN",
		 "url":"https://github.com/o/r/issues/7",
		 "labels":[{"name":"priority-high"},{"name":"bug"}]}
	]`, nil)

	issues, err := g.ListIssues(context.Background(), []string{"bug"}, "open", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Number != 7 {
		t.Fatalf("issues = %+v", issues)
	}
	if !reflect.DeepEqual(issues[0].Labels, []string{"priority-high", "bug"}) {
		t.Errorf("labels = %v", issues[0].Labels)
	}

	args := (*calls)[0]
	want := []string{"issue", "list", "--state", "open", "--limit", "10", "--json", issueJSONFields, "--label", "bug"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestCreateIssueParsesNumberFromURL(t *testing.T) {
	g, calls := stubGitHub("https://github.com/o/r/issues/42\n", nil)

	issue, err := g.CreateIssue(context.Background(), "Add caching", "body", []string{"enhancement", "bot-approved"})
	if err != nil {
		t.Fatal(err)
	}
	if issue.Number != 42 {
		t.Errorf("number = %d, want 42", issue.Number)
	}

	args := (*calls)[0]
	if args[len(args)-2] != "--label" || args[len(args)-1] != "enhancement,bot-approved" {
		t.Errorf("label args = %v", args)
	}
}

func TestConfiguredRepoPinsCommands(t *testing.T) {
	g := NewGitHub("gh", "octo/reflex", "/tmp/ws", testLogger())
	var calls [][]string
	g.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte(`[]`), nil
	}

	if _, err := g.ListIssues(context.Background(), nil, "open", 5); err != nil {
		t.Fatal(err)
	}
	args := calls[0]
	if args[len(args)-2] != "--repo" || args[len(args)-1] != "octo/reflex" {
		t.Errorf("issue args = %v, want trailing --repo octo/reflex", args)
	}

	g.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte("https://github.com/octo/reflex/pull/5\n"), nil
	}
	if _, err := g.CreatePR(context.Background(), "feature/x", "main", "t", "b"); err != nil {
		t.Fatal(err)
	}
	args = calls[1]
	if args[len(args)-2] != "--repo" || args[len(args)-1] != "octo/reflex" {
		t.Errorf("pr args = %v, want trailing --repo octo/reflex", args)
	}

	g.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte("contents"), nil
	}
	if _, err := g.GetFile(context.Background(), "README.md", ""); err != nil {
		t.Fatal(err)
	}
	args = calls[2]
	if args[len(args)-1] != "repos/octo/reflex/contents/README.md" {
		t.Errorf("api endpoint = %q, want the pinned repo path", args[len(args)-1])
	}
	for _, a := range args {
		if a == "--repo" {
			t.Errorf("api args = %v, --repo must not leak onto api calls", args)
		}
	}
}

func TestReadRetriesWriteDoesNot(t *testing.T) {
	g := NewGitHub("gh", "", "", testLogger())
	reads := 0
	g.run = func(context.Context, string, ...string) ([]byte, error) {
		reads++
		return nil, errors.New("transient")
	}

	if _, err := g.GetIssue(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
	if reads != readRetries {
		t.Errorf("read attempts = %d, want %d", reads, readRetries)
	}

	reads = 0
	if err := g.Comment(context.Background(), 1, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if reads != 1 {
		t.Errorf("write attempts = %d, want 1", reads)
	}
}

func TestGetPRMergeState(t *testing.T) {
	g, _ := stubGitHub(`{"number":9,"title":"t","state":"MERGED",
		"url":"https://github.com/o/r/pull/9",
		"headRefName":"feature/x","baseRefName":"main",
		"mergedAt":"2026-08-01T10:00:00Z","mergeCommit":{"oid":"abc123"}}`, nil)

	pr, err := g.GetPR(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if !pr.Merged || pr.MergeCommit != "abc123" {
		t.Errorf("pr = %+v, want merged with commit abc123", pr)
	}
}

func TestGetRateLimit(t *testing.T) {
	g, _ := stubGitHub(`{"resources":{"core":{"limit":5000,"remaining":4321,"used":679,"reset":1767222000}}}`, nil)

	rl, err := g.GetRateLimit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rl.Limit != 5000 || rl.Remaining != 4321 || rl.Used != 679 {
		t.Errorf("rate limit = %+v", rl)
	}
	if rl.ResetTime.IsZero() {
		t.Error("reset time not parsed")
	}
}

func TestMergeStrategyFlag(t *testing.T) {
	g, calls := stubGitHub("", nil)
	if err := g.MergePR(context.Background(), 3, "squash"); err != nil {
		t.Fatal(err)
	}
	args := (*calls)[0]
	if args[len(args)-1] != "--squash" {
		t.Errorf("args = %v, want squash flag", args)
	}
}

func TestFakeRoundTrip(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	issue, err := f.CreateIssue(ctx, "title", "body", []string{"enhancement"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.AddLabels(ctx, issue.Number, []string{"priority-high"}); err != nil {
		t.Fatal(err)
	}
	got, err := f.GetIssue(ctx, issue.Number)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labels) != 2 {
		t.Errorf("labels = %v", got.Labels)
	}

	listed, err := f.ListIssues(ctx, []string{"enhancement"}, "open", 0)
	if err != nil || len(listed) != 1 {
		t.Errorf("listed = %v err = %v", listed, err)
	}

	if err := f.CloseIssue(ctx, issue.Number, "done"); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.GetIssue(ctx, issue.Number); got.State != "closed" {
		t.Errorf("state = %q, want closed", got.State)
	}
}
