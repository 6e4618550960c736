package ratelimit

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// tempLimiter returns a limiter with sleeping captured instead of performed.
func tempLimiter(t *testing.T) (*Limiter, *[]time.Duration) {
	t.Helper()
	l := New(filepath.Join(t.TempDir(), "ratelimit.json"), testLogger())
	var slept []time.Duration
	l.sleep = func(d time.Duration) { slept = append(slept, d) }
	return l, &slept
}

func TestAcquireUnknownAPIUnconstrained(t *testing.T) {
	l, _ := tempLimiter(t)
	if err := l.Acquire("github", 100); err != nil {
		t.Fatalf("unknown api must be unconstrained: %v", err)
	}
}

func TestAcquireNearExhaustion(t *testing.T) {
	l, slept := tempLimiter(t)
	reset := time.Now().Add(30 * time.Minute)
	if err := l.Update("github", 5000, 5, reset); err != nil {
		t.Fatal(err)
	}

	// Ten units cannot fit in a window with five remaining.
	err := l.Acquire("github", 10)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("err = %v, want ExceededError", err)
	}
	if exceeded.RetryAfter <= 0 || exceeded.RetryAfter > 30*time.Minute {
		t.Errorf("retry after = %v", exceeded.RetryAfter)
	}

	// Three units fit, but the window is past the critical threshold.
	if err := l.Acquire("github", 3); err != nil {
		t.Fatalf("acquire(3) = %v, want nil", err)
	}
	if len(*slept) != 1 || (*slept)[0] != criticalSleep {
		t.Errorf("slept = %v, want one critical sleep", *slept)
	}

	st, ok := l.Snapshot("github")
	if !ok || st.Remaining != 2 || st.Used != 4998 {
		t.Errorf("state = %+v, want remaining 2 used 4998", st)
	}
	if st.Used+st.Remaining != st.Limit {
		t.Errorf("window invariant broken: %+v", st)
	}
}

func TestAcquireWarningThreshold(t *testing.T) {
	l, slept := tempLimiter(t)
	if err := l.Update("github", 100, 20, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if err := l.Acquire("github", 1); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != warnSleep {
		t.Errorf("slept = %v, want one warning sleep", *slept)
	}
}

func TestAcquireAfterReset(t *testing.T) {
	l, _ := tempLimiter(t)
	if err := l.Update("github", 100, 0, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	if err := l.Acquire("github", 10); err != nil {
		t.Fatalf("window past reset must refill: %v", err)
	}
	st, _ := l.Snapshot("github")
	if st.Remaining != 90 || st.Used != 10 {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	l, _ := tempLimiter(t)

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		if got := l.RecordFailure("github"); got != w {
			t.Fatalf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}

	l.RecordSuccess("github")
	if got := l.Backoff("github"); got != 0 {
		t.Errorf("backoff after success = %v, want 0", got)
	}
	if got := l.RecordFailure("github"); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")

	l := New(path, testLogger())
	l.sleep = func(time.Duration) {}
	if err := l.Update("github", 1000, 400, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	l.RecordFailure("github")
	l.RecordFailure("github")

	reloaded := New(path, testLogger())
	st, ok := reloaded.Snapshot("github")
	if !ok || st.Limit != 1000 || st.Remaining != 400 {
		t.Errorf("reloaded state = %+v", st)
	}
	if got := reloaded.Backoff("github"); got != 2*time.Second {
		t.Errorf("reloaded backoff = %v, want 2s", got)
	}
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path, testLogger())
	if _, ok := l.Snapshot("github"); ok {
		t.Error("corrupt state must start empty")
	}
	if err := l.Acquire("github", 1); err != nil {
		t.Errorf("acquire on empty limiter = %v", err)
	}
}
