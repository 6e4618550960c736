package schedule

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func tempScheduler(t *testing.T, frequency Frequency) (*Scheduler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.json")
	s, err := Open(path, frequency, testLogger())
	require.NoError(t, err)
	return s, path
}

func TestParseFrequency(t *testing.T) {
	for _, valid := range []string{"manual", "daily", "weekly", "monthly", ""} {
		_, err := ParseFrequency(valid)
		require.NoError(t, err, "frequency %q", valid)
	}
	_, err := ParseFrequency("hourly")
	require.Error(t, err)
}

func TestManualOnlyGeneratesWhenForced(t *testing.T) {
	s, _ := tempScheduler(t, Manual)
	require.False(t, s.ShouldGenerate(false), "manual schedule generated without force")
	require.True(t, s.ShouldGenerate(true), "force should bypass the manual gate")
}

func TestWeeklyGate(t *testing.T) {
	s, _ := tempScheduler(t, Weekly)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	require.True(t, s.ShouldGenerate(false), "first run should be due immediately")
	require.NoError(t, s.MarkComplete("cycle-1", base))
	require.False(t, s.ShouldGenerate(false), "due again right after completion")

	s.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	require.False(t, s.ShouldGenerate(false), "due after six days on a weekly schedule")

	s.now = func() time.Time { return base.Add(7 * 24 * time.Hour) }
	require.True(t, s.ShouldGenerate(false), "not due after seven days")
}

func TestMarkFailedKeepsScheduleDue(t *testing.T) {
	s, _ := tempScheduler(t, Daily)
	require.NoError(t, s.MarkFailed("runner unavailable"))
	require.True(t, s.ShouldGenerate(false), "failure must not advance the generation clock")
	require.Contains(t, s.GetStatus().LastFailure, "runner unavailable")
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	s, path := tempScheduler(t, Daily)
	at := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkComplete("cycle-1", at))

	reopened, err := Open(path, Daily, testLogger())
	require.NoError(t, err)

	st := reopened.GetStatus()
	require.Equal(t, 1, st.GenerationCount)
	require.True(t, st.LastGenerationTime.Equal(at))
	require.True(t, st.NextDue.Equal(at.Add(24*time.Hour)))
}

func TestCorruptStateStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	s, err := Open(path, Weekly, testLogger())
	require.NoError(t, err)
	require.Zero(t, s.GetStatus().GenerationCount)
}
