package track

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testTracker() *Tracker {
	return NewTracker(zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestBeginRegistersActiveContext(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	ctx := tr.Begin("execute_query", map[string]any{"sql": "SELECT 1"})

	if ctx.ID == "" {
		t.Fatal("expected non-empty execution id")
	}
	active := tr.ActiveContexts()
	if len(active) != 1 {
		t.Fatalf("expected 1 active context, got %d", len(active))
	}
	entry, ok := active[ctx.ID]
	if !ok {
		t.Fatalf("active set missing context %s", ctx.ID)
	}
	if entry.Tool != "execute_query" {
		t.Errorf("tool = %q, want execute_query", entry.Tool)
	}
}

func TestEndRemovesFromActiveSet(t *testing.T) {
	t.Parallel()
	tr := testTracker()

	ok := tr.Begin("execute_query", nil)
	tr.End(ok, nil)

	failed := tr.Begin("execute_query", nil)
	tr.End(failed, errors.New("boom"))

	if active := tr.ActiveContexts(); len(active) != 0 {
		t.Fatalf("expected empty active set, got %d entries", len(active))
	}
}

func TestStatsAccounting(t *testing.T) {
	t.Parallel()
	tr := testTracker()

	const successes = 3
	const failures = 2
	for i := 0; i < successes; i++ {
		tr.End(tr.Begin("list_tables", nil), nil)
	}
	for i := 0; i < failures; i++ {
		tr.End(tr.Begin("execute_query", nil), errors.New("boom"))
	}

	stats := tr.Stats()
	if stats.TotalExecutions != successes+failures {
		t.Errorf("TotalExecutions = %d, want %d", stats.TotalExecutions, successes+failures)
	}
	if stats.SuccessfulExecutions != successes {
		t.Errorf("SuccessfulExecutions = %d, want %d", stats.SuccessfulExecutions, successes)
	}
	if stats.FailedExecutions != failures {
		t.Errorf("FailedExecutions = %d, want %d", stats.FailedExecutions, failures)
	}
	wantRate := float64(successes) / float64(successes+failures)
	if stats.SuccessRate != wantRate {
		t.Errorf("SuccessRate = %v, want %v", stats.SuccessRate, wantRate)
	}
	if stats.ToolUsageCount["list_tables"] != successes {
		t.Errorf("list_tables usage = %d, want %d", stats.ToolUsageCount["list_tables"], successes)
	}
	if stats.ActiveExecutions != 0 {
		t.Errorf("ActiveExecutions = %d, want 0", stats.ActiveExecutions)
	}
}

func TestStatsEmptyTrackerDoesNotDivideByZero(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	stats := tr.Stats()
	if stats.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v, want 0", stats.SuccessRate)
	}
	if stats.AverageExecutionTime != 0 {
		t.Errorf("AverageExecutionTime = %v, want 0", stats.AverageExecutionTime)
	}
}

func TestEndRecordsErrorText(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	ctx := tr.Begin("execute_query", nil)
	tr.End(ctx, errors.New("relation does not exist"))

	if ctx.Success {
		t.Error("expected Success=false")
	}
	if ctx.Err != "relation does not exist" {
		t.Errorf("Err = %q", ctx.Err)
	}
	if ctx.EndTime.IsZero() {
		t.Error("expected EndTime to be set")
	}
}

func TestEndSetsEndTimeOnce(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	ctx := tr.Begin("execute_query", nil)
	ctx.EndTime = ctx.StartTime.Add(42 * time.Millisecond)
	tr.End(ctx, nil)
	if got := ctx.EndTime.Sub(ctx.StartTime); got != 42*time.Millisecond {
		t.Errorf("EndTime was overwritten, duration = %v", got)
	}
}

func TestResetZeroesCountersOnly(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	tr.End(tr.Begin("execute_query", nil), nil)
	inFlight := tr.Begin("describe_table", nil)

	tr.Reset()

	stats := tr.Stats()
	if stats.TotalExecutions != 0 || stats.SuccessfulExecutions != 0 || stats.FailedExecutions != 0 {
		t.Errorf("expected zeroed counters, got %+v", stats)
	}
	if len(tr.ActiveContexts()) != 1 {
		t.Error("expected in-flight context to survive Reset")
	}
	tr.End(inFlight, nil)
}

func TestDurationWhileRunning(t *testing.T) {
	t.Parallel()
	tr := testTracker()
	ctx := tr.Begin("execute_query", nil)
	time.Sleep(5 * time.Millisecond)
	if ctx.Duration() <= 0 {
		t.Error("expected positive running duration")
	}
	tr.End(ctx, nil)
}
