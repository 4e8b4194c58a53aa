// Package track records per-invocation execution contexts and aggregate
// statistics for the gateway. A Context is opened before an invocation runs
// and must be closed on every exit path; closing removes it from the active
// set and folds its outcome into the counters.
package track

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observation thresholds are fixed so slow-operation logging stays
// consistent across tools.
const (
	slowWarnThreshold = 5 * time.Second
	slowInfoThreshold = 1 * time.Second
)

// Context is the bookkeeping record for one invocation. It is mutated only
// by the owning invocation via Tracker.End.
type Context struct {
	ID         string
	Tool       string
	Parameters map[string]any
	StartTime  time.Time
	EndTime    time.Time
	Success    bool
	Err        string
	ResultSize int
}

// Duration returns the execution time, or elapsed time if still running.
func (c *Context) Duration() time.Duration {
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// Stats is a point-in-time snapshot of the aggregate counters. Derived
// fields are computed at snapshot time, not stored.
type Stats struct {
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	FailedExecutions     int64            `json:"failed_executions"`
	TotalExecutionTime   time.Duration    `json:"total_execution_time"`
	ToolUsageCount       map[string]int64 `json:"tool_usage_count"`
	ActiveExecutions     int              `json:"active_executions"`
	SuccessRate          float64          `json:"success_rate"`
	AverageExecutionTime time.Duration    `json:"average_execution_time"`
}

// ActiveContext describes one in-flight invocation for live diagnostics.
type ActiveContext struct {
	Tool        string         `json:"tool_name"`
	StartTime   time.Time      `json:"start_time"`
	RunningTime time.Duration  `json:"running_time"`
	Parameters  map[string]any `json:"parameters"`
}

// Tracker owns the active-context set and the aggregate counters. All
// methods are safe for concurrent use; the counters are guarded by a mutex
// because goroutines, unlike a cooperative event loop, can interleave
// mid-update.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*Context

	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	totalExecutionTime   time.Duration
	toolUsage            map[string]int64

	logger zerolog.Logger
}

// NewTracker creates an empty Tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		active:    make(map[string]*Context),
		toolUsage: make(map[string]int64),
		logger:    logger,
	}
}

// Begin opens a context for one invocation: allocates an id, snapshots the
// start time, registers it as active, and bumps the usage counters.
func (t *Tracker) Begin(tool string, parameters map[string]any) *Context {
	ctx := &Context{
		ID:         uuid.NewString(),
		Tool:       tool,
		Parameters: parameters,
		StartTime:  time.Now(),
	}

	t.mu.Lock()
	t.active[ctx.ID] = ctx
	t.totalExecutions++
	t.toolUsage[tool]++
	t.mu.Unlock()

	t.logger.Debug().
		Str("tool", tool).
		Str("execution_id", ctx.ID).
		Msg("tool execution started")
	return ctx
}

// End closes a context. err == nil marks success and accumulates execution
// time; otherwise the failure counter is bumped and the error text recorded.
// Removal from the active set is the final step and happens on both paths.
func (t *Tracker) End(ctx *Context, err error) {
	if ctx.EndTime.IsZero() {
		ctx.EndTime = time.Now()
	}
	duration := ctx.EndTime.Sub(ctx.StartTime)

	t.mu.Lock()
	if err == nil {
		ctx.Success = true
		t.successfulExecutions++
		t.totalExecutionTime += duration
	} else {
		ctx.Success = false
		ctx.Err = err.Error()
		t.failedExecutions++
	}
	delete(t.active, ctx.ID)
	t.mu.Unlock()

	if err != nil {
		t.logger.Error().
			Str("tool", ctx.Tool).
			Str("execution_id", ctx.ID).
			Dur("duration", duration).
			Str("error", ctx.Err).
			Msg("tool execution failed")
		return
	}
	t.observe(ctx, duration)
}

// observe logs the completed invocation at a level based on its duration.
func (t *Tracker) observe(ctx *Context, duration time.Duration) {
	event := t.logger.Debug()
	message := "tool execution completed"
	switch {
	case duration >= slowWarnThreshold:
		event = t.logger.Warn()
		message = "slow operation"
	case duration >= slowInfoThreshold:
		event = t.logger.Info()
	}
	event.
		Str("tool", ctx.Tool).
		Str("execution_id", ctx.ID).
		Dur("duration", duration).
		Int("result_size", ctx.ResultSize).
		Msg(message)
}

// Stats returns a snapshot of the counters with derived rates computed on
// demand.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	usage := make(map[string]int64, len(t.toolUsage))
	for tool, count := range t.toolUsage {
		usage[tool] = count
	}

	return Stats{
		TotalExecutions:      t.totalExecutions,
		SuccessfulExecutions: t.successfulExecutions,
		FailedExecutions:     t.failedExecutions,
		TotalExecutionTime:   t.totalExecutionTime,
		ToolUsageCount:       usage,
		ActiveExecutions:     len(t.active),
		SuccessRate:          float64(t.successfulExecutions) / float64(max(t.totalExecutions, 1)),
		AverageExecutionTime: t.totalExecutionTime / time.Duration(max(t.successfulExecutions, 1)),
	}
}

// ActiveContexts returns a snapshot of in-flight invocations keyed by
// execution id. Contexts that have already ended are never included.
func (t *Tracker) ActiveContexts() map[string]ActiveContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]ActiveContext, len(t.active))
	for id, ctx := range t.active {
		snapshot[id] = ActiveContext{
			Tool:        ctx.Tool,
			StartTime:   ctx.StartTime,
			RunningTime: time.Since(ctx.StartTime),
			Parameters:  ctx.Parameters,
		}
	}
	return snapshot
}

// Reset zeroes all counters. Active contexts are unaffected.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.totalExecutions = 0
	t.successfulExecutions = 0
	t.failedExecutions = 0
	t.totalExecutionTime = 0
	t.toolUsage = make(map[string]int64)
	t.mu.Unlock()
	t.logger.Info().Msg("execution statistics reset")
}
