package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cipherscout/ralph/internal/accounting"
	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/llm"
	"github.com/cipherscout/ralph/internal/store"
	"github.com/cipherscout/ralph/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedExecutor plays back one scripted step per Execute call
type scriptedExecutor struct {
	steps []func(dispatch llm.ToolDispatcher) *llm.IterationResult
	calls int
}

func (s *scriptedExecutor) Name() string { return "scripted" }

func (s *scriptedExecutor) Execute(ctx context.Context, req llm.Request, dispatch llm.ToolDispatcher) (*llm.IterationResult, error) {
	if ctx.Err() != nil {
		return &llm.IterationResult{Success: false, Error: "cancelled"}, nil
	}
	if s.calls >= len(s.steps) {
		return &llm.IterationResult{Success: true}, nil
	}
	step := s.steps[s.calls]
	s.calls++
	return step(dispatch)
}

func call(t *testing.T, dispatch llm.ToolDispatcher, tool string, input any) error {
	t.Helper()
	var raw json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		require.NoError(t, err)
		raw = data
	}
	_, err := dispatch(tool, raw)
	return err
}

// completeTaskStep marks one task in_progress then complete, reporting
// modest token usage.
func completeTaskStep(t *testing.T, taskID string, tokens int) func(llm.ToolDispatcher) *llm.IterationResult {
	return func(dispatch llm.ToolDispatcher) *llm.IterationResult {
		require.NoError(t, call(t, dispatch, "mark_task_in_progress", map[string]string{"task_id": taskID}))
		require.NoError(t, call(t, dispatch, "mark_task_complete", map[string]any{"task_id": taskID, "notes": "done"}))
		return &llm.IterationResult{Success: true, TaskCompleted: true, TaskID: taskID, InputTokens: tokens, OutputTokens: 100, ToolCalls: 2}
	}
}

func idleStep(tokens int) func(llm.ToolDispatcher) *llm.IterationResult {
	return func(llm.ToolDispatcher) *llm.IterationResult {
		return &llm.IterationResult{Success: true, InputTokens: tokens, OutputTokens: 50}
	}
}

func newTestOrchestrator(t *testing.T, exec llm.Executor, mutate func(*config.Config)) (*Orchestrator, *store.Store) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	st := store.New(root)
	require.NoError(t, st.EnsureRalphDir())
	state, err := st.InitializeState(cfg.CircuitBreakerFailures, cfg.CircuitBreakerStagnation, cfg.CostLimits.Total)
	require.NoError(t, err)
	state.CurrentPhase = types.PhaseBuilding
	state.SessionID = "session-under-test"
	require.NoError(t, st.SaveState(state))
	_, err = st.InitializePlan()
	require.NoError(t, err)

	return New(root, cfg, st, exec, display.NewWithOptions(true), nil), st
}

func seedPlan(t *testing.T, st *store.Store, tasks ...types.Task) {
	t.Helper()
	plan, err := st.LoadPlan()
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, plan.AddTask(task))
	}
	require.NoError(t, st.SavePlan(plan))
}

func TestHappyPathBuilding(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st,
		types.Task{ID: "A", Description: "first", Priority: 1},
		types.Task{ID: "B", Description: "second", Priority: 2, Dependencies: []string{"A"}},
	)
	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		completeTaskStep(t, "A", 1000),
		completeTaskStep(t, "B", 1000),
	}

	result, err := o.Run(context.Background(), 3)
	require.NoError(t, err)

	// Two productive iterations, then the settled plan moves building ->
	// validation; validation (no configured commands) passes and ends the
	// run.
	assert.Equal(t, HaltCompleted, result.Kind)

	plan, err := st.LoadPlan()
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, plan.TaskByID("A").Status)
	assert.Equal(t, types.StatusComplete, plan.TaskByID("B").Status)
	assert.Equal(t, float64(100), plan.CompletionPercentage())

	state, err := st.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 2, state.TasksCompletedThisSession)
	assert.Equal(t, types.BreakerClosed, state.CircuitBreaker.State)
}

func TestStagnationHalt(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "never done", Priority: 1})
	for i := 0; i < 6; i++ {
		exec.steps = append(exec.steps, idleStep(500))
	}

	result, err := o.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, HaltBreaker, result.Kind)
	assert.Equal(t, "stagnation:5", result.Reason)
	assert.Equal(t, 5, result.Iterations, "halt fires at the threshold, checked before the sixth run")

	state, err := st.LoadState()
	require.NoError(t, err)
	assert.False(t, state.Paused)
	assert.Equal(t, types.BreakerOpen, state.CircuitBreaker.State)
	assert.Equal(t, 5, state.CircuitBreaker.StagnationCount)
}

func TestHandoffAtSmartZone(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st,
		types.Task{ID: "A", Description: "big", Priority: 1},
		types.Task{ID: "B", Description: "later", Priority: 2},
	)
	// 119.9k input + 100 output tokens = 120k, 60% of the 200k window.
	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		func(dispatch llm.ToolDispatcher) *llm.IterationResult {
			require.NoError(t, call(t, dispatch, "mark_task_in_progress", map[string]string{"task_id": "A"}))
			require.NoError(t, call(t, dispatch, "mark_task_complete", map[string]any{"task_id": "A"}))
			return &llm.IterationResult{Success: true, InputTokens: 119_900, OutputTokens: 100}
		},
	}

	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, HaltIterationCap, result.Kind)

	state, err := st.LoadState()
	require.NoError(t, err)
	assert.NotEqual(t, "session-under-test", state.SessionID, "hand-off regenerates the session id")
	assert.Zero(t, state.SessionTokensUsed, "session counters reset")
	assert.Equal(t, 120_000, state.TotalTokensUsed, "project totals survive")

	records, err := st.LoadSessionArchive(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "context_budget", records[0].HandoffReason)
	assert.Equal(t, "session-under-test", records[0].SessionID)
	assert.Equal(t, 120_000, records[0].TokensUsed)
}

func TestBelowSmartZoneNoHandoff(t *testing.T) {
	exec := &scriptedExecutor{steps: []func(llm.ToolDispatcher) *llm.IterationResult{idleStep(119_000)}}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})

	_, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	records, err := st.LoadSessionArchive(0)
	require.NoError(t, err)
	assert.Empty(t, records, "119.05k of 200k stays under the 60% trigger")
}

func TestSafetyDenialDoesNotFailIteration(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})

	var denyErr error
	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		func(dispatch llm.ToolDispatcher) *llm.IterationResult {
			denyErr = call(t, dispatch, "Bash", map[string]string{"command": "git commit -m x"})
			require.NoError(t, call(t, dispatch, "mark_task_in_progress", map[string]string{"task_id": "A"}))
			require.NoError(t, call(t, dispatch, "mark_task_complete", map[string]any{"task_id": "A"}))
			return &llm.IterationResult{Success: true, InputTokens: 500, OutputTokens: 50, ToolCalls: 3}
		},
	}

	_, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Error(t, denyErr, "denied call surfaces as a tool failure")
	assert.Contains(t, denyErr.Error(), "version-control state changes not permitted")

	state, err := st.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 0, state.CircuitBreaker.FailureCount, "denial is not an iteration failure")

	plan, err := st.LoadPlan()
	require.NoError(t, err)
	assert.Equal(t, 0, plan.TaskByID("A").RetryCount, "no failure recorded against the task")
}

func TestPausedStateStopsLoop(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	state, err := st.LoadState()
	require.NoError(t, err)
	state.Paused = true
	require.NoError(t, st.SaveState(state))

	result, err := o.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, HaltPaused, result.Kind)
	assert.Equal(t, 0, exec.calls, "no executor call while paused")
}

func TestExecutorFailuresOpenBreaker(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})
	for i := 0; i < 4; i++ {
		exec.steps = append(exec.steps, func(llm.ToolDispatcher) *llm.IterationResult {
			return &llm.IterationResult{Success: false, Error: "transport exploded", InputTokens: 100}
		})
	}

	result, err := o.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, HaltBreaker, result.Kind)
	assert.Equal(t, "consecutive_failures:3", result.Reason)

	plan, err := st.LoadPlan()
	require.NoError(t, err)
	assert.Equal(t, 3, plan.TaskByID("A").RetryCount, "each failed iteration charges the task")
}

func TestInjectionConsumedOnce(t *testing.T) {
	var prompts []string
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})
	require.NoError(t, st.AddInjection(types.Injection{Timestamp: types.Now(), Content: "focus on edge cases", Source: types.SourceUser}))

	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		idleStep(100), idleStep(100),
	}

	promptCapture := &promptCapturingExecutor{inner: exec, prompts: &prompts}
	o.exec = promptCapture

	_, err := o.Run(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "focus on edge cases")
	assert.NotContains(t, prompts[1], "focus on edge cases", "injection lives one iteration")
}

// promptCapturingExecutor records the system prompt of each call
type promptCapturingExecutor struct {
	inner   llm.Executor
	prompts *[]string
}

func (p *promptCapturingExecutor) Name() string { return "capture" }

func (p *promptCapturingExecutor) Execute(ctx context.Context, req llm.Request, dispatch llm.ToolDispatcher) (*llm.IterationResult, error) {
	*p.prompts = append(*p.prompts, req.SystemPrompt)
	return p.inner.Execute(ctx, req, dispatch)
}

func TestCancellationPersistsAndExits(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})

	ctx, cancel := context.WithCancel(context.Background())
	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		func(llm.ToolDispatcher) *llm.IterationResult {
			cancel()
			return &llm.IterationResult{Success: false, Error: "cancelled", InputTokens: 100}
		},
	}

	result, err := o.Run(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, HaltCancelled, result.Kind)

	// Bookkeeping still landed on disk.
	state, err := st.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 1, state.IterationCount)
}

func TestCostLimitHalt(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, func(cfg *config.Config) {
		cfg.CostLimits.Total = 0.50
	})
	seedPlan(t, st, types.Task{ID: "A", Description: "x", Priority: 1})
	// Each iteration costs ~$0.30 at sonnet pricing (100k input tokens).
	exec.steps = []func(llm.ToolDispatcher) *llm.IterationResult{
		idleStep(100_000), idleStep(100_000), idleStep(100_000),
	}

	result, err := o.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, HaltBreaker, result.Kind)
	assert.Contains(t, result.Reason, "cost_limit")
}

func TestLockPreventsSecondOrchestrator(t *testing.T) {
	exec := &scriptedExecutor{}
	o, st := newTestOrchestrator(t, exec, nil)
	release, err := st.AcquireLock()
	require.NoError(t, err)
	defer release()

	_, err = o.Run(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrLocked)
}

func TestRecoveryTable(t *testing.T) {
	tests := []struct {
		name string
		f    failure
		want Action
	}{
		{"default is retry", failure{retriesSpent: 0, maxRetries: 3}, ActionRetry},
		{"retries exhausted skips", failure{retriesSpent: 3, maxRetries: 3}, ActionSkipTask},
		{"cancelled pauses", failure{cancelled: true}, ActionManual},
		{"total budget pauses", failure{budgetErr: fmt.Errorf("wrap: %w", accounting.ErrTotalBudgetExceeded)}, ActionManual},
		{"session budget hands off", failure{budgetErr: accounting.ErrSessionBudgetExceeded}, ActionHandoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideRecovery(tt.f))
		})
	}
}
