// Package tools is the orchestrator-owned tool surface: the only way the
// executor changes persistent state. Each call loads the latest snapshot,
// applies a pure transition from the data model, persists atomically, and
// returns a structured result.
package tools

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cipherscout/ralph/internal/scheduler"
	"github.com/cipherscout/ralph/internal/store"
	"github.com/cipherscout/ralph/internal/types"
)

// Tool names accepted by Dispatch
const (
	GetNextTask         = "get_next_task"
	MarkTaskComplete    = "mark_task_complete"
	MarkTaskBlocked     = "mark_task_blocked"
	MarkTaskInProgress  = "mark_task_in_progress"
	IncrementRetry      = "increment_retry"
	AppendLearning      = "append_learning"
	AddTask             = "add_task"
	GetPlanSummary      = "get_plan_summary"
	GetStateSummary     = "get_state_summary"
	SignalPhaseComplete = "signal_phase_complete"
)

// Names lists every tool the surface dispatches
func Names() []string {
	return []string{
		GetNextTask, MarkTaskComplete, MarkTaskBlocked, MarkTaskInProgress,
		IncrementRetry, AppendLearning, AddTask, GetPlanSummary,
		GetStateSummary, SignalPhaseComplete,
	}
}

// IsOrchestratorTool reports whether name belongs to this surface
func IsOrchestratorTool(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Typed inputs. The executor's free-form JSON is decoded into exactly one of
// these per call; unknown fields are ignored, missing required fields fail
// the call.

type markTaskCompleteInput struct {
	TaskID string `json:"task_id"`
	Notes  string `json:"notes,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

type markTaskBlockedInput struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

type taskIDInput struct {
	TaskID string `json:"task_id"`
}

type appendLearningInput struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

type addTaskInput struct {
	ID                   string   `json:"id"`
	Description          string   `json:"description"`
	Priority             int      `json:"priority"`
	Dependencies         []string `json:"dependencies,omitempty"`
	VerificationCriteria []string `json:"verification_criteria,omitempty"`
	EstimatedTokens      int      `json:"estimated_tokens,omitempty"`
}

// NextTaskResult is returned by get_next_task
type NextTaskResult struct {
	Found                bool     `json:"found"`
	TaskID               string   `json:"task_id,omitempty"`
	Description          string   `json:"description,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	VerificationCriteria []string `json:"verification_criteria,omitempty"`
	Message              string   `json:"message,omitempty"`
}

// PlanSummaryResult is returned by get_plan_summary
type PlanSummaryResult struct {
	TotalTasks     int     `json:"total_tasks"`
	PendingTasks   int     `json:"pending_tasks"`
	CompleteTasks  int     `json:"complete_tasks"`
	PercentDone    float64 `json:"percent_done"`
	NextRunnable   string  `json:"next_runnable,omitempty"`
	NextRunnableID string  `json:"next_runnable_id,omitempty"`
}

// StateSummaryResult is returned by get_state_summary
type StateSummaryResult struct {
	Phase          string  `json:"phase"`
	Iteration      int     `json:"iteration"`
	SessionID      string  `json:"session_id"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	TotalTokens    int     `json:"total_tokens"`
	BreakerState   string  `json:"breaker_state"`
	BreakerReason  string  `json:"breaker_reason,omitempty"`
	TasksThisSession int   `json:"tasks_completed_this_session"`
}

// AckResult acknowledges a mutation
type AckResult struct {
	OK      bool   `json:"ok"`
	TaskID  string `json:"task_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Surface dispatches tool calls against one store
type Surface struct {
	store *store.Store
	log   *zap.Logger

	// phaseCompleteSignalled latches the discovery completion signal for
	// the orchestrator to read after the executor returns.
	phaseCompleteSignalled bool
}

// New builds a tool surface over the store
func New(st *store.Store, log *zap.Logger) *Surface {
	if log == nil {
		log = zap.NewNop()
	}
	return &Surface{store: st, log: log}
}

// PhaseCompleteSignalled reports and clears the signal latch
func (s *Surface) PhaseCompleteSignalled() bool {
	signalled := s.phaseCompleteSignalled
	s.phaseCompleteSignalled = false
	return signalled
}

// Dispatch routes one tool call by name. Data-model violations come back as
// errors for the executor; they are never orchestrator crashes.
func (s *Surface) Dispatch(name string, input json.RawMessage) (any, error) {
	s.log.Debug("tool call", zap.String("tool", name))

	switch name {
	case GetNextTask:
		return s.getNextTask()
	case MarkTaskComplete:
		var in markTaskCompleteInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.markTaskComplete(in)
	case MarkTaskBlocked:
		var in markTaskBlockedInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.markTaskBlocked(in)
	case MarkTaskInProgress:
		var in taskIDInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.markTaskInProgress(in.TaskID)
	case IncrementRetry:
		var in taskIDInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.incrementRetry(in.TaskID)
	case AppendLearning:
		var in appendLearningInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.appendLearning(in)
	case AddTask:
		var in addTaskInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		return s.addTask(in)
	case GetPlanSummary:
		return s.getPlanSummary()
	case GetStateSummary:
		return s.getStateSummary()
	case SignalPhaseComplete:
		s.phaseCompleteSignalled = true
		return AckResult{OK: true, Message: "phase completion recorded"}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return fmt.Errorf("missing tool input")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}

func (s *Surface) getNextTask() (any, error) {
	plan, err := s.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	next := scheduler.NextTask(plan)
	// NextTask may have demoted exhausted tasks; persist that.
	if err := s.store.SavePlan(plan); err != nil {
		return nil, err
	}
	if next == nil {
		return NextTaskResult{Found: false, Message: "no runnable task"}, nil
	}
	return NextTaskResult{
		Found:                true,
		TaskID:               next.ID,
		Description:          next.Description,
		Priority:             next.Priority,
		VerificationCriteria: next.VerificationCriteria,
	}, nil
}

func (s *Surface) markTaskComplete(in markTaskCompleteInput) (any, error) {
	return s.mutateTask(in.TaskID, func(t *types.Task) error {
		return t.MarkComplete(in.Notes, in.Tokens)
	})
}

func (s *Surface) markTaskBlocked(in markTaskBlockedInput) (any, error) {
	return s.mutateTask(in.TaskID, func(t *types.Task) error {
		return t.MarkBlocked(in.Reason)
	})
}

func (s *Surface) markTaskInProgress(taskID string) (any, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		return t.MarkInProgress()
	})
}

func (s *Surface) incrementRetry(taskID string) (any, error) {
	return s.mutateTask(taskID, func(t *types.Task) error {
		t.IncrementRetry()
		return nil
	})
}

// mutateTask is the shared load-mutate-persist path for task transitions
func (s *Surface) mutateTask(taskID string, mutate func(*types.Task) error) (any, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	plan, err := s.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	task := plan.TaskByID(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrUnknownTask)
	}
	if err := mutate(task); err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(plan); err != nil {
		return nil, err
	}
	return AckResult{OK: true, TaskID: taskID, Status: task.Status.String()}, nil
}

func (s *Surface) appendLearning(in appendLearningInput) (any, error) {
	if in.Text == "" {
		return nil, fmt.Errorf("text is required")
	}
	category := in.Category
	if category == "" {
		category = "general"
	}
	if err := s.store.AppendLearning(category, in.Text); err != nil {
		return nil, err
	}
	return AckResult{OK: true, Message: "learning recorded"}, nil
}

func (s *Surface) addTask(in addTaskInput) (any, error) {
	plan, err := s.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	task := types.Task{
		ID:                   in.ID,
		Description:          in.Description,
		Priority:             in.Priority,
		Status:               types.StatusPending,
		Dependencies:         in.Dependencies,
		VerificationCriteria: in.VerificationCriteria,
		EstimatedTokens:      in.EstimatedTokens,
	}
	if err := plan.AddTask(task); err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(plan); err != nil {
		return nil, err
	}
	return AckResult{OK: true, TaskID: in.ID, Status: types.StatusPending.String()}, nil
}

func (s *Surface) getPlanSummary() (any, error) {
	plan, err := s.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	pending, complete, total := plan.Counts()
	result := PlanSummaryResult{
		TotalTasks:    total,
		PendingTasks:  pending,
		CompleteTasks: complete,
		PercentDone:   plan.CompletionPercentage(),
	}
	if next := scheduler.NextTask(plan); next != nil {
		result.NextRunnable = next.Description
		result.NextRunnableID = next.ID
	}
	return result, nil
}

func (s *Surface) getStateSummary() (any, error) {
	state, err := s.store.LoadState()
	if err != nil {
		return nil, err
	}
	return StateSummaryResult{
		Phase:            state.CurrentPhase.String(),
		Iteration:        state.IterationCount,
		SessionID:        state.SessionID,
		TotalCostUSD:     state.TotalCostUSD,
		TotalTokens:      state.TotalTokensUsed,
		BreakerState:     state.CircuitBreaker.State.String(),
		BreakerReason:    state.CircuitBreaker.LastFailureReason,
		TasksThisSession: state.TasksCompletedThisSession,
	}, nil
}
