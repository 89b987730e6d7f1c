package orchestrator

import (
	"errors"

	"github.com/cipherscout/ralph/internal/accounting"
)

// Action is the supervisor's response to an iteration failure
type Action int

const (
	// ActionRetry re-attempts the same task with no mutation
	ActionRetry Action = iota
	// ActionSkipTask blocks the task and moves on
	ActionSkipTask
	// ActionHandoff forces a session boundary before continuing
	ActionHandoff
	// ActionManual pauses the loop for operator intervention
	ActionManual
)

// String names the action for logs and memories
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkipTask:
		return "skip_task"
	case ActionHandoff:
		return "handoff"
	case ActionManual:
		return "manual_intervention"
	default:
		return "unknown"
	}
}

// failure captures one iteration failure for the recovery table
type failure struct {
	budgetErr     error
	transportErr  string
	verifyFailed  bool
	cancelled     bool
	retriesSpent  int
	maxRetries    int
}

// decideRecovery is the fixed failure-to-action table. The default is retry
// until the task's retries run out, then skip.
func decideRecovery(f failure) Action {
	switch {
	case f.cancelled:
		return ActionManual
	case errors.Is(f.budgetErr, accounting.ErrTotalBudgetExceeded):
		return ActionManual
	case errors.Is(f.budgetErr, accounting.ErrSessionBudgetExceeded):
		return ActionHandoff
	case errors.Is(f.budgetErr, accounting.ErrIterationBudgetExceeded):
		return ActionRetry
	case f.retriesSpent >= f.maxRetries:
		return ActionSkipTask
	default:
		return ActionRetry
	}
}
