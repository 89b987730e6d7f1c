// Package scheduler selects the next runnable task deterministically and
// enforces the retry-demotion rule.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/cipherscout/ralph/internal/types"
)

// BlockReasonMaxRetries is recorded when a task exhausts its retries
const BlockReasonMaxRetries = "max retries exceeded"

// NextTask returns the runnable task with the minimum (priority, id), or nil
// when nothing is runnable. Tasks whose retries are exhausted are demoted to
// blocked first, so selection and demotion stay in one place.
func NextTask(plan *types.ImplementationPlan) *types.Task {
	DemoteExhausted(plan)

	runnable := plan.RunnableTasks()
	if len(runnable) == 0 {
		return nil
	}
	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority < runnable[j].Priority
		}
		return runnable[i].ID < runnable[j].ID
	})
	return runnable[0]
}

// DemoteExhausted blocks every non-complete task at or past the retry cap
// and returns the demoted ids.
func DemoteExhausted(plan *types.ImplementationPlan) []string {
	var demoted []string
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.Status == types.StatusBlocked || !t.RetriesExhausted() {
			continue
		}
		if err := t.MarkBlocked(BlockReasonMaxRetries); err == nil {
			demoted = append(demoted, t.ID)
		}
	}
	return demoted
}

// RecordFailure increments the retry counter for the task an iteration
// failed against.
func RecordFailure(plan *types.ImplementationPlan, taskID string) error {
	t := plan.TaskByID(taskID)
	if t == nil {
		return fmt.Errorf("task %s: %w", taskID, types.ErrUnknownTask)
	}
	t.IncrementRetry()
	return nil
}
