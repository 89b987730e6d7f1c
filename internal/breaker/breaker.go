// Package breaker implements the three-state circuit breaker that halts the
// iteration loop on consecutive failures, stagnation, or budget exhaustion.
package breaker

import (
	"fmt"

	"github.com/cipherscout/ralph/internal/types"
)

// Outcome is one iteration's result as the breaker sees it
type Outcome struct {
	Success        bool
	TasksCompleted int
	CostAdded      float64
	FailureReason  string
}

// Breaker wraps the persisted CircuitBreakerState with the transition rules.
// It mutates the embedded state in place so the caller persists it with
// RalphState.
type Breaker struct {
	state *types.CircuitBreakerState
	cost  float64
}

// New wraps an existing persisted breaker state
func New(state *types.CircuitBreakerState, accumulatedCost float64) *Breaker {
	return &Breaker{state: state, cost: accumulatedCost}
}

// Record applies one iteration outcome to the counters and the nominal state
func (b *Breaker) Record(o Outcome) {
	b.cost += o.CostAdded

	if o.Success {
		b.state.FailureCount = 0
		if b.state.State == types.BreakerHalfOpen {
			b.state.State = types.BreakerClosed
			b.state.LastFailureReason = ""
		}
	} else {
		b.state.FailureCount++
		if o.FailureReason != "" {
			b.state.LastFailureReason = o.FailureReason
		}
		if b.state.State == types.BreakerHalfOpen {
			b.state.State = types.BreakerOpen
		}
	}

	if o.TasksCompleted > 0 {
		b.state.StagnationCount = 0
	} else {
		b.state.StagnationCount++
	}

	if halted, reason := b.thresholdBreached(); halted && b.state.State == types.BreakerClosed {
		b.state.State = types.BreakerOpen
		b.state.LastFailureReason = reason
	}
}

// ShouldHalt returns (true, reason) when the breaker is open or any counter
// meets its cap.
func (b *Breaker) ShouldHalt() (bool, string) {
	if b.state.State == types.BreakerOpen {
		reason := b.state.LastFailureReason
		if reason == "" {
			reason = "circuit breaker open"
		}
		return true, reason
	}
	return b.thresholdBreached()
}

func (b *Breaker) thresholdBreached() (bool, string) {
	if b.state.MaxConsecutiveFailures > 0 && b.state.FailureCount >= b.state.MaxConsecutiveFailures {
		return true, fmt.Sprintf("consecutive_failures:%d", b.state.FailureCount)
	}
	if b.state.MaxStagnationIters > 0 && b.state.StagnationCount >= b.state.MaxStagnationIters {
		return true, fmt.Sprintf("stagnation:%d", b.state.StagnationCount)
	}
	if b.state.MaxCostUSD > 0 && b.cost >= b.state.MaxCostUSD {
		return true, fmt.Sprintf("cost_limit:$%.2f", b.cost)
	}
	return false, ""
}

// Resume moves open -> half_open. The next iteration is a probe: success
// closes the breaker, failure reopens it. Called after a hand-off; the
// operator resume command resets the same fields itself.
func (b *Breaker) Resume() {
	if b.state.State == types.BreakerOpen {
		b.state.State = types.BreakerHalfOpen
		b.state.FailureCount = 0
		b.state.StagnationCount = 0
	}
}

// State returns the nominal state
func (b *Breaker) State() types.BreakerState {
	return b.state.State
}
