// Package llm defines the executor port: the contract between the
// supervisory core and the LLM transport. The core sees the transport as an
// async executor invoked once per iteration; everything the executor does to
// persistent state flows back through the injected tool dispatcher.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// ToolDispatcher routes one tool invocation from the executor through the
// safety validator and the tool surface. A denial or data-model violation
// comes back as err, as a tool failure and not as an iteration error. The
// Claude transport in this package discards it and does not report it to the
// model.
type ToolDispatcher func(name string, input json.RawMessage) (result any, err error)

// Request is one iteration's executor call
type Request struct {
	SystemPrompt string
	Prompt       string
	Model        string
	AllowedTools []string
	MaxTurns     int
	Timeout      time.Duration
	WorkDir      string
}

// IterationResult is everything the core needs from one executor call
type IterationResult struct {
	Success       bool    `json:"success"`
	TaskCompleted bool    `json:"task_completed"`
	TaskID        string  `json:"task_id,omitempty"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	NeedsHandoff  bool    `json:"needs_handoff"`
	Error         string  `json:"error,omitempty"`
	ToolCalls     int     `json:"tool_calls"`
	DurationMS    int64   `json:"duration_ms"`
}

// TotalTokens is input plus output
func (r *IterationResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Executor is the port over the LLM transport. Implementations must honor
// ctx cancellation: on cancel they return an IterationResult with
// Error="cancelled" rather than leaking the in-flight call.
type Executor interface {
	// Name returns the backend name (e.g. "claude")
	Name() string

	// Execute runs one supervised iteration. Tool invocations the model
	// makes are routed through dispatch in emission order; each call's
	// effect is persisted before the next is accepted.
	Execute(ctx context.Context, req Request, dispatch ToolDispatcher) (*IterationResult, error)
}
