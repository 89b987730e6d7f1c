package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CircuitBreakerState is embedded in RalphState and persisted with it
type CircuitBreakerState struct {
	State                  BreakerState `json:"state"`
	FailureCount           int          `json:"failure_count"`
	StagnationCount        int          `json:"stagnation_count"`
	MaxConsecutiveFailures int          `json:"max_consecutive_failures"`
	MaxStagnationIters     int          `json:"max_stagnation_iterations"`
	MaxCostUSD             float64      `json:"max_cost_usd"`
	LastFailureReason      string       `json:"last_failure_reason,omitempty"`
}

// NewCircuitBreakerState returns a closed breaker with the given thresholds
func NewCircuitBreakerState(maxFailures, maxStagnation int, maxCost float64) CircuitBreakerState {
	return CircuitBreakerState{
		State:                  BreakerClosed,
		MaxConsecutiveFailures: maxFailures,
		MaxStagnationIters:     maxStagnation,
		MaxCostUSD:             maxCost,
	}
}

// RalphState is the root orchestrator record persisted to state.json
type RalphState struct {
	ProjectRoot               string              `json:"project_root"`
	CurrentPhase              Phase               `json:"current_phase"`
	IterationCount            int                 `json:"iteration_count"`
	SessionID                 string              `json:"session_id,omitempty"`
	TotalCostUSD              float64             `json:"total_cost_usd"`
	TotalTokensUsed           int                 `json:"total_tokens_used"`
	StartedAt                 Timestamp           `json:"started_at"`
	LastActivityAt            Timestamp           `json:"last_activity_at"`
	SessionCostUSD            float64             `json:"session_cost_usd"`
	SessionTokensUsed         int                 `json:"session_tokens_used"`
	TasksCompletedThisSession int                 `json:"tasks_completed_this_session"`
	Paused                    bool                `json:"paused"`
	CircuitBreaker            CircuitBreakerState `json:"circuit_breaker"`

	// extra holds unknown keys found in state.json so they survive a
	// load/save round-trip.
	extra map[string]json.RawMessage
}

// ralphStateAlias avoids recursing into the custom (un)marshalers
type ralphStateAlias RalphState

// stateKnownKeys are the canonical state.json keys owned by this struct
var stateKnownKeys = map[string]bool{
	"project_root":                 true,
	"current_phase":                true,
	"iteration_count":              true,
	"session_id":                   true,
	"total_cost_usd":               true,
	"total_tokens_used":            true,
	"started_at":                   true,
	"last_activity_at":             true,
	"session_cost_usd":             true,
	"session_tokens_used":          true,
	"tasks_completed_this_session": true,
	"paused":                       true,
	"circuit_breaker":              true,
}

// UnmarshalJSON decodes known fields and keeps every unknown key verbatim
func (s *RalphState) UnmarshalJSON(data []byte) error {
	var alias ralphStateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if stateKnownKeys[key] {
			delete(raw, key)
		}
	}
	*s = RalphState(alias)
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}

// MarshalJSON emits known fields in declaration order, then extra keys sorted
// by name. Output is deterministic so round-trips are byte-stable.
func (s RalphState) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(ralphStateAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return base, nil
	}
	keys := make([]string, 0, len(s.extra))
	for key := range s.extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1]) // strip closing brace
	for _, key := range keys {
		buf.WriteByte(',')
		name, _ := json.Marshal(key)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(s.extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Validate enforces the state invariants from the data model
func (s *RalphState) Validate() error {
	if s.ProjectRoot == "" {
		return fmt.Errorf("state.project_root: field is required")
	}
	if !s.CurrentPhase.IsValid() {
		return fmt.Errorf("state.current_phase: invalid value %q", s.CurrentPhase)
	}
	if s.IterationCount < 0 {
		return fmt.Errorf("state.iteration_count: must not be negative")
	}
	if s.SessionCostUSD > s.TotalCostUSD {
		return fmt.Errorf("state.session_cost_usd: exceeds total_cost_usd")
	}
	if s.SessionTokensUsed > s.TotalTokensUsed {
		return fmt.Errorf("state.session_tokens_used: exceeds total_tokens_used")
	}
	if !s.CircuitBreaker.State.IsValid() {
		return fmt.Errorf("state.circuit_breaker.state: invalid value %q", s.CircuitBreaker.State)
	}
	return nil
}

// RecordUsage adds an iteration's tokens and cost to the session and project
// totals, keeping session <= total.
func (s *RalphState) RecordUsage(tokens int, costUSD float64) {
	s.SessionTokensUsed += tokens
	s.TotalTokensUsed += tokens
	s.SessionCostUSD += costUSD
	s.TotalCostUSD += costUSD
	s.LastActivityAt = Now()
}

// BeginSession resets session-scoped counters under a new session id
func (s *RalphState) BeginSession(sessionID string) {
	s.SessionID = sessionID
	s.SessionCostUSD = 0
	s.SessionTokensUsed = 0
	s.TasksCompletedThisSession = 0
	s.LastActivityAt = Now()
}
