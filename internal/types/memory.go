package types

// IterationMemory records what one iteration did. Written after every
// iteration to memory/iterations/iter-NNN.md.
type IterationMemory struct {
	Iteration      int       `yaml:"iteration" json:"iteration"`
	Phase          Phase     `yaml:"phase" json:"phase"`
	Timestamp      Timestamp `yaml:"timestamp" json:"timestamp"`
	CompletedTasks []string  `yaml:"completed_tasks,omitempty" json:"completed_tasks,omitempty"`
	BlockedTasks   []string  `yaml:"blocked_tasks,omitempty" json:"blocked_tasks,omitempty"`
	MadeProgress   bool      `yaml:"made_progress" json:"made_progress"`
	TokensUsed     int       `yaml:"tokens_used" json:"tokens_used"`
	CostUSD        float64   `yaml:"cost_usd" json:"cost_usd"`
	Summary        string    `yaml:"-" json:"summary,omitempty"`
}

// PhaseMemory records a phase transition. One file per phase, overwritten on
// re-entry.
type PhaseMemory struct {
	Phase            Phase     `yaml:"phase" json:"phase"`
	CompletedAt      Timestamp `yaml:"completed_at" json:"completed_at"`
	IterationsInPhase int      `yaml:"iterations_in_phase" json:"iterations_in_phase"`
	Artifacts        []string  `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Summary          string    `yaml:"-" json:"summary,omitempty"`
}

// SessionMemory records a session hand-off
type SessionMemory struct {
	SessionID       string    `yaml:"session_id" json:"session_id"`
	EndedAt         Timestamp `yaml:"ended_at" json:"ended_at"`
	Iteration       int       `yaml:"iteration" json:"iteration"`
	Phase           Phase     `yaml:"phase" json:"phase"`
	HandoffReason   string    `yaml:"handoff_reason" json:"handoff_reason"`
	InProgressTasks []string  `yaml:"in_progress_tasks,omitempty" json:"in_progress_tasks,omitempty"`
	TokensUsed      int       `yaml:"tokens_used" json:"tokens_used"`
	CostUSD         float64   `yaml:"cost_usd" json:"cost_usd"`
	Summary         string    `yaml:"-" json:"summary,omitempty"`
}

// SessionRecord is one line of session_history/sessions.jsonl
type SessionRecord struct {
	SessionID      string    `json:"session_id"`
	Iteration      int       `json:"iteration"`
	StartedAt      Timestamp `json:"started_at"`
	EndedAt        Timestamp `json:"ended_at"`
	TokensUsed     int       `json:"tokens_used"`
	CostUSD        float64   `json:"cost_usd"`
	TasksCompleted int       `json:"tasks_completed"`
	Phase          Phase     `json:"phase"`
	HandoffReason  string    `json:"handoff_reason"`
}
