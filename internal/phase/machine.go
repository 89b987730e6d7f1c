// Package phase defines the four-phase state machine: the transition graph,
// each phase's tool allowlist, prompt builder, executor turn cap, and
// completion predicate.
package phase

import (
	"fmt"
	"strings"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/prompts"
	"github.com/cipherscout/ralph/internal/types"
)

// Context is the view a prompt builder renders from
type Context struct {
	Iteration    int
	CurrentTask  *types.Task
	ActiveMemory string
	Injections   []types.Injection
	BudgetTokens int
}

// Definition carries one phase's behavior
type Definition struct {
	Phase        types.Phase
	AllowedTools []string
	MaxTurns     int
	Complete     func(*types.RalphState, *types.ImplementationPlan) bool
}

// orchestratorTools are the structured mutators every phase may call
var orchestratorTools = []string{
	"get_next_task", "mark_task_complete", "mark_task_blocked",
	"mark_task_in_progress", "increment_retry", "append_learning",
	"add_task", "get_plan_summary", "get_state_summary",
}

// transitions is the legal phase graph. The only back-edge is
// validation -> building; everything else moves forward. Operator commands
// (reset, regenerate-plan) bypass the graph explicitly.
var transitions = map[types.Phase][]types.Phase{
	types.PhaseDiscovery:  {types.PhasePlanning},
	types.PhasePlanning:   {types.PhaseBuilding},
	types.PhaseBuilding:   {types.PhaseValidation},
	types.PhaseValidation: {types.PhaseBuilding},
}

// definitions table, keyed by phase
var definitions = map[types.Phase]*Definition{
	types.PhaseDiscovery: {
		Phase:        types.PhaseDiscovery,
		AllowedTools: append([]string{"Read", "Glob", "Grep", "Bash", "Write", "signal_phase_complete"}, orchestratorTools...),
		MaxTurns:     40,
		Complete: func(state *types.RalphState, plan *types.ImplementationPlan) bool {
			// Discovery ends on the explicit signal tool; the operator can
			// also force planning once specs exist. The orchestrator records
			// the signal by advancing the phase, so there is no predicate
			// beyond that.
			return false
		},
	},
	types.PhasePlanning: {
		Phase:        types.PhasePlanning,
		AllowedTools: append([]string{"Read", "Glob", "Grep"}, orchestratorTools...),
		MaxTurns:     30,
		Complete: func(state *types.RalphState, plan *types.ImplementationPlan) bool {
			return plan != nil && len(plan.Tasks) > 0
		},
	},
	types.PhaseBuilding: {
		Phase:        types.PhaseBuilding,
		AllowedTools: append([]string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}, orchestratorTools...),
		MaxTurns:     60,
		Complete: func(state *types.RalphState, plan *types.ImplementationPlan) bool {
			return plan != nil && plan.AllSettled()
		},
	},
	types.PhaseValidation: {
		Phase:        types.PhaseValidation,
		AllowedTools: append([]string{"Read", "Bash", "Glob", "Grep"}, orchestratorTools...),
		MaxTurns:     40,
		Complete: func(state *types.RalphState, plan *types.ImplementationPlan) bool {
			// Validation completes the run when it passes; on failures the
			// orchestrator transitions back to building instead.
			return true
		},
	},
}

// Get returns the definition for a phase, with config overrides applied
func Get(p types.Phase, cfg *config.Config) (*Definition, error) {
	def, ok := definitions[p]
	if !ok {
		return nil, fmt.Errorf("no definition for phase %q", p)
	}
	out := *def
	if cfg != nil {
		override := cfg.PhaseFor(p.String())
		if len(override.AllowedTools) > 0 {
			out.AllowedTools = override.AllowedTools
		}
		if override.MaxTurns > 0 {
			out.MaxTurns = override.MaxTurns
		}
	}
	return &out, nil
}

// CanTransition reports whether prev -> next is an edge of the graph
func CanTransition(prev, next types.Phase) bool {
	for _, allowed := range transitions[prev] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NextPhase returns the forward transition for a completed phase
func NextPhase(p types.Phase) (types.Phase, bool) {
	edges := transitions[p]
	if len(edges) == 0 {
		return "", false
	}
	return edges[0], true
}

// BuildPrompt renders the phase system prompt from the embedded template
// plus the context view.
func (d *Definition) BuildPrompt(ctx Context) (string, error) {
	template, err := prompts.Get(d.Phase.String())
	if err != nil {
		return "", err
	}

	b := &strings.Builder{}
	b.WriteString(template)
	b.WriteString("\n\n## Iteration context\n\n")
	fmt.Fprintf(b, "Iteration: %d\n", ctx.Iteration)
	if ctx.CurrentTask != nil {
		fmt.Fprintf(b, "Current task: %s: %s\n", ctx.CurrentTask.ID, ctx.CurrentTask.Description)
		for _, criterion := range ctx.CurrentTask.VerificationCriteria {
			fmt.Fprintf(b, "  - verify: %s\n", criterion)
		}
	} else {
		b.WriteString("Current task: none runnable\n")
	}
	if ctx.BudgetTokens > 0 {
		fmt.Fprintf(b, "Remaining context budget: %d tokens\n", ctx.BudgetTokens)
	}

	if ctx.ActiveMemory != "" {
		b.WriteString("\n## Memory\n\n")
		b.WriteString(ctx.ActiveMemory)
		b.WriteString("\n")
	}

	if len(ctx.Injections) > 0 {
		b.WriteString("\n## Operator notes\n\n")
		for _, inj := range ctx.Injections {
			fmt.Fprintf(b, "- [%s] %s\n", inj.Source, inj.Content)
		}
	}

	return b.String(), nil
}
