package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/types"
)

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		from, to types.Phase
		legal    bool
	}{
		{types.PhaseDiscovery, types.PhasePlanning, true},
		{types.PhasePlanning, types.PhaseBuilding, true},
		{types.PhaseBuilding, types.PhaseValidation, true},
		{types.PhaseValidation, types.PhaseBuilding, true},
		{types.PhaseDiscovery, types.PhaseBuilding, false},
		{types.PhasePlanning, types.PhaseDiscovery, false},
		{types.PhaseBuilding, types.PhasePlanning, false},
		{types.PhaseValidation, types.PhaseDiscovery, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.legal, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPlanningCompleteNeedsTasks(t *testing.T) {
	def, err := Get(types.PhasePlanning, nil)
	require.NoError(t, err)

	state := &types.RalphState{CurrentPhase: types.PhasePlanning}
	plan := types.NewPlan()
	assert.False(t, def.Complete(state, plan), "empty plan cannot leave planning")

	require.NoError(t, plan.AddTask(types.Task{ID: "a", Description: "x"}))
	assert.True(t, def.Complete(state, plan))
}

func TestBuildingCompleteNeedsAllSettled(t *testing.T) {
	def, err := Get(types.PhaseBuilding, nil)
	require.NoError(t, err)

	state := &types.RalphState{CurrentPhase: types.PhaseBuilding}
	plan := types.NewPlan()
	require.NoError(t, plan.AddTask(types.Task{ID: "a", Description: "x"}))
	require.NoError(t, plan.AddTask(types.Task{ID: "b", Description: "y"}))

	assert.False(t, def.Complete(state, plan))

	require.NoError(t, plan.TaskByID("a").MarkComplete("", 0))
	assert.False(t, def.Complete(state, plan), "pending task keeps building open")

	require.NoError(t, plan.TaskByID("b").MarkBlocked("stuck"))
	assert.True(t, def.Complete(state, plan), "complete or blocked settles the plan")
}

func TestConfigOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Phases["building"] = config.PhaseConfig{
		AllowedTools: []string{"Read"},
		MaxTurns:     5,
	}

	def, err := Get(types.PhaseBuilding, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Read"}, def.AllowedTools)
	assert.Equal(t, 5, def.MaxTurns)

	// Other phases keep defaults.
	def, err = Get(types.PhasePlanning, cfg)
	require.NoError(t, err)
	assert.Equal(t, 30, def.MaxTurns)
	assert.Contains(t, def.AllowedTools, "add_task")
}

func TestBuildPromptIncludesContext(t *testing.T) {
	def, err := Get(types.PhaseBuilding, nil)
	require.NoError(t, err)

	task := &types.Task{ID: "t1", Description: "wire the config loader", VerificationCriteria: []string{"go test ./internal/config passes"}}
	prompt, err := def.BuildPrompt(Context{
		Iteration:    4,
		CurrentTask:  task,
		ActiveMemory: "## Session\n\nprior context here",
		Injections: []types.Injection{
			{Content: "prefer viper for config", Source: types.SourceUser},
		},
		BudgetTokens: 150_000,
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "# Building")
	assert.Contains(t, prompt, "Iteration: 4")
	assert.Contains(t, prompt, "t1: wire the config loader")
	assert.Contains(t, prompt, "go test ./internal/config passes")
	assert.Contains(t, prompt, "prior context here")
	assert.Contains(t, prompt, "prefer viper for config")
	assert.Contains(t, prompt, "150000 tokens")
}

func TestBuildPromptNoTask(t *testing.T) {
	def, err := Get(types.PhaseValidation, nil)
	require.NoError(t, err)

	prompt, err := def.BuildPrompt(Context{Iteration: 1})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Current task: none runnable")
}
