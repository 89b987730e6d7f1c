package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/types"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, config.DefaultConfig().Context), root
}

func TestCaptureIterationWritesPaddedFile(t *testing.T) {
	m, root := newTestManager(t)

	require.NoError(t, m.CaptureIteration(types.IterationMemory{
		Iteration:      7,
		Phase:          types.PhaseBuilding,
		Timestamp:      types.Now(),
		CompletedTasks: []string{"setup-db"},
		MadeProgress:   true,
		TokensUsed:     5000,
		CostUSD:        0.12,
	}))

	path := filepath.Join(root, ".ralph", "memory", "iterations", "iter-007.md")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "---\n"), "frontmatter present")
	assert.Contains(t, content, "iteration: 7")
	assert.Contains(t, content, "- setup-db")
}

func TestCapturePhaseOverwrites(t *testing.T) {
	m, root := newTestManager(t)

	require.NoError(t, m.CapturePhase(types.PhaseMemory{Phase: types.PhasePlanning, CompletedAt: types.Now(), Summary: "first pass"}))
	require.NoError(t, m.CapturePhase(types.PhaseMemory{Phase: types.PhasePlanning, CompletedAt: types.Now(), Summary: "second pass"}))

	data, err := os.ReadFile(filepath.Join(root, ".ralph", "memory", "phases", "planning.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "second pass")
	assert.NotContains(t, string(data), "first pass")
}

func TestIterationRotation(t *testing.T) {
	m, root := newTestManager(t)

	for i := 1; i <= 25; i++ {
		require.NoError(t, m.CaptureIteration(types.IterationMemory{
			Iteration: i,
			Phase:     types.PhaseBuilding,
			Timestamp: types.Now(),
		}))
	}

	iterDir := filepath.Join(root, ".ralph", "memory", "iterations")
	names, err := sortedMarkdownFiles(iterDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(names), 20, "iteration cap enforced")
	assert.Equal(t, "iter-025.md", names[len(names)-1], "newest files preserved")
	assert.Equal(t, "iter-006.md", names[0], "oldest rotated out")

	archived, err := sortedMarkdownFiles(filepath.Join(root, ".ralph", "memory", "archive"))
	require.NoError(t, err)
	assert.Len(t, archived, 5)
}

func TestArchiveRetention(t *testing.T) {
	m, root := newTestManager(t)
	archiveDir := filepath.Join(root, ".ralph", "memory", "archive")
	require.NoError(t, os.MkdirAll(archiveDir, 0755))

	old := filepath.Join(archiveDir, "iter-001.md")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	stale := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, stale, stale))

	fresh := filepath.Join(archiveDir, "iter-002.md")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0644))

	require.NoError(t, m.Rotate())

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "entries past retention are deleted")
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestBuildActiveMemorySections(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CapturePhase(types.PhaseMemory{Phase: types.PhaseBuilding, CompletedAt: types.Now(), Summary: "entered building"}))
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.CaptureIteration(types.IterationMemory{
			Iteration: i,
			Phase:     types.PhaseBuilding,
			Timestamp: types.Now(),
			Summary:   fmt.Sprintf("did thing %d", i),
		}))
	}

	plan := types.NewPlan()
	require.NoError(t, plan.AddTask(types.Task{ID: "a", Description: "build the thing", Priority: 1}))

	state := &types.RalphState{
		ProjectRoot:  "/tmp/p",
		CurrentPhase: types.PhaseBuilding,
		SessionID:    "s1",
	}

	active := m.BuildActiveMemory(state, plan, true)
	assert.Contains(t, active, "## Phase context")
	assert.Contains(t, active, "## Recent iterations")
	assert.Contains(t, active, "## Plan")
	assert.Contains(t, active, "## Session")
	assert.Contains(t, active, "did thing 5")
	assert.NotContains(t, active, "did thing 1", "only the last three iterations feed active memory")
	assert.Contains(t, active, "build the thing")
}

func TestActiveMemoryCap(t *testing.T) {
	cfg := config.DefaultConfig().Context
	cfg.MaxActiveMemoryChars = 200
	root := t.TempDir()
	m := New(root, cfg)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.CaptureIteration(types.IterationMemory{
			Iteration: i,
			Phase:     types.PhaseBuilding,
			Timestamp: types.Now(),
			Summary:   strings.Repeat("x", 500),
		}))
	}

	state := &types.RalphState{ProjectRoot: root, CurrentPhase: types.PhaseBuilding, SessionID: "s1"}
	active := m.BuildActiveMemory(state, types.NewPlan(), false)
	assert.LessOrEqual(t, len(active), 200)
	assert.Contains(t, active, "## Recent iterations", "headers survive truncation")
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.CaptureIteration(types.IterationMemory{Iteration: 1, Phase: types.PhaseBuilding, Timestamp: types.Now()}))
	require.NoError(t, m.CapturePhase(types.PhaseMemory{Phase: types.PhaseDiscovery, CompletedAt: types.Now()}))

	stats, err := m.CollectStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Iterations)
	assert.Equal(t, 1, stats.Phases)
	assert.Equal(t, 0, stats.Sessions)
}
