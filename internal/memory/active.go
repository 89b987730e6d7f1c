package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/workspace"
)

// recentIterationCount is how many iteration memories feed the active string
const recentIterationCount = 3

// BuildActiveMemory assembles the bounded markdown string injected into the
// next prompt. Sections, in order: the current phase memory when the last
// iteration crossed a phase boundary, the last three iteration memories, a
// summary of the current task and runnable set, and session-level spend.
// The result is truncated from the tail to the configured cap, keeping
// section headers intact.
func (m *Manager) BuildActiveMemory(state *types.RalphState, plan *types.ImplementationPlan, crossedPhase bool) string {
	var sections []string

	if crossedPhase {
		if body, err := readMemoryBody(filepath.Join(m.phasesDir(), fmt.Sprintf("%s.md", state.CurrentPhase))); err == nil && body != "" {
			sections = append(sections, "## Phase context\n\n"+body)
		}
	}

	if recent := m.recentIterations(); recent != "" {
		sections = append(sections, "## Recent iterations\n\n"+recent)
	}

	sections = append(sections, "## Plan\n\n"+planSummary(plan))

	sections = append(sections, fmt.Sprintf(
		"## Session\n\nSession %s | iteration %d | phase %s\nTokens this session: %d | Cost this session: $%.4f",
		state.SessionID, state.IterationCount, state.CurrentPhase,
		state.SessionTokensUsed, state.SessionCostUSD))

	return truncateSections(sections, m.cfg.MaxActiveMemoryChars)
}

// WriteActiveMemory renders the active memory to .ralph/MEMORY.md
func (m *Manager) WriteActiveMemory(projectRoot, content string) error {
	return os.WriteFile(workspace.ActiveMemoryPath(projectRoot), []byte(content), 0644)
}

func (m *Manager) recentIterations() string {
	names, err := sortedMarkdownFiles(m.iterationsDir())
	if err != nil || len(names) == 0 {
		return ""
	}
	if len(names) > recentIterationCount {
		names = names[len(names)-recentIterationCount:]
	}
	var parts []string
	for _, name := range names {
		if body, err := readMemoryBody(filepath.Join(m.iterationsDir(), name)); err == nil {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n")
}

func planSummary(plan *types.ImplementationPlan) string {
	if plan == nil || len(plan.Tasks) == 0 {
		return "No plan yet."
	}
	pending, complete, total := plan.Counts()
	b := &strings.Builder{}
	fmt.Fprintf(b, "%d/%d tasks complete (%d pending, %.0f%%).\n", complete, total, pending, plan.CompletionPercentage())

	runnable := plan.RunnableTasks()
	if len(runnable) == 0 {
		b.WriteString("No runnable tasks.")
		return b.String()
	}
	b.WriteString("Runnable:\n")
	for _, t := range runnable {
		fmt.Fprintf(b, "- %s (priority %d): %s\n", t.ID, t.Priority, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateSections joins the sections and trims from the tail to the cap.
// A section that no longer fits is reduced to its header line so the reader
// can still see what was dropped.
func truncateSections(sections []string, maxChars int) string {
	full := strings.Join(sections, "\n\n")
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}

	kept := make([]string, len(sections))
	copy(kept, sections)
	for i := len(kept) - 1; i >= 0; i-- {
		header, _, _ := strings.Cut(kept[i], "\n")
		kept[i] = header
		full = strings.Join(kept, "\n\n")
		if len(full) <= maxChars {
			return full
		}
	}
	if len(full) > maxChars {
		full = full[:maxChars]
	}
	return full
}
