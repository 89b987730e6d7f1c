// Package memory captures iteration, phase-transition, and session-handoff
// records as structured markdown under .ralph/memory/. The same files are
// read by humans and re-injected into prompts, so everything stays plain
// text.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/workspace"
)

// Manager owns the memory tree for one project
type Manager struct {
	root string // .ralph/memory
	cfg  config.ContextConfig
}

// New builds a manager for the project root
func New(projectRoot string, cfg config.ContextConfig) *Manager {
	return &Manager{root: workspace.MemoryDir(projectRoot), cfg: cfg}
}

func (m *Manager) iterationsDir() string { return filepath.Join(m.root, "iterations") }
func (m *Manager) phasesDir() string     { return filepath.Join(m.root, "phases") }
func (m *Manager) sessionsDir() string   { return filepath.Join(m.root, "sessions") }
func (m *Manager) archiveDir() string    { return filepath.Join(m.root, "archive") }

// CaptureIteration writes memory/iterations/iter-NNN.md and runs a rotation
// pass.
func (m *Manager) CaptureIteration(mem types.IterationMemory) error {
	body := &strings.Builder{}
	fmt.Fprintf(body, "# Iteration %d (%s)\n\n", mem.Iteration, mem.Phase)
	if mem.Summary != "" {
		fmt.Fprintf(body, "%s\n\n", mem.Summary)
	}
	if len(mem.CompletedTasks) > 0 {
		fmt.Fprintf(body, "## Completed\n\n")
		for _, id := range mem.CompletedTasks {
			fmt.Fprintf(body, "- %s\n", id)
		}
		body.WriteString("\n")
	}
	if len(mem.BlockedTasks) > 0 {
		fmt.Fprintf(body, "## Blocked\n\n")
		for _, id := range mem.BlockedTasks {
			fmt.Fprintf(body, "- %s\n", id)
		}
		body.WriteString("\n")
	}
	fmt.Fprintf(body, "Tokens: %d | Cost: $%.4f\n", mem.TokensUsed, mem.CostUSD)

	path := filepath.Join(m.iterationsDir(), fmt.Sprintf("iter-%03d.md", mem.Iteration))
	if err := m.writeMemoryFile(path, mem, body.String()); err != nil {
		return err
	}
	return m.Rotate()
}

// CapturePhase writes memory/phases/<phase>.md, overwriting on re-entry
func (m *Manager) CapturePhase(mem types.PhaseMemory) error {
	body := &strings.Builder{}
	fmt.Fprintf(body, "# Phase %s\n\n", mem.Phase)
	if mem.Summary != "" {
		fmt.Fprintf(body, "%s\n\n", mem.Summary)
	}
	if len(mem.Artifacts) > 0 {
		fmt.Fprintf(body, "## Artifacts\n\n")
		for _, artifact := range mem.Artifacts {
			fmt.Fprintf(body, "- %s\n", artifact)
		}
		body.WriteString("\n")
	}
	fmt.Fprintf(body, "Iterations in phase: %d\n", mem.IterationsInPhase)

	path := filepath.Join(m.phasesDir(), fmt.Sprintf("%s.md", mem.Phase))
	return m.writeMemoryFile(path, mem, body.String())
}

// CaptureSession writes memory/sessions/session-NNN.md and rotates
func (m *Manager) CaptureSession(mem types.SessionMemory) error {
	body := &strings.Builder{}
	fmt.Fprintf(body, "# Session %s\n\n", mem.SessionID)
	fmt.Fprintf(body, "Ended at iteration %d in phase %s.\n", mem.Iteration, mem.Phase)
	fmt.Fprintf(body, "Hand-off reason: %s\n\n", mem.HandoffReason)
	if mem.Summary != "" {
		fmt.Fprintf(body, "%s\n\n", mem.Summary)
	}
	if len(mem.InProgressTasks) > 0 {
		fmt.Fprintf(body, "## In progress at hand-off\n\n")
		for _, id := range mem.InProgressTasks {
			fmt.Fprintf(body, "- %s\n", id)
		}
		body.WriteString("\n")
	}
	fmt.Fprintf(body, "Tokens: %d | Cost: $%.4f\n", mem.TokensUsed, mem.CostUSD)

	path := filepath.Join(m.sessionsDir(), fmt.Sprintf("session-%03d.md", mem.Iteration))
	if err := m.writeMemoryFile(path, mem, body.String()); err != nil {
		return err
	}
	return m.Rotate()
}

// writeMemoryFile renders YAML frontmatter + markdown body
func (m *Manager) writeMemoryFile(path string, meta any, body string) error {
	front, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal memory frontmatter: %w", err)
	}
	content := fmt.Sprintf("---\n%s---\n\n%s", front, body)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// Rotate moves the oldest files beyond the per-type caps into archive/ and
// deletes archive entries past the retention window.
func (m *Manager) Rotate() error {
	if err := m.rotateDir(m.iterationsDir(), m.cfg.MaxIterationFiles); err != nil {
		return err
	}
	if err := m.rotateDir(m.sessionsDir(), m.cfg.MaxSessionFiles); err != nil {
		return err
	}
	return m.pruneArchive()
}

func (m *Manager) rotateDir(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	names, err := sortedMarkdownFiles(dir)
	if err != nil || len(names) <= keep {
		return err
	}
	if err := os.MkdirAll(m.archiveDir(), 0755); err != nil {
		return err
	}
	for _, name := range names[:len(names)-keep] {
		src := filepath.Join(dir, name)
		dst := filepath.Join(m.archiveDir(), name)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) pruneArchive() error {
	entries, err := os.ReadDir(m.archiveDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := time.Now().AddDate(0, 0, -m.cfg.ArchiveRetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(m.archiveDir(), entry.Name()))
		}
	}
	return nil
}

// Stats reports per-type file counts
type Stats struct {
	Iterations int
	Phases     int
	Sessions   int
	Archived   int
}

// CollectStats counts files per memory type
func (m *Manager) CollectStats() (Stats, error) {
	var stats Stats
	counts := []struct {
		dir string
		dst *int
	}{
		{m.iterationsDir(), &stats.Iterations},
		{m.phasesDir(), &stats.Phases},
		{m.sessionsDir(), &stats.Sessions},
		{m.archiveDir(), &stats.Archived},
	}
	for _, c := range counts {
		names, err := sortedMarkdownFiles(c.dir)
		if err != nil {
			return stats, err
		}
		*c.dst = len(names)
	}
	return stats, nil
}

// sortedMarkdownFiles lists .md files in a directory, sorted ascending by
// name. File naming (iter-NNN, session-NNN) makes name order chronological.
func sortedMarkdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// readMemoryBody returns a file's markdown body with the frontmatter
// stripped.
func readMemoryBody(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := string(data)
	if strings.HasPrefix(text, "---\n") {
		if end := strings.Index(text[4:], "---\n"); end >= 0 {
			text = text[4+end+4:]
		}
	}
	return strings.TrimSpace(text), nil
}
