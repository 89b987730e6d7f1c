// Package store owns all durable state under <project_root>/.ralph/.
// Every write goes through write-temp-in-same-directory, fsync, atomic
// rename, so readers never observe a partial file.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/workspace"
)

// Persistence failures, classified so the CLI can map them to exit codes and
// recovery hints.
var (
	ErrStateNotFound    = errors.New("state not found")
	ErrCorruptedState   = errors.New("corrupted state (run 'ralph reset' to recover)")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDiskFull         = errors.New("disk full")
)

// Store reads and writes the .ralph/ tree for one project root
type Store struct {
	projectRoot string
}

// New returns a store rooted at projectRoot. The directory layout is created
// lazily by EnsureRalphDir or Initialize*.
func New(projectRoot string) *Store {
	return &Store{projectRoot: projectRoot}
}

// ProjectRoot returns the project root this store is bound to
func (s *Store) ProjectRoot() string {
	return s.projectRoot
}

// EnsureRalphDir creates the .ralph/ directory tree
func (s *Store) EnsureRalphDir() error {
	dirs := []string{
		workspace.Path(s.projectRoot),
		filepath.Join(workspace.Path(s.projectRoot), "session_history"),
		filepath.Join(workspace.MemoryDir(s.projectRoot), "phases"),
		filepath.Join(workspace.MemoryDir(s.projectRoot), "iterations"),
		filepath.Join(workspace.MemoryDir(s.projectRoot), "sessions"),
		filepath.Join(workspace.MemoryDir(s.projectRoot), "archive"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return classify(err)
		}
	}
	return nil
}

// ExistsState reports whether state.json exists
func (s *Store) ExistsState() bool {
	_, err := os.Stat(workspace.StatePath(s.projectRoot))
	return err == nil
}

// ExistsPlan reports whether implementation_plan.json exists
func (s *Store) ExistsPlan() bool {
	_, err := os.Stat(workspace.PlanPath(s.projectRoot))
	return err == nil
}

// LoadState reads and validates state.json
func (s *Store) LoadState() (*types.RalphState, error) {
	var state types.RalphState
	if err := s.readJSON(workspace.StatePath(s.projectRoot), &state); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	return &state, nil
}

// SaveState persists state.json atomically, stamping last_activity_at
func (s *Store) SaveState(state *types.RalphState) error {
	state.LastActivityAt = types.Now()
	return s.writeJSON(workspace.StatePath(s.projectRoot), state)
}

// LoadPlan reads and validates implementation_plan.json
func (s *Store) LoadPlan() (*types.ImplementationPlan, error) {
	var plan types.ImplementationPlan
	if err := s.readJSON(workspace.PlanPath(s.projectRoot), &plan); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	return &plan, nil
}

// SavePlan persists implementation_plan.json atomically, stamping
// last_modified
func (s *Store) SavePlan(plan *types.ImplementationPlan) error {
	plan.LastModified = types.Now()
	return s.writeJSON(workspace.PlanPath(s.projectRoot), plan)
}

// LoadInjections returns the queued injections sorted by (priority desc,
// timestamp asc). A missing file is an empty queue, not an error.
func (s *Store) LoadInjections() ([]types.Injection, error) {
	var injections []types.Injection
	err := s.readJSON(workspace.InjectionsPath(s.projectRoot), &injections)
	if errors.Is(err, ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(injections, func(i, j int) bool {
		if injections[i].Priority != injections[j].Priority {
			return injections[i].Priority > injections[j].Priority
		}
		return injections[i].Timestamp.Before(injections[j].Timestamp.Time)
	})
	return injections, nil
}

// AddInjection appends one injection to the queue
func (s *Store) AddInjection(inj types.Injection) error {
	if err := inj.Validate(); err != nil {
		return err
	}
	existing, err := s.LoadInjections()
	if err != nil {
		return err
	}
	existing = append(existing, inj)
	return s.writeJSON(workspace.InjectionsPath(s.projectRoot), existing)
}

// ClearInjections empties the queue. Called after the queue is consumed by
// an iteration.
func (s *Store) ClearInjections() error {
	return s.writeJSON(workspace.InjectionsPath(s.projectRoot), []types.Injection{})
}

// AppendSessionArchive writes one record to sessions.jsonl
func (s *Store) AppendSessionArchive(rec types.SessionRecord) error {
	path := workspace.SessionArchivePath(s.projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return classify(err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return classify(err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return classify(err)
	}
	return f.Sync()
}

// LoadSessionArchive returns up to limit most-recent records (0 = all)
func (s *Store) LoadSessionArchive(limit int) ([]types.SessionRecord, error) {
	path := workspace.SessionArchivePath(s.projectRoot)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	defer f.Close()

	var records []types.SessionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec types.SessionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: sessions.jsonl: %v", ErrCorruptedState, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, classify(err)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// InitializeState seeds a fresh state.json for the project
func (s *Store) InitializeState(maxFailures, maxStagnation int, maxCost float64) (*types.RalphState, error) {
	now := types.Now()
	state := &types.RalphState{
		ProjectRoot:    s.projectRoot,
		CurrentPhase:   types.PhaseDiscovery,
		StartedAt:      now,
		LastActivityAt: now,
		CircuitBreaker: types.NewCircuitBreakerState(maxFailures, maxStagnation, maxCost),
	}
	if err := s.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// InitializePlan seeds an empty implementation plan
func (s *Store) InitializePlan() (*types.ImplementationPlan, error) {
	plan := types.NewPlan()
	if err := s.SavePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// AppendLearning appends one timestamped categorized line to progress.txt
func (s *Store) AppendLearning(category, text string) error {
	path := workspace.ProgressPath(s.projectRoot)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return classify(err)
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] [%s] %s\n", types.Now().Format(types.TimeFormat), category, text)
	if _, err := f.WriteString(line); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrStateNotFound, filepath.Base(path))
	}
	if err != nil {
		return classify(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptedState, filepath.Base(path), err)
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return classify(err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	// renameio writes a temp file in the same directory, fsyncs, then
	// renames over the target.
	if err := renameio.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps OS-level errors onto the store's error kinds
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", ErrStateNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	default:
		return err
	}
}
