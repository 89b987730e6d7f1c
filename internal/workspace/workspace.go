package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

const RalphDir = ".ralph"

var ErrNoWorkspace = errors.New("no ralph workspace found (run 'ralph init' first)")
var ErrWorkspaceExists = errors.New("ralph workspace already exists (use --force to overwrite)")

// Find walks up from cwd looking for a .ralph/ directory. RALPH_PROJECT_ROOT
// short-circuits the walk.
func Find() (string, error) {
	if root := os.Getenv("RALPH_PROJECT_ROOT"); root != "" {
		if info, err := os.Stat(filepath.Join(root, RalphDir)); err == nil && info.IsDir() {
			return root, nil
		}
		return "", ErrNoWorkspace
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		ralphPath := filepath.Join(dir, RalphDir)
		if info, err := os.Stat(ralphPath); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkspace
		}
		dir = parent
	}
}

// Exists reports whether projectRoot already holds a workspace
func Exists(projectRoot string) bool {
	info, err := os.Stat(filepath.Join(projectRoot, RalphDir))
	return err == nil && info.IsDir()
}

// Path returns the .ralph directory path for a project root
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir)
}

// ConfigPath returns the config.yaml path
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "config.yaml")
}

// StatePath returns the state.json path
func StatePath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "state.json")
}

// PlanPath returns the implementation_plan.json path
func PlanPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "implementation_plan.json")
}

// InjectionsPath returns the injections.json path
func InjectionsPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "injections.json")
}

// ProgressPath returns the progress.txt learnings log path
func ProgressPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "progress.txt")
}

// ActiveMemoryPath returns the MEMORY.md rendering path
func ActiveMemoryPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "MEMORY.md")
}

// SessionArchivePath returns the sessions.jsonl path
func SessionArchivePath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "session_history", "sessions.jsonl")
}

// MemoryDir returns the memory tree root
func MemoryDir(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "memory")
}

// LockPath returns the advisory lock path
func LockPath(projectRoot string) string {
	return filepath.Join(projectRoot, RalphDir, "lock")
}

// SpecsDir returns the user-owned specs directory
func SpecsDir(projectRoot string) string {
	return filepath.Join(projectRoot, "specs")
}
