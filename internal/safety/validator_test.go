package safety

import (
	"testing"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/types"
)

func defaultValidator() *Validator {
	return New(config.DefaultConfig().Safety)
}

func bash(command string) map[string]any {
	return map[string]any{"command": command}
}

func TestPhaseAllowlist(t *testing.T) {
	v := defaultValidator()
	allowed := []string{"Read", "Grep", "get_next_task"}

	d := v.Validate("Read", nil, types.PhaseDiscovery, allowed)
	if !d.Allowed {
		t.Errorf("Read should be allowed: %s", d.Reason)
	}

	d = v.Validate("Write", nil, types.PhaseDiscovery, allowed)
	if d.Allowed {
		t.Error("Write should be denied outside allowlist")
	}
	if d.Reason != "tool not allowed in phase discovery" {
		t.Errorf("reason = %q", d.Reason)
	}

	// Empty allowlist permits everything.
	d = v.Validate("Write", nil, types.PhaseBuilding, nil)
	if !d.Allowed {
		t.Errorf("empty allowlist should permit: %s", d.Reason)
	}
}

func TestGitCommands(t *testing.T) {
	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"status allowed", "git status", true},
		{"log allowed", "git log --oneline -5", true},
		{"diff allowed", "git diff HEAD", true},
		{"blame allowed", "git blame main.go", true},
		{"branch listing allowed", "git branch -a", true},
		{"branch deletion denied", "git branch -D feature", false},
		{"commit denied", "git commit -m x", false},
		{"push denied", "git push origin main", false},
		{"pull denied", "git pull", false},
		{"rebase denied", "git rebase main", false},
		{"checkout denied", "git checkout -b new", false},
		{"reset denied", "git reset --hard HEAD~1", false},
		{"stash denied", "git stash", false},
		{"cherry-pick denied", "git cherry-pick abc123", false},
		{"revert denied", "git revert HEAD", false},
		{"chained commit denied", "ls && git commit -m sneaky", false},
		{"non-git command allowed", "go test ./...", true},
	}

	v := defaultValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate("Bash", bash(tt.command), types.PhaseBuilding, nil)
			if d.Allowed != tt.allowed {
				t.Errorf("%q: allowed=%v reason=%q, want allowed=%v", tt.command, d.Allowed, d.Reason, tt.allowed)
			}
			if !tt.allowed && d.Reason != "version-control state changes not permitted" {
				t.Errorf("%q: reason = %q", tt.command, d.Reason)
			}
		})
	}
}

func TestPackageManagers(t *testing.T) {
	commands := []string{
		"pip install requests",
		"pip uninstall requests",
		"pip freeze",
		"python -m pip install x",
		"python -m venv .venv",
		"virtualenv env",
		"conda install numpy",
		"conda create -n env",
		"poetry install",
		"poetry add requests",
		"pipenv install",
		"cd /tmp && pip install x",
	}

	v := defaultValidator()
	for _, command := range commands {
		d := v.Validate("Bash", bash(command), types.PhaseBuilding, nil)
		if d.Allowed {
			t.Errorf("%q should be denied", command)
		} else if d.Reason != "use the designated package manager instead" {
			t.Errorf("%q: reason = %q", command, d.Reason)
		}
	}

	// Mentioning pip in prose is not an invocation.
	d := v.Validate("Bash", bash("grep 'pip install' README.md"), types.PhaseBuilding, nil)
	if !d.Allowed {
		t.Errorf("grep over docs should be allowed: %s", d.Reason)
	}
}

func TestConfiguredBlocklist(t *testing.T) {
	safety := config.DefaultConfig().Safety
	safety.BlockedCommands = []string{"rm -rf", "sudo"}
	v := New(safety)

	d := v.Validate("Bash", bash("rm -rf /"), types.PhaseBuilding, nil)
	if d.Allowed || d.Reason != "command in configured blocklist" {
		t.Errorf("rm -rf: allowed=%v reason=%q", d.Allowed, d.Reason)
	}

	d = v.Validate("Bash", bash("sudo apt update"), types.PhaseBuilding, nil)
	if d.Allowed {
		t.Error("sudo should be denied")
	}

	d = v.Validate("Bash", bash("rm file.txt"), types.PhaseBuilding, nil)
	if !d.Allowed {
		t.Errorf("plain rm should be allowed: %s", d.Reason)
	}
}

func TestGitReadOnlyDisabled(t *testing.T) {
	safety := config.DefaultConfig().Safety
	safety.GitReadOnly = false
	v := New(safety)

	d := v.Validate("Bash", bash("git commit -m x"), types.PhaseBuilding, nil)
	if !d.Allowed {
		t.Errorf("git_read_only=false should permit commits: %s", d.Reason)
	}
}

func TestNonShellToolSkipsCommandScan(t *testing.T) {
	v := defaultValidator()
	d := v.Validate("Write", map[string]any{"content": "git commit -m x"}, types.PhaseBuilding, nil)
	if !d.Allowed {
		t.Errorf("non-shell tools carry no command: %s", d.Reason)
	}
}
