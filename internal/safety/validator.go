// Package safety gates every tool invocation the executor attempts. The
// validator is pure: given the tool, its input, the current phase, and the
// config, it returns a decision without touching disk or network.
package safety

import (
	"strings"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/types"
)

// Decision is the validator's verdict on one tool call
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the affirmative decision
var Allow = Decision{Allowed: true}

// Deny builds a denial with the given reason
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// shellTools are tool names whose input carries a shell command to scan
var shellTools = map[string]bool{
	"Bash":  true,
	"bash":  true,
	"shell": true,
}

// destructiveGitOps are git sub-commands that mutate version-control state
var destructiveGitOps = map[string]bool{
	"commit":      true,
	"push":        true,
	"pull":        true,
	"merge":       true,
	"rebase":      true,
	"checkout":    true,
	"reset":       true,
	"stash":       true,
	"cherry-pick": true,
	"revert":      true,
}

// forbiddenPackageManagers are literal prefixes of environment-mutating
// installer invocations.
var forbiddenPackageManagers = []string{
	"pip install",
	"pip uninstall",
	"pip freeze",
	"python -m pip",
	"python -m venv",
	"virtualenv",
	"conda install",
	"conda create",
	"poetry install",
	"poetry add",
	"pipenv install",
}

// Validator evaluates tool calls against phase allowlists and command rules
type Validator struct {
	safety config.SafetyConfig
}

// New builds a validator from the safety config
func New(safety config.SafetyConfig) *Validator {
	return &Validator{safety: safety}
}

// Validate is the pre-call hook. allowedTools is the current phase's
// allowlist; empty means every tool is allowed in this phase.
func (v *Validator) Validate(toolName string, toolInput map[string]any, phase types.Phase, allowedTools []string) Decision {
	if len(allowedTools) > 0 && !contains(allowedTools, toolName) {
		return Deny("tool not allowed in phase " + phase.String())
	}

	if shellTools[toolName] {
		command, _ := toolInput["command"].(string)
		return v.validateCommand(command)
	}

	return Allow
}

// validateCommand scans one shell command string against the blocked sets
func (v *Validator) validateCommand(command string) Decision {
	normalized := strings.TrimSpace(command)
	if normalized == "" {
		return Allow
	}

	for _, blocked := range v.safety.BlockedCommands {
		if blocked != "" && strings.Contains(normalized, blocked) {
			return Deny("command in configured blocklist")
		}
	}

	for _, prefix := range forbiddenPackageManagers {
		if containsCommand(normalized, prefix) {
			return Deny("use the designated package manager instead")
		}
	}

	if v.safety.GitReadOnly {
		if decision := v.validateGit(normalized); !decision.Allowed {
			return decision
		}
	}

	return Allow
}

// validateGit checks every git invocation inside the command string against
// the read-only allowlist.
func (v *Validator) validateGit(command string) Decision {
	fields := strings.Fields(command)
	for i, field := range fields {
		if field != "git" || i+1 >= len(fields) {
			continue
		}
		op := fields[i+1]
		// skip global flags like -C <dir> or --no-pager
		for strings.HasPrefix(op, "-") && i+2 < len(fields) {
			if (op == "-C" || op == "-c") && i+3 < len(fields) {
				i++
			}
			i++
			op = fields[i+1]
		}
		if destructiveGitOps[op] {
			return Deny("version-control state changes not permitted")
		}
		if op == "branch" {
			// listing is fine, deletion is not
			rest := fields[i+2:]
			for _, arg := range rest {
				if arg == "-d" || arg == "-D" || arg == "--delete" {
					return Deny("version-control state changes not permitted")
				}
			}
			continue
		}
		if !contains(v.safety.AllowedGitOperations, op) {
			return Deny("version-control state changes not permitted")
		}
	}
	return Allow
}

// containsCommand reports whether needle appears at a command position: at
// the start or after a shell separator.
func containsCommand(command, needle string) bool {
	idx := strings.Index(command, needle)
	for idx >= 0 {
		if idx == 0 {
			return true
		}
		before := strings.TrimSpace(command[:idx])
		if strings.HasSuffix(before, "&&") || strings.HasSuffix(before, "||") ||
			strings.HasSuffix(before, ";") || strings.HasSuffix(before, "|") {
			return true
		}
		next := strings.Index(command[idx+1:], needle)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}
	return false
}
