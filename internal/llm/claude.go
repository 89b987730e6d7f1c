package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Claude implements the Executor port over the Claude Code CLI
type Claude struct {
	BinaryPath string
}

// NewClaude creates a new Claude backend
func NewClaude(binaryPath string) *Claude {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &Claude{BinaryPath: resolveBinaryPath(binaryPath)}
}

// resolveBinaryPath finds the claude binary, checking common locations
func resolveBinaryPath(binaryPath string) string {
	if filepath.IsAbs(binaryPath) {
		return binaryPath
	}

	if path, err := exec.LookPath(binaryPath); err == nil {
		return path
	}

	home, _ := os.UserHomeDir()
	commonPaths := []string{
		filepath.Join(home, ".claude", "local", "claude"),
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	// Return original, will fail with a helpful error later.
	return binaryPath
}

// CheckInstalled verifies the binary exists
func (c *Claude) CheckInstalled() error {
	if _, err := os.Stat(c.BinaryPath); err == nil {
		return nil
	}
	if _, err := exec.LookPath(c.BinaryPath); err == nil {
		return nil
	}
	return fmt.Errorf(`claude not found in PATH

To fix, add to your ~/.zshrc or ~/.bashrc:
  export PATH="$HOME/.claude/local:$PATH"`)
}

func (c *Claude) Name() string {
	return "claude"
}

// Execute runs one supervised iteration through the CLI in stream-json mode.
// Tool invocations observed on the stream are routed through dispatch in
// order.
func (c *Claude) Execute(ctx context.Context, req Request, dispatch ToolDispatcher) (*IterationResult, error) {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.BinaryPath, c.buildArgs(req)...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.BinaryPath, err)
	}

	handler := newIterationHandler(dispatch)
	parseErr := ParseStream(stdout, handler)
	waitErr := cmd.Wait()

	result := handler.result()
	result.DurationMS = time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		result.Success = false
		result.Error = "cancelled"
		return result, nil
	}
	if parseErr != nil {
		result.Success = false
		result.Error = fmt.Sprintf("stream parsing failed: %v", parseErr)
		return result, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.Success = false
			result.Error = fmt.Sprintf("%s exited with code %d", c.Name(), exitErr.ExitCode())
			return result, nil
		}
		return nil, waitErr
	}

	return result, nil
}

// buildArgs constructs the CLI argument list for one iteration
func (c *Claude) buildArgs(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	for _, tool := range req.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	return args
}

// iterationHandler accumulates an IterationResult from stream events
type iterationHandler struct {
	dispatch ToolDispatcher

	toolCalls    int
	inputTokens  int
	outputTokens int
	costUSD      float64
	resultText   string
	resultError  bool
	sawResult    bool
}

func newIterationHandler(dispatch ToolDispatcher) *iterationHandler {
	return &iterationHandler{dispatch: dispatch}
}

func (h *iterationHandler) OnToolUse(name string, input json.RawMessage) {
	h.toolCalls++
	if h.dispatch != nil {
		// The dispatcher's result and error are discarded here: this
		// transport does not pass a denial or data-model violation back
		// to the model.
		_, _ = h.dispatch(name, input)
	}
}

func (h *iterationHandler) OnText(string) {}

func (h *iterationHandler) OnUsage(usage UsageBlock) {
	h.inputTokens += usage.InputTokens + usage.CacheCreationTokens + usage.CacheReadTokens
	h.outputTokens += usage.OutputTokens
}

func (h *iterationHandler) OnResult(result string, isError bool, costUSD float64) {
	h.sawResult = true
	h.resultText = result
	h.resultError = isError
	if costUSD > 0 {
		h.costUSD = costUSD
	}
}

func (h *iterationHandler) result() *IterationResult {
	result := &IterationResult{
		Success:      h.sawResult && !h.resultError,
		InputTokens:  h.inputTokens,
		OutputTokens: h.outputTokens,
		CostUSD:      h.costUSD,
		ToolCalls:    h.toolCalls,
	}
	if h.resultError {
		result.Error = h.resultText
	}
	return result
}
