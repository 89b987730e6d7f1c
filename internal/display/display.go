// Package display provides unified output formatting for the Ralph CLI.
// It visually separates supervisory messages from executor output.
package display

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Display handles all CLI output with visual hierarchy
type Display struct {
	theme     *Theme
	termWidth int
}

// New creates a new Display instance
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with configuration
func NewWithOptions(noColor bool) *Display {
	d := &Display{termWidth: getTerminalWidth()}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

// Theme exposes the active theme
func (d *Display) Theme() *Theme {
	return d.theme
}

// getTerminalWidth returns the terminal width, defaulting to 80
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120
	}
	return width
}

// RalphBox prints a boxed supervisory message
func (d *Display) RalphBox(label string, lines ...string) {
	width := d.termWidth - 2
	border := d.theme.RalphBorder

	fmt.Printf("%s%s%s\n", border(BoxTopLeft), border(strings.Repeat(BoxHorizontal, width)), border(BoxTopRight))
	fmt.Printf("%s %s%s%s\n", border(BoxVertical), d.theme.RalphLabel(label), strings.Repeat(" ", max(0, width-len(label)-1)), border(BoxVertical))
	for _, line := range lines {
		padded := line
		if len(line) > width-2 {
			padded = line[:width-5] + "..."
		}
		fmt.Printf("%s %s%s%s\n", border(BoxVertical), d.theme.RalphText(padded), strings.Repeat(" ", max(0, width-len(padded)-1)), border(BoxVertical))
	}
	fmt.Printf("%s%s%s\n", border(BoxBottomLeft), border(strings.Repeat(BoxHorizontal, width)), border(BoxBottomRight))
}

// IterationHeader announces the start of one iteration
func (d *Display) IterationHeader(iteration int, phase, taskID string) {
	task := taskID
	if task == "" {
		task = "no runnable task"
	}
	d.RalphBox("RALPH",
		fmt.Sprintf("Iteration %d | phase %s", iteration, phase),
		fmt.Sprintf("Task: %s", task))
}

// IterationFooter summarizes one iteration's outcome
func (d *Display) IterationFooter(success bool, tasksCompleted, tokens int, costUSD float64) {
	symbol := d.theme.Success(SymbolSuccess)
	if !success {
		symbol = d.theme.Error(SymbolError)
	}
	fmt.Printf("%s completed=%d tokens=%d cost=$%.4f\n", symbol, tasksCompleted, tokens, costUSD)
}

// HaltPanel names the halt reason, last task attempted, cumulative cost, and
// a suggested recovery command.
func (d *Display) HaltPanel(reason, lastTask string, totalCost float64, suggestion string) {
	lines := []string{
		fmt.Sprintf("%s Halted: %s", SymbolHalted, reason),
	}
	if lastTask != "" {
		lines = append(lines, fmt.Sprintf("Last task attempted: %s", lastTask))
	}
	lines = append(lines,
		fmt.Sprintf("Cumulative cost: $%.4f", totalCost),
		fmt.Sprintf("Suggested recovery: %s", suggestion))
	d.RalphBox("HALT", lines...)
}

// HandoffNotice announces a session boundary
func (d *Display) HandoffNotice(reason, newSessionID string) {
	d.RalphBox("HANDOFF",
		fmt.Sprintf("Reason: %s", reason),
		fmt.Sprintf("New session: %s", newSessionID))
}

// PhaseTransition announces a phase change
func (d *Display) PhaseTransition(from, to string) {
	fmt.Printf("%s %s %s %s\n", d.theme.Info(SymbolResume), d.theme.Bold(from), "→", d.theme.Bold(to))
}

// Success prints a success line
func (d *Display) Success(msg string) {
	fmt.Printf("%s %s\n", d.theme.Success(SymbolSuccess), msg)
}

// Error prints an error line
func (d *Display) Error(msg string) {
	fmt.Printf("%s %s\n", d.theme.Error(SymbolError), msg)
}

// Warning prints a warning line
func (d *Display) Warning(msg string) {
	fmt.Printf("%s %s\n", d.theme.Warning(SymbolWarning), msg)
}

// Info prints a labeled info line
func (d *Display) Info(label, msg string) {
	fmt.Printf("%s %s: %s\n", d.theme.Info("•"), d.theme.Bold(label), msg)
}

// Separator prints a horizontal rule
func (d *Display) Separator() {
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}
