package display

import "github.com/fatih/color"

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	SectionBreak   = "━"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolResume  = "↻"
	SymbolPending = "○"
	SymbolHalted  = "■"
)

// Theme holds all color functions for consistent styling
type Theme struct {
	// Ralph orchestration (prominent)
	RalphBorder func(a ...interface{}) string
	RalphLabel  func(a ...interface{}) string
	RalphText   func(a ...interface{}) string

	// Status indicators
	Success func(a ...interface{}) string
	Error   func(a ...interface{}) string
	Warning func(a ...interface{}) string
	Info    func(a ...interface{}) string

	// Structural elements
	Bold      func(a ...interface{}) string
	Dim       func(a ...interface{}) string
	Separator func(a ...interface{}) string
}

// DefaultTheme returns the standard color theme
func DefaultTheme() *Theme {
	return &Theme{
		RalphBorder: color.New(color.FgMagenta).SprintFunc(),
		RalphLabel:  color.New(color.FgMagenta, color.Bold).SprintFunc(),
		RalphText:   color.New(color.FgWhite).SprintFunc(),

		Success: color.New(color.FgGreen).SprintFunc(),
		Error:   color.New(color.FgRed).SprintFunc(),
		Warning: color.New(color.FgYellow).SprintFunc(),
		Info:    color.New(color.FgCyan).SprintFunc(),

		Bold:      color.New(color.Bold).SprintFunc(),
		Dim:       color.New(color.Faint).SprintFunc(),
		Separator: color.New(color.FgHiBlack).SprintFunc(),
	}
}

// NoColorTheme returns a theme with no color codes
func NoColorTheme() *Theme {
	plain := func(a ...interface{}) string {
		out := ""
		for _, v := range a {
			out += toString(v)
		}
		return out
	}
	return &Theme{
		RalphBorder: plain,
		RalphLabel:  plain,
		RalphText:   plain,
		Success:     plain,
		Error:       plain,
		Warning:     plain,
		Info:        plain,
		Bold:        plain,
		Dim:         plain,
		Separator:   plain,
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
