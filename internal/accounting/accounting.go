// Package accounting tracks token and dollar spend and decides when an
// iteration's context consumption forces a session hand-off.
package accounting

import (
	"errors"
	"fmt"
	"math"
)

// Budget breaches. These feed the circuit breaker as iteration failures.
var (
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	ErrSessionBudgetExceeded   = errors.New("session budget exceeded")
	ErrTotalBudgetExceeded     = errors.New("total budget exceeded")
)

// Pricing is USD per million tokens for one model
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// pricingTable maps model -> pricing. The "default" row covers unknown
// models.
var pricingTable = map[string]Pricing{
	"claude-opus-4-1":   {15.00, 75.00},
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-4-5":  {1.00, 5.00},
	"default":           {3.00, 15.00},
}

// contextWindows maps model -> total context capacity in tokens
var contextWindows = map[string]int{
	"claude-opus-4-1":   200_000,
	"claude-sonnet-4-5": 200_000,
	"claude-haiku-4-5":  200_000,
}

// DefaultContextWindow is used for models without a known window
const DefaultContextWindow = 200_000

// DefaultSafetyMargin is the fraction of the window held back from the
// effective capacity.
const DefaultSafetyMargin = 0.20

// SmartZoneFraction of the total window is the hand-off trigger: past this
// an iteration is considered too context-heavy to continue the session.
const SmartZoneFraction = 0.60

// Cost returns USD for the given token counts under the model's pricing,
// rounded half-to-even at four decimals so repeated bookkeeping is
// deterministic.
func Cost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := pricingTable[model]
	if !ok {
		pricing = pricingTable["default"]
	}
	raw := float64(inputTokens)/1e6*pricing.InputPerMTok +
		float64(outputTokens)/1e6*pricing.OutputPerMTok
	return roundBankers(raw, 4)
}

// roundBankers rounds to the given number of decimals, ties to even
func roundBankers(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*scale) / scale
}

// ContextWindow returns the model's total context capacity
func ContextWindow(model string) int {
	if w, ok := contextWindows[model]; ok {
		return w
	}
	return DefaultContextWindow
}

// Accountant owns the context-budget model and the configured cost limits
// for one orchestrator.
type Accountant struct {
	model         string
	window        int
	safetyMargin  float64
	forcedHandoff bool

	perIterationLimit float64
	perSessionLimit   float64
	totalLimit        float64
}

// New builds an accountant for the given model and USD limits (zero limit =
// unlimited).
func New(model string, perIteration, perSession, total float64) *Accountant {
	return &Accountant{
		model:             model,
		window:            ContextWindow(model),
		safetyMargin:      DefaultSafetyMargin,
		perIterationLimit: perIteration,
		perSessionLimit:   perSession,
		totalLimit:        total,
	}
}

// Cost prices one iteration's tokens under this accountant's model
func (a *Accountant) Cost(inputTokens, outputTokens int) float64 {
	return Cost(a.model, inputTokens, outputTokens)
}

// EffectiveCapacity is the window minus the safety margin
func (a *Accountant) EffectiveCapacity() int {
	return int(float64(a.window) * (1 - a.safetyMargin))
}

// SmartZoneMax is the hand-off threshold in tokens
func (a *Accountant) SmartZoneMax() int {
	return int(float64(a.window) * SmartZoneFraction)
}

// ForceHandoff makes the next ShouldHandoff call return true (operator
// request).
func (a *Accountant) ForceHandoff() {
	a.forcedHandoff = true
}

// ShouldHandoff reports whether the iteration's token usage crossed the
// smart-zone max, or a hand-off was forced. Consumes the forced flag.
func (a *Accountant) ShouldHandoff(iterationTokens int) bool {
	if a.forcedHandoff {
		a.forcedHandoff = false
		return true
	}
	return iterationTokens >= a.SmartZoneMax()
}

// CheckLimits compares cumulative spend against the configured budgets.
// At exactly the limit the next iteration is denied.
func (a *Accountant) CheckLimits(iterationCost, sessionCost, totalCost float64) error {
	if a.totalLimit > 0 && totalCost >= a.totalLimit {
		return fmt.Errorf("%w: $%.2f >= $%.2f", ErrTotalBudgetExceeded, totalCost, a.totalLimit)
	}
	if a.perSessionLimit > 0 && sessionCost >= a.perSessionLimit {
		return fmt.Errorf("%w: $%.2f >= $%.2f", ErrSessionBudgetExceeded, sessionCost, a.perSessionLimit)
	}
	if a.perIterationLimit > 0 && iterationCost >= a.perIterationLimit {
		return fmt.Errorf("%w: $%.2f >= $%.2f", ErrIterationBudgetExceeded, iterationCost, a.perIterationLimit)
	}
	return nil
}
