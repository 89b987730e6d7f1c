// Package orchestrator drives the supervisory iteration loop: context build,
// executor call, accounting, circuit-breaker bookkeeping, recovery decisions,
// and session hand-offs. The loop is strictly sequential: one iteration, one
// executor call, one tool call at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cipherscout/ralph/internal/accounting"
	"github.com/cipherscout/ralph/internal/breaker"
	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/llm"
	"github.com/cipherscout/ralph/internal/memory"
	"github.com/cipherscout/ralph/internal/phase"
	"github.com/cipherscout/ralph/internal/safety"
	"github.com/cipherscout/ralph/internal/scheduler"
	"github.com/cipherscout/ralph/internal/store"
	"github.com/cipherscout/ralph/internal/tools"
	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/verify"
)

// HaltKind classifies why the loop stopped
type HaltKind int

const (
	// HaltCompleted means the run finished its work
	HaltCompleted HaltKind = iota
	// HaltBreaker means the circuit breaker opened
	HaltBreaker
	// HaltIterationCap means max iterations were reached
	HaltIterationCap
	// HaltPaused means the paused flag was set
	HaltPaused
	// HaltCancelled means the operator interrupted the run
	HaltCancelled
)

// RunResult summarizes one Run invocation
type RunResult struct {
	Kind       HaltKind
	Reason     string
	Iterations int
	LastTaskID string
}

// Orchestrator owns the object graph for one project. All components hang
// off this value; nothing reaches for ambient state.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	mem       *memory.Manager
	acct      *accounting.Accountant
	exec      llm.Executor
	surface   *tools.Surface
	validator *safety.Validator
	disp      *display.Display
	log       *zap.Logger

	projectRoot      string
	sessionStartedAt types.Timestamp
	freshSession     bool
	crossedPhase     bool
	forceHandoff     bool
}

// New wires an orchestrator for the project root
func New(projectRoot string, cfg *config.Config, st *store.Store, exec llm.Executor, disp *display.Display, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if disp == nil {
		disp = display.New()
	}
	return &Orchestrator{
		cfg:   cfg,
		store: st,
		mem:   memory.New(projectRoot, cfg.Context),
		acct: accounting.New(cfg.PrimaryModel,
			cfg.CostLimits.PerIteration, cfg.CostLimits.PerSession, cfg.CostLimits.Total),
		exec:             exec,
		surface:          tools.New(st, log),
		validator:        safety.New(cfg.Safety),
		disp:             disp,
		log:              log,
		projectRoot:      projectRoot,
		sessionStartedAt: types.Now(),
		freshSession:     true,
	}
}

// ForceHandoff makes the next decision point trigger a session hand-off
func (o *Orchestrator) ForceHandoff() {
	o.forceHandoff = true
}

// Run drives the iteration loop until completion, halt, pause, cancellation,
// or the iteration cap. maxIterations of zero uses the configured cap.
func (o *Orchestrator) Run(ctx context.Context, maxIterations int) (*RunResult, error) {
	if maxIterations <= 0 {
		maxIterations = o.cfg.MaxIterations
	}

	releaseLock, err := o.store.AcquireLock()
	if err != nil {
		return nil, err
	}
	defer releaseLock()

	result := &RunResult{}

	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			result.Kind = HaltCancelled
			result.Reason = "cancelled"
			return result, nil
		}

		outcome, err := o.runIteration(ctx)
		if err != nil {
			return nil, err
		}
		result.Iterations++
		if outcome.taskID != "" {
			result.LastTaskID = outcome.taskID
		}

		if outcome.halt != nil {
			result.Kind = outcome.halt.kind
			result.Reason = outcome.halt.reason
			return result, nil
		}
		if outcome.done {
			result.Kind = HaltCompleted
			result.Reason = "all phases complete"
			return result, nil
		}
	}

	result.Kind = HaltIterationCap
	result.Reason = fmt.Sprintf("iteration limit %d reached", maxIterations)
	return result, nil
}

// halt describes an early loop exit
type halt struct {
	kind   HaltKind
	reason string
}

// iterationOutcome is one pass of the loop
type iterationOutcome struct {
	taskID string
	halt   *halt
	done   bool
}

func (o *Orchestrator) runIteration(ctx context.Context) (*iterationOutcome, error) {
	outcome := &iterationOutcome{}

	// Pre-iteration: load the latest snapshots.
	state, err := o.store.LoadState()
	if err != nil {
		return nil, err
	}
	plan, err := o.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	injections, err := o.store.LoadInjections()
	if err != nil {
		return nil, err
	}

	if state.Paused {
		outcome.halt = &halt{kind: HaltPaused, reason: "paused by operator"}
		return outcome, nil
	}

	if o.freshSession {
		o.freshSession = false
		if state.SessionID == "" {
			state.BeginSession(uuid.NewString())
			o.sessionStartedAt = types.Now()
		}
		if reset := plan.ResetStaleInProgress(); reset > 0 {
			o.log.Info("reset stale in-progress tasks", zap.Int("count", reset))
			if err := o.store.SavePlan(plan); err != nil {
				return nil, err
			}
		}
	}

	brk := breaker.New(&state.CircuitBreaker, state.TotalCostUSD)
	if halted, reason := brk.ShouldHalt(); halted {
		if err := o.store.SaveState(state); err != nil {
			return nil, err
		}
		o.haltPanel(reason, outcome.taskID, state.TotalCostUSD)
		outcome.halt = &halt{kind: HaltBreaker, reason: reason}
		return outcome, nil
	}

	def, err := phase.Get(state.CurrentPhase, o.cfg)
	if err != nil {
		return nil, err
	}

	var currentTask *types.Task
	if state.CurrentPhase == types.PhaseBuilding {
		currentTask = scheduler.NextTask(plan)
		if err := o.store.SavePlan(plan); err != nil { // persist retry demotions
			return nil, err
		}
		if currentTask != nil {
			outcome.taskID = currentTask.ID
		}
	}

	// Prompt assembly.
	active := o.mem.BuildActiveMemory(state, plan, o.crossedPhase)
	o.crossedPhase = false
	if err := o.mem.WriteActiveMemory(o.projectRoot, active); err != nil {
		o.log.Warn("writing MEMORY.md", zap.Error(err))
	}

	prompt, err := def.BuildPrompt(phase.Context{
		Iteration:    state.IterationCount + 1,
		CurrentTask:  currentTask,
		ActiveMemory: active,
		Injections:   injections,
		BudgetTokens: o.acct.EffectiveCapacity(),
	})
	if err != nil {
		return nil, err
	}

	completedBefore := completedSet(plan)
	o.disp.IterationHeader(state.IterationCount+1, state.CurrentPhase.String(), outcome.taskID)

	// Executor call. Every tool invocation routes through the validator and
	// the tool surface; a denial comes back to the executor as a normal tool
	// failure.
	dispatch := o.dispatcher(state.CurrentPhase, def.AllowedTools)
	result, err := o.exec.Execute(ctx, llm.Request{
		SystemPrompt: prompt,
		Prompt:       iterationUserPrompt(state, currentTask),
		Model:        o.cfg.ModelFor(state.CurrentPhase.String()),
		AllowedTools: def.AllowedTools,
		MaxTurns:     def.MaxTurns,
		WorkDir:      o.projectRoot,
	}, dispatch)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	// Injections live exactly one iteration: consumed by the prompt above,
	// cleared before anything queues new ones.
	if len(injections) > 0 {
		if err := o.store.ClearInjections(); err != nil {
			return nil, err
		}
	}

	// Post-iteration accounting. Tool effects are already persisted; reload
	// the plan to diff completions.
	plan, err = o.store.LoadPlan()
	if err != nil {
		return nil, err
	}
	completedNow := completedDiff(completedBefore, plan)
	blockedNow := blockedSet(plan)

	cost := result.CostUSD
	if cost == 0 {
		cost = o.acct.Cost(result.InputTokens, result.OutputTokens)
	}
	state.IterationCount++
	state.RecordUsage(result.TotalTokens(), cost)
	state.TasksCompletedThisSession += len(completedNow)

	cancelled := result.Error == "cancelled"
	failureReason := ""
	if !result.Success {
		failureReason = result.Error
		if failureReason == "" {
			failureReason = "executor reported failure"
		}
	}

	// Verification backpressure after productive building iterations and
	// after every validation iteration.
	verifyFailed := false
	runVerify := (state.CurrentPhase == types.PhaseBuilding && len(completedNow) > 0) ||
		state.CurrentPhase == types.PhaseValidation
	if result.Success && runVerify {
		verifyFailed = o.runVerification(ctx)
		if verifyFailed {
			failureReason = "verification failed"
		}
	}

	budgetErr := o.acct.CheckLimits(cost, state.SessionCostUSD, state.TotalCostUSD)
	if budgetErr != nil {
		failureReason = budgetErr.Error()
	}

	iterationFailed := !result.Success || verifyFailed || budgetErr != nil
	brk.Record(breaker.Outcome{
		Success:        !iterationFailed,
		TasksCompleted: len(completedNow),
		CostAdded:      cost,
		FailureReason:  failureReason,
	})

	if iterationFailed && outcome.taskID != "" && !cancelled {
		if err := scheduler.RecordFailure(plan, outcome.taskID); err == nil {
			if err := o.store.SavePlan(plan); err != nil {
				return nil, err
			}
		}
	}

	if err := o.mem.CaptureIteration(types.IterationMemory{
		Iteration:      state.IterationCount,
		Phase:          state.CurrentPhase,
		Timestamp:      types.Now(),
		CompletedTasks: completedNow,
		BlockedTasks:   blockedNow,
		MadeProgress:   len(completedNow) > 0,
		TokensUsed:     result.TotalTokens(),
		CostUSD:        cost,
		Summary:        iterationSummary(result, completedNow),
	}); err != nil {
		o.log.Warn("capturing iteration memory", zap.Error(err))
	}

	if err := o.store.SaveState(state); err != nil {
		return nil, err
	}

	o.disp.IterationFooter(!iterationFailed, len(completedNow), result.TotalTokens(), cost)

	// Decision.
	if cancelled {
		outcome.halt = &halt{kind: HaltCancelled, reason: "cancelled"}
		return outcome, nil
	}

	if halted, reason := brk.ShouldHalt(); halted {
		if err := o.store.SaveState(state); err != nil {
			return nil, err
		}
		o.haltPanel(reason, outcome.taskID, state.TotalCostUSD)
		outcome.halt = &halt{kind: HaltBreaker, reason: reason}
		return outcome, nil
	}

	if iterationFailed {
		action := decideRecovery(failure{
			budgetErr:    budgetErr,
			transportErr: result.Error,
			verifyFailed: verifyFailed,
			retriesSpent: taskRetries(plan, outcome.taskID),
			maxRetries:   types.MaxTaskRetries,
		})
		o.log.Info("recovery", zap.String("action", action.String()), zap.String("reason", failureReason))
		switch action {
		case ActionSkipTask:
			if task := plan.TaskByID(outcome.taskID); task != nil && task.Status != types.StatusBlocked {
				_ = task.MarkBlocked(failureReason)
				if err := o.store.SavePlan(plan); err != nil {
					return nil, err
				}
			}
		case ActionHandoff:
			return outcome, o.performHandoff(state, plan, "session_budget")
		case ActionManual:
			state.Paused = true
			if err := o.store.SaveState(state); err != nil {
				return nil, err
			}
			outcome.halt = &halt{kind: HaltPaused, reason: failureReason}
			return outcome, nil
		}
	}

	if o.acct.ShouldHandoff(result.TotalTokens()) || o.forceHandoff {
		o.forceHandoff = false
		return outcome, o.performHandoff(state, plan, "context_budget")
	}

	done, err := o.maybeTransitionPhase(state, plan, verifyFailed)
	if err != nil {
		return nil, err
	}
	outcome.done = done
	return outcome, nil
}

// HandoffNow performs an operator-requested hand-off outside the loop
func (o *Orchestrator) HandoffNow(reason string) error {
	if reason == "" {
		reason = "operator_request"
	}
	state, err := o.store.LoadState()
	if err != nil {
		return err
	}
	plan, err := o.store.LoadPlan()
	if err != nil {
		return err
	}
	return o.performHandoff(state, plan, reason)
}

// dispatcher builds the per-iteration tool routing closure
func (o *Orchestrator) dispatcher(currentPhase types.Phase, allowedTools []string) llm.ToolDispatcher {
	return func(name string, input json.RawMessage) (any, error) {
		var toolInput map[string]any
		if len(input) > 0 {
			_ = json.Unmarshal(input, &toolInput)
		}
		if decision := o.validator.Validate(name, toolInput, currentPhase, allowedTools); !decision.Allowed {
			o.log.Debug("tool denied", zap.String("tool", name), zap.String("reason", decision.Reason))
			return nil, fmt.Errorf("denied: %s", decision.Reason)
		}
		if tools.IsOrchestratorTool(name) {
			return o.surface.Dispatch(name, input)
		}
		// External tools (Read, Bash, ...) are executed by the transport;
		// the validator's allow is all the core contributes.
		return nil, nil
	}
}

// runVerification executes the configured backpressure commands one at a
// time; failures are injected into the next prompt.
func (o *Orchestrator) runVerification(ctx context.Context) bool {
	commands := verify.FromConfig(o.cfg.Verification.Commands)
	if len(commands) == 0 {
		return false
	}
	runner := verify.New(o.projectRoot, o.cfg.Verification.Timeout())
	results, err := runner.Run(ctx, commands)
	if err != nil {
		o.log.Warn("verification interrupted", zap.Error(err))
		return false
	}
	if verify.AllPassed(results) {
		return false
	}
	summary := verify.FailureSummary(results)
	o.disp.Warning("verification failed")
	if err := o.store.AddInjection(types.Injection{
		Timestamp: types.Now(),
		Content:   summary,
		Source:    types.SourceTestFailure,
		Priority:  10,
	}); err != nil {
		o.log.Warn("queueing verification failure", zap.Error(err))
	}
	return true
}

// performHandoff ends the session: memory capture, archive line, injection
// flush, fresh session id.
func (o *Orchestrator) performHandoff(state *types.RalphState, plan *types.ImplementationPlan, reason string) error {
	var inProgress []string
	for i := range plan.Tasks {
		if plan.Tasks[i].Status == types.StatusInProgress {
			inProgress = append(inProgress, plan.Tasks[i].ID)
		}
	}

	if err := o.mem.CaptureSession(types.SessionMemory{
		SessionID:       state.SessionID,
		EndedAt:         types.Now(),
		Iteration:       state.IterationCount,
		Phase:           state.CurrentPhase,
		HandoffReason:   reason,
		InProgressTasks: inProgress,
		TokensUsed:      state.SessionTokensUsed,
		CostUSD:         state.SessionCostUSD,
	}); err != nil {
		o.log.Warn("capturing session memory", zap.Error(err))
	}

	if err := o.store.AppendSessionArchive(types.SessionRecord{
		SessionID:      state.SessionID,
		Iteration:      state.IterationCount,
		StartedAt:      o.sessionStartedAt,
		EndedAt:        types.Now(),
		TokensUsed:     state.SessionTokensUsed,
		CostUSD:        state.SessionCostUSD,
		TasksCompleted: state.TasksCompletedThisSession,
		Phase:          state.CurrentPhase,
		HandoffReason:  reason,
	}); err != nil {
		return err
	}

	if err := o.store.ClearInjections(); err != nil {
		return err
	}

	newID := uuid.NewString()
	state.BeginSession(newID)
	brk := breaker.New(&state.CircuitBreaker, state.TotalCostUSD)
	brk.Resume()
	o.sessionStartedAt = types.Now()
	o.freshSession = true

	o.disp.HandoffNotice(reason, newID)
	return o.store.SaveState(state)
}

// maybeTransitionPhase advances the phase when its completion predicate (or
// the discovery signal) holds, writing a phase memory for the phase left
// behind. Returns done=true when validation passed and the run is finished.
func (o *Orchestrator) maybeTransitionPhase(state *types.RalphState, plan *types.ImplementationPlan, verifyFailed bool) (bool, error) {
	current := state.CurrentPhase

	if current == types.PhaseValidation {
		if verifyFailed {
			// Failures were injected for the next building iteration.
			return false, o.transition(state, plan, types.PhaseBuilding)
		}
		if err := o.mem.CapturePhase(types.PhaseMemory{
			Phase:       current,
			CompletedAt: types.Now(),
			Summary:     fmt.Sprintf("Validation passed at iteration %d.", state.IterationCount),
		}); err != nil {
			o.log.Warn("capturing phase memory", zap.Error(err))
		}
		return true, nil
	}

	def, err := phase.Get(current, o.cfg)
	if err != nil {
		return false, err
	}
	complete := def.Complete(state, plan)
	if current == types.PhaseDiscovery {
		complete = o.surface.PhaseCompleteSignalled()
	}
	if !complete {
		return false, nil
	}

	next, ok := phase.NextPhase(current)
	if !ok || !phase.CanTransition(current, next) {
		return false, nil
	}
	return false, o.transition(state, plan, next)
}

func (o *Orchestrator) transition(state *types.RalphState, plan *types.ImplementationPlan, next types.Phase) error {
	prev := state.CurrentPhase
	if !phase.CanTransition(prev, next) {
		return fmt.Errorf("illegal phase transition %s -> %s", prev, next)
	}

	if err := o.mem.CapturePhase(types.PhaseMemory{
		Phase:       prev,
		CompletedAt: types.Now(),
		Summary:     fmt.Sprintf("Left %s at iteration %d.", prev, state.IterationCount),
	}); err != nil {
		o.log.Warn("capturing phase memory", zap.Error(err))
	}

	state.CurrentPhase = next
	o.crossedPhase = true
	o.disp.PhaseTransition(prev.String(), next.String())
	return o.store.SaveState(state)
}

func (o *Orchestrator) haltPanel(reason, lastTask string, totalCost float64) {
	o.disp.HaltPanel(reason, lastTask, totalCost, suggestRecovery(reason))
}

// suggestRecovery maps a halt reason onto the operator command most likely
// to help.
func suggestRecovery(reason string) string {
	switch {
	case strings.HasPrefix(reason, "stagnation"):
		return "ralph inject \"<guidance>\" or ralph regenerate-plan"
	case strings.HasPrefix(reason, "consecutive_failures"):
		return "ralph skip <task_id> or ralph inject \"<guidance>\""
	case strings.HasPrefix(reason, "cost_limit"):
		return "raise cost_limits in .ralph/config.yaml, then ralph resume"
	default:
		return "ralph status -v, then ralph resume"
	}
}

func iterationUserPrompt(state *types.RalphState, task *types.Task) string {
	if task != nil {
		return fmt.Sprintf("Continue the %s phase. Work on task %s only.", state.CurrentPhase, task.ID)
	}
	return fmt.Sprintf("Continue the %s phase.", state.CurrentPhase)
}

func iterationSummary(result *llm.IterationResult, completed []string) string {
	if result.Error != "" {
		return "Failed: " + result.Error
	}
	if len(completed) > 0 {
		return "Completed " + strings.Join(completed, ", ")
	}
	return "No tasks completed."
}

func completedSet(plan *types.ImplementationPlan) map[string]bool {
	set := make(map[string]bool)
	for i := range plan.Tasks {
		if plan.Tasks[i].Status == types.StatusComplete {
			set[plan.Tasks[i].ID] = true
		}
	}
	return set
}

func completedDiff(before map[string]bool, plan *types.ImplementationPlan) []string {
	var fresh []string
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.Status == types.StatusComplete && !before[t.ID] {
			fresh = append(fresh, t.ID)
		}
	}
	return fresh
}

func blockedSet(plan *types.ImplementationPlan) []string {
	var blocked []string
	for i := range plan.Tasks {
		if plan.Tasks[i].Status == types.StatusBlocked {
			blocked = append(blocked, plan.Tasks[i].ID)
		}
	}
	return blocked
}

func taskRetries(plan *types.ImplementationPlan, taskID string) int {
	if task := plan.TaskByID(taskID); task != nil {
		return task.RetryCount
	}
	return 0
}
