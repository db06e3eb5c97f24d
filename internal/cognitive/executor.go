package cognitive

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/heike/internal/plan"
)

// DefaultMaxAttempts mirrors spec.md §4.7's execute_plan default.
const DefaultMaxAttempts = 3

// retryBackoff is the "transient wait before last retry" §4.7's
// pseudocode performs when the reflector declines to rewrite the step.
var retryBackoff = time.Second

// PlanExecutor runs a Plan sequentially, dispatching each Step through
// the Adapter registry with per-step retry and reflection (§4.7). It
// never lets an adapter panic or a reflector error escape: every path
// terminates in a Step Result.
type PlanExecutor struct {
	registry    Registry
	reflector   Reflector
	maxAttempts int
}

func NewPlanExecutor(registry Registry, reflector Reflector, maxAttempts int) *PlanExecutor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PlanExecutor{registry: registry, reflector: reflector, maxAttempts: maxAttempts}
}

// ExecutePlan implements the §4.7 execute_plan algorithm: sequential
// steps, stop_flag checked before each, step_started/completed/failed
// events emitted in order, first failure aborts the plan.
func (e *PlanExecutor) ExecutePlan(ctx context.Context, p plan.Plan, instruction string, pctx *plan.Context, emit EventEmitter) *plan.TaskResult {
	if emit == nil {
		emit = NoopEmitter
	}
	if pctx != nil {
		pctx.Emit = plan.EventFunc(emit)
	}
	start := time.Now()

	emit("execution_started", map[string]any{"step_count": len(p)})

	outcomes := make([]plan.StepOutcome, 0, len(p))
	overall := true
	message := "task completed"

	for i, step := range p {
		if pctx != nil && pctx.StopFlag {
			message = "stopped by request"
			break
		}

		emit("step_started", map[string]any{"step_index": i, "step": step})

		result := e.executeStepWithRetry(ctx, step, i, pctx, emit)
		outcomes = append(outcomes, plan.StepOutcome{Index: i, Step: step, Result: result})

		if result.Success {
			emit("step_completed", map[string]any{"step_index": i, "result": result})
			continue
		}

		emit("step_failed", map[string]any{"step_index": i, "result": result})
		overall = false
		message = result.Message
		break
	}

	return &plan.TaskResult{
		Success:         overall,
		Message:         message,
		Duration:        time.Since(start).Seconds(),
		Steps:           outcomes,
		UserInstruction: instruction,
	}
}

// executeStepWithRetry implements §4.7's execute_step_with_retry.
func (e *PlanExecutor) executeStepWithRetry(ctx context.Context, step plan.Step, index int, pctx *plan.Context, emit EventEmitter) plan.StepResult {
	current := step

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		normalized, adapter, found := ResolveAdapter(e.registry, current)
		if !found {
			return plan.StepResult{Success: false, Message: "no adapter for type: " + current.Type}
		}
		current = normalized

		result := e.safeExecute(ctx, adapter, current, pctx)
		if result.Success {
			return result
		}

		if result.IsConfigError() || result.RequiresUserAction() {
			// Non-retryable short-circuit (§8): the reflector is never
			// invoked and the executor returns immediately.
			return result
		}

		if attempt == e.maxAttempts {
			return result
		}

		verdict, err := e.reflector.AnalyzeFailure(ctx, current, result.Message, summarizeContext(pctx))
		if err != nil || verdict == nil {
			time.Sleep(retryBackoff)
			continue
		}

		if verdict.IsRetryable && verdict.ModifiedStep != nil {
			current = *verdict.ModifiedStep
			emit("thinking", map[string]any{"phase": "reflection", "reason": verdict.Reason, "step_index": index})
		} else {
			time.Sleep(retryBackoff)
		}
	}

	// Unreachable: the loop always returns by the last-attempt branch.
	return plan.StepResult{Success: false, Message: "retry loop exhausted unexpectedly"}
}

// safeExecute converts any adapter panic into a failed Step Result so
// no exception ever escapes the executor (§4.7, §7).
func (e *PlanExecutor) safeExecute(ctx context.Context, adapter Adapter, step plan.Step, pctx *plan.Context) (result plan.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = plan.StepResult{Success: false, Message: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	return adapter.Execute(ctx, step, pctx)
}

func summarizeContext(pctx *plan.Context) string {
	if pctx == nil {
		return ""
	}
	if pctx.MemoryContext != "" {
		return pctx.MemoryContext
	}
	return ""
}
