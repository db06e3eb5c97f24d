// Package orchestrator implements the Task Orchestrator (§4.11): the
// single entry point the Service Loop calls for every execute command,
// tying together the Intent Router's fast path, the memory layers'
// context assembly, the Planner, and the Plan Executor into one
// request/response cycle.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/intent"
	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/structuredmemory"
	"github.com/harunnryd/heike/internal/vectormemory"
)

// PlannerFactory builds a fresh Planner bound to cfg's provider/model
// settings (§4.11 step 1: "rebuild the planner using the latest
// provider/model" after every config reload). Nil-safe: an Orchestrator
// with no factory keeps whatever Planner it was constructed with.
type PlannerFactory func(cfg *config.Config) cognitive.Planner

// Orchestrator wires the Intent Router, memory layers, Planner, and
// Plan Executor into the single Run call the service loop drives.
type Orchestrator struct {
	Config           config.OrchestratorConfig
	IntentRouter     *intent.Router
	Executor         *cognitive.PlanExecutor
	VectorMemory     *vectormemory.Memory
	StructuredMemory *structuredmemory.Store
	InputBroker      *InputBroker
	ConfigStore      *config.Store
	PlannerFactory   PlannerFactory

	intentThreshold float64

	plannerMu sync.RWMutex
	planner   cognitive.Planner
}

// New validates and freezes the orchestrator's configuration-derived
// fields once at construction, the same pattern the Plan Executor uses
// for its maxAttempts default. store and plannerFactory may be nil: a
// nil store skips the per-task reload (§4.11 step 1) and a nil factory
// keeps the planner passed in fixed for the orchestrator's lifetime.
func New(cfg config.OrchestratorConfig, router *intent.Router, planner cognitive.Planner, executor *cognitive.PlanExecutor, vecMem *vectormemory.Memory, structMem *structuredmemory.Store, broker *InputBroker, store *config.Store, plannerFactory PlannerFactory) *Orchestrator {
	threshold := intent.DefaultThreshold
	if cfg.IntentThreshold != "" {
		if parsed, err := parseThreshold(cfg.IntentThreshold); err == nil {
			threshold = parsed
		}
	}
	return &Orchestrator{
		Config:           cfg,
		IntentRouter:     router,
		planner:          planner,
		Executor:         executor,
		VectorMemory:     vecMem,
		StructuredMemory: structMem,
		InputBroker:      broker,
		ConfigStore:      store,
		PlannerFactory:   plannerFactory,
		intentThreshold:  threshold,
	}
}

func parseThreshold(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

// Run drives one instruction through the full §4.11 flow: reload
// config and rebuild the planner, build context, try the intent fast
// path, fall back to the planner, execute the resulting plan, then
// record the outcome to both memory layers. emit streams §4.1 events;
// it is nil-safe. hints carries the execute command's optional
// context (attached file path, recent files, chat history) and may be
// nil.
func (o *Orchestrator) Run(ctx context.Context, workspaceID, instruction string, hints map[string]any, emit cognitive.EventEmitter) (*plan.TaskResult, error) {
	if emit == nil {
		emit = cognitive.NoopEmitter
	}

	o.reloadConfig()

	pctx := plan.NewContext(time.Now().Format(time.RFC3339))
	pctx.WorkspaceID = workspaceID
	pctx.Emit = plan.EventFunc(emit)
	if o.InputBroker != nil {
		pctx.RequestInput = o.InputBroker.Request(emit)
	}
	pctx.MemoryContext = o.assembleMemoryContext(ctx, instruction)
	applyHints(pctx, hints)

	emit("progress", map[string]any{"stage": "context_ready"})

	p, mode, err := o.resolvePlan(ctx, instruction, pctx, emit)
	if err != nil {
		return nil, err
	}

	emit("plan_ready", map[string]any{"steps": p})

	result := o.Executor.ExecutePlan(ctx, p, instruction, pctx, emit)
	result.Mode = mode

	o.recordOutcome(instruction, p, result)

	return result, nil
}

// resolvePlan implements §4.4's fast-path-or-planner decision: a
// confident intent match synthesizes a single-step plan with no LLM
// round trip; anything else goes to the full Planner.
func (o *Orchestrator) resolvePlan(ctx context.Context, instruction string, pctx *plan.Context, emit cognitive.EventEmitter) (plan.Plan, string, error) {
	if o.IntentRouter != nil {
		if match, ok := o.IntentRouter.Detect(ctx, instruction, o.intentThreshold); ok {
			if step, ok := fastPathStep(match, instruction); ok {
				emit("thinking", map[string]any{"phase": "fast_path", "intent": match.IntentType})
				return plan.Plan{step}, "fast_path", nil
			}
		}
	}

	emit("thinking", map[string]any{"phase": "planning"})
	p, err := o.currentPlanner().Plan(ctx, instruction, pctx)
	if err != nil {
		return nil, "", fmt.Errorf("plan instruction: %w", err)
	}
	return p, "planned", nil
}

// reloadConfig implements §4.11 step 1: reload the config store and
// rebuild the planner against the freshly reloaded snapshot's
// provider/model, so a UI-side edit between two tasks takes effect
// without a restart. A nil ConfigStore or PlannerFactory is a no-op.
func (o *Orchestrator) reloadConfig() {
	if o.ConfigStore == nil {
		return
	}
	cfg, err := o.ConfigStore.Reload()
	if err != nil {
		slog.Warn("orchestrator: config reload failed, keeping previous snapshot", "error", err)
		return
	}
	if o.PlannerFactory == nil {
		return
	}
	planner := o.PlannerFactory(cfg)
	if planner == nil {
		return
	}
	o.plannerMu.Lock()
	o.planner = planner
	o.plannerMu.Unlock()
}

func (o *Orchestrator) currentPlanner() cognitive.Planner {
	o.plannerMu.RLock()
	defer o.plannerMu.RUnlock()
	return o.planner
}

// applyHints copies the execute command's optional context hints
// (§4.1's "context?") into pctx: every key is stashed into Extra for
// adapters to read via pctx.Get, and a non-empty "current_time" string
// also replaces pctx.CurrentTime.
func applyHints(pctx *plan.Context, hints map[string]any) {
	if pctx == nil || len(hints) == 0 {
		return
	}
	if v, ok := hints["current_time"].(string); ok && v != "" {
		pctx.CurrentTime = v
	}
	for key, value := range hints {
		pctx.Set(key, value)
	}
}

// fastPathStep turns an intent match's metadata into a single
// executable Step, resolving app_open/app_close's app-name extraction
// inline (§4.4). ok is false when the fast path can't be completed and
// the caller must fall back to the planner.
func fastPathStep(match plan.IntentMatch, instruction string) (plan.Step, bool) {
	stepType, _ := match.Metadata["step_type"].(string)
	action, _ := match.Metadata["action"].(string)
	if stepType == "" {
		return plan.Step{}, false
	}

	params := map[string]any{}
	if verbsRaw, ok := match.Metadata["verbs"].([]string); ok && len(verbsRaw) > 0 {
		name, ok := intent.ExtractAppName(instruction, verbsRaw)
		if !ok {
			return plan.Step{}, false
		}
		params["app_name"] = name
	}

	return plan.Step{Type: stepType, Action: action, Params: params, Description: instruction}, true
}

// assembleMemoryContext concatenates structured and vector memory
// summaries in the order DESIGN.md's Open Question decision fixed:
// structured preferences/files/instructions first, then vector-memory
// similarity hits, since the former is cheaper and more precise.
func (o *Orchestrator) assembleMemoryContext(ctx context.Context, instruction string) string {
	var sb strings.Builder
	if o.StructuredMemory != nil {
		if text, err := o.StructuredMemory.GetMemoryContext(ctx); err != nil {
			slog.Warn("orchestrator: structured memory context failed", "error", err)
		} else if text != "" {
			sb.WriteString(text)
		}
	}
	if o.VectorMemory != nil {
		if text := o.VectorMemory.GetMemoryContext(ctx, instruction, 3); text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// recordOutcome persists the task to both memory layers in the
// background: a slow memory write must never hold up the result the
// service loop is about to emit.
func (o *Orchestrator) recordOutcome(instruction string, p plan.Plan, result *plan.TaskResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var files []string
		descriptions := make([]string, 0, len(p))
		for _, step := range p {
			descriptions = append(descriptions, step.Description)
			if path, ok := step.Params["path"].(string); ok && path != "" {
				files = append(files, path)
			}
		}

		if o.StructuredMemory != nil {
			id := fmt.Sprintf("task-%d", time.Now().UnixNano())
			if err := o.StructuredMemory.AddTaskRecord(ctx, id, instruction, descriptions, result.Success, result.Duration, files); err != nil {
				slog.Warn("orchestrator: structured memory task record failed", "error", err)
			}
		}
		if o.VectorMemory != nil {
			compact := plan.CompactSteps(p)
			if err := o.VectorMemory.AddInstructionPattern(ctx, instruction, compact, result.Success, result.Duration, files); err != nil {
				slog.Warn("orchestrator: vector memory instruction pattern failed", "error", err)
			}
		}
	}()
}
