// Package cognitive implements the three LLM-driven components §4 of
// the specification describes: the Planner (§4.5), the Reflector
// (§4.6), and the Plan Executor (§4.7) that drives each Step through an
// Adapter with retry and reflection.
package cognitive

import (
	"context"

	"github.com/harunnryd/heike/internal/model/contract"
	"github.com/harunnryd/heike/internal/plan"
)

// LLMClient abstracts a single provider-agnostic chat call (§9's
// "Provider polymorphism" redesign note: one interface, vendor quirks
// handled inside the implementation, never in the Planner/Reflector).
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	ChatComplete(ctx context.Context, messages []contract.Message, tools []contract.ToolDef) (string, []*contract.ToolCall, error)
}

// Planner synthesizes a Plan for an instruction (§4.5).
type Planner interface {
	Plan(ctx context.Context, instruction string, pctx *plan.Context) (plan.Plan, error)
}

// Reflector analyzes one failed Step and either marks it non-retryable
// or returns a corrected Step to retry (§4.6).
type Reflector interface {
	AnalyzeFailure(ctx context.Context, step plan.Step, errorMessage string, contextSummary string) (*plan.ReflectionVerdict, error)
}

// Adapter is the dispatch contract every tool implementation honors
// (§4.8, GLOSSARY "Dispatch contract"). Adapters are constructed once
// at startup; the executor never calls two adapter methods
// concurrently for the same task.
type Adapter interface {
	Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult
}

// Registry maps canonical step types to the Adapter that serves them.
type Registry interface {
	Resolve(stepType string) (Adapter, bool)
}

// EventEmitter streams progress events out of the Plan Executor and
// Task Orchestrator (§4.1, §6.1). data is marshaled as the event's
// "data" field; eventType is one of the §4.1 event names.
type EventEmitter func(eventType string, data map[string]any)

// NoopEmitter discards every event; useful for tests and for callers
// that don't need progress streaming.
func NoopEmitter(string, map[string]any) {}
