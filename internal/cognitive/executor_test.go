package cognitive

import (
	"context"
	"testing"

	"github.com/harunnryd/heike/internal/plan"
)

type stubAdapter struct {
	results []plan.StepResult
	calls   int
	panics  bool
}

func (a *stubAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if a.panics {
		panic("adapter exploded")
	}
	idx := a.calls
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	a.calls++
	return a.results[idx]
}

type stubReflector struct {
	verdict *plan.ReflectionVerdict
	err     error
}

func (r *stubReflector) AnalyzeFailure(ctx context.Context, step plan.Step, errorMessage string, contextSummary string) (*plan.ReflectionVerdict, error) {
	return r.verdict, r.err
}

func TestExecutePlanSucceedsFirstTry(t *testing.T) {
	registry := NewAdapterRegistry()
	adapter := &stubAdapter{results: []plan.StepResult{{Success: true, Message: "ok"}}}
	registry.Register("screenshot_desktop", adapter)

	executor := NewPlanExecutor(registry, &stubReflector{}, 0)
	p := plan.Plan{{Type: "screenshot_desktop", Action: "capture", Params: map[string]any{}}}

	result := executor.ExecutePlan(context.Background(), p, "take a screenshot", plan.NewContext("now"), nil)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if adapter.calls != 1 {
		t.Fatalf("expected one adapter call, got %d", adapter.calls)
	}
}

func TestExecutePlanRetriesWithReflectedStep(t *testing.T) {
	registry := NewAdapterRegistry()
	adapter := &stubAdapter{results: []plan.StepResult{
		{Success: false, Message: "file not found"},
		{Success: true, Message: "ok"},
	}}
	registry.Register("file_read", adapter)

	reflector := &stubReflector{verdict: &plan.ReflectionVerdict{
		IsRetryable:  true,
		ModifiedStep: &plan.Step{Type: "file_read", Action: "read", Params: map[string]any{"path": "/tmp/b.txt"}},
		Reason:       "wrong path",
	}}

	executor := NewPlanExecutor(registry, reflector, 3)
	p := plan.Plan{{Type: "file_read", Action: "read", Params: map[string]any{"path": "/tmp/a.txt"}}}

	result := executor.ExecutePlan(context.Background(), p, "read file", plan.NewContext("now"), nil)
	if !result.Success {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected two adapter calls, got %d", adapter.calls)
	}
}

func TestExecutePlanShortCircuitsOnConfigError(t *testing.T) {
	registry := NewAdapterRegistry()
	adapter := &stubAdapter{results: []plan.StepResult{
		{Success: false, Message: "missing api key", Data: map[string]any{"is_config_error": true}},
	}}
	registry.Register("send_email", adapter)

	executor := NewPlanExecutor(registry, &stubReflector{}, 3)
	p := plan.Plan{{Type: "send_email", Action: "send", Params: map[string]any{}}}

	result := executor.ExecutePlan(context.Background(), p, "send an email", plan.NewContext("now"), nil)
	if result.Success {
		t.Fatal("expected failure")
	}
	if adapter.calls != 1 {
		t.Fatalf("expected no retry on config error, got %d calls", adapter.calls)
	}
}

func TestExecutePlanRecoversFromAdapterPanic(t *testing.T) {
	registry := NewAdapterRegistry()
	adapter := &stubAdapter{panics: true}
	registry.Register("open_app", adapter)

	executor := NewPlanExecutor(registry, &stubReflector{}, 1)
	p := plan.Plan{{Type: "open_app", Action: "open", Params: map[string]any{}}}

	result := executor.ExecutePlan(context.Background(), p, "open an app", plan.NewContext("now"), nil)
	if result.Success {
		t.Fatal("expected failure from panicking adapter")
	}
}

func TestExecutePlanStopsOnMissingAdapter(t *testing.T) {
	registry := NewAdapterRegistry()
	executor := NewPlanExecutor(registry, &stubReflector{}, 1)
	p := plan.Plan{{Type: "unregistered_type", Action: "noop", Params: map[string]any{}}}

	result := executor.ExecutePlan(context.Background(), p, "do something unsupported", plan.NewContext("now"), nil)
	if result.Success {
		t.Fatal("expected failure for unresolved adapter")
	}
}

func TestResolveAdapterNormalizesAlias(t *testing.T) {
	registry := NewAdapterRegistry()
	adapter := &stubAdapter{results: []plan.StepResult{{Success: true}}}
	registry.Register("file_delete", adapter)

	normalized, resolved, ok := ResolveAdapter(registry, plan.Step{Type: "file_manager", Action: "delete the file", Params: map[string]any{}})
	if !ok {
		t.Fatal("expected alias to resolve to a registered adapter")
	}
	if normalized.Type != "file_delete" {
		t.Fatalf("expected normalized type file_delete, got %s", normalized.Type)
	}
	if resolved != adapter {
		t.Fatal("expected resolved adapter to match registered instance")
	}
}
