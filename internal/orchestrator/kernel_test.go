package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/intent"
	"github.com/harunnryd/heike/internal/model/contract"
	"github.com/harunnryd/heike/internal/plan"
)

type fakeRouter struct {
	vectors map[string][]float32
}

func (f *fakeRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeRouter) ListModels() []string         { return nil }
func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func newReadyEmbedder(t *testing.T, router *fakeRouter) *embedding.Provider {
	t.Helper()
	p := embedding.New(router, "")
	p.StartLoading(context.Background())
	if !p.WaitUntilReady(time.Second) {
		t.Fatal("embedder never became ready")
	}
	return p
}

type noopAdapter struct{ calls int }

func (a *noopAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	a.calls++
	return plan.StepResult{Success: true, Message: "captured"}
}

type stubReflector struct{}

func (stubReflector) AnalyzeFailure(ctx context.Context, step plan.Step, errorMessage, contextSummary string) (*plan.ReflectionVerdict, error) {
	return &plan.ReflectionVerdict{IsRetryable: false}, nil
}

type countingPlanner struct {
	calls int
	plan  plan.Plan
}

func (p *countingPlanner) Plan(ctx context.Context, instruction string, pctx *plan.Context) (plan.Plan, error) {
	p.calls++
	return p.plan, nil
}

func recordingEmitter() (cognitive.EventEmitter, func() []string) {
	var phases []string
	emit := func(eventType string, data map[string]any) {
		if eventType != "thinking" {
			return
		}
		if phase, ok := data["phase"].(string); ok {
			phases = append(phases, phase)
		}
	}
	return emit, func() []string { return phases }
}

func TestRunFastPathEmitsThinkingPhase(t *testing.T) {
	router := &fakeRouter{vectors: map[string][]float32{
		"take a screenshot":  {1, 0, 0},
		"screenshot desktop": {1, 0, 0},
	}}
	embed := newReadyEmbedder(t, router)
	catalog := []intent.Intent{{
		Type:     "screenshot",
		Examples: []string{"screenshot desktop"},
		Metadata: map[string]any{"step_type": "screenshot_desktop", "action": "capture"},
	}}
	intentRouter := intent.New(context.Background(), embed, catalog)

	registry := cognitive.NewAdapterRegistry()
	adapter := &noopAdapter{}
	registry.Register("screenshot_desktop", adapter)
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)

	planner := &countingPlanner{}
	orc := New(config.OrchestratorConfig{}, intentRouter, planner, executor, nil, nil, nil, nil, nil)

	emit, phases := recordingEmitter()
	result, err := orc.Run(context.Background(), "ws", "take a screenshot", nil, emit)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful result, got %+v", result)
	}
	if result.Mode != "fast_path" {
		t.Fatalf("expected fast_path mode, got %q", result.Mode)
	}
	if adapter.calls != 1 {
		t.Fatalf("expected the fast-path adapter to run once, got %d", adapter.calls)
	}
	if planner.calls != 0 {
		t.Fatalf("expected the planner to be skipped on a fast-path hit, got %d calls", planner.calls)
	}

	got := phases()
	if len(got) != 1 || got[0] != "fast_path" {
		t.Fatalf("expected exactly one thinking{phase:fast_path} event, got %v", got)
	}
}

func TestRunFallsBackToPlannerAndEmitsPlanningPhase(t *testing.T) {
	router := &fakeRouter{}
	embed := newReadyEmbedder(t, router)
	intentRouter := intent.New(context.Background(), embed, nil)

	registry := cognitive.NewAdapterRegistry()
	adapter := &noopAdapter{}
	registry.Register("list_files", adapter)
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)

	planner := &countingPlanner{plan: plan.Plan{{Type: "list_files", Action: "list", Params: map[string]any{}}}}
	orc := New(config.OrchestratorConfig{}, intentRouter, planner, executor, nil, nil, nil, nil, nil)

	emit, phases := recordingEmitter()
	result, err := orc.Run(context.Background(), "ws", "organize my downloads folder", nil, emit)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful result, got %+v", result)
	}
	if result.Mode != "planned" {
		t.Fatalf("expected planned mode, got %q", result.Mode)
	}
	if planner.calls != 1 {
		t.Fatalf("expected the planner to run once, got %d", planner.calls)
	}

	got := phases()
	if len(got) != 1 || got[0] != "planning" {
		t.Fatalf("expected exactly one thinking{phase:planning} event, got %v", got)
	}
}

func TestRunSkipsReloadWithoutConfigStore(t *testing.T) {
	router := &fakeRouter{}
	embed := newReadyEmbedder(t, router)
	intentRouter := intent.New(context.Background(), embed, nil)

	registry := cognitive.NewAdapterRegistry()
	registry.Register("list_files", &noopAdapter{})
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)

	initial := &countingPlanner{plan: plan.Plan{{Type: "list_files", Action: "list", Params: map[string]any{}}}}
	rebuilt := &countingPlanner{}

	var factoryCalls int
	factory := func(cfg *config.Config) cognitive.Planner {
		factoryCalls++
		return rebuilt
	}

	orc := New(config.OrchestratorConfig{}, intentRouter, initial, executor, nil, nil, nil, nil, factory)

	if _, err := orc.Run(context.Background(), "ws", "do something", nil, cognitive.NoopEmitter); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if factoryCalls != 0 {
		t.Fatalf("expected no planner rebuild without a ConfigStore, got %d", factoryCalls)
	}
	if initial.calls != 1 {
		t.Fatalf("expected the originally-wired planner to run without a ConfigStore, got %d calls", initial.calls)
	}
}

func TestRunReloadsConfigAndRebuildsPlannerPerTask(t *testing.T) {
	router := &fakeRouter{}
	embed := newReadyEmbedder(t, router)
	intentRouter := intent.New(context.Background(), embed, nil)

	registry := cognitive.NewAdapterRegistry()
	registry.Register("list_files", &noopAdapter{})
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)

	store, err := config.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	initial := &countingPlanner{plan: plan.Plan{{Type: "list_files", Action: "list", Params: map[string]any{}}}}
	rebuilt := &countingPlanner{plan: plan.Plan{{Type: "list_files", Action: "list", Params: map[string]any{}}}}

	var factoryCalls int
	var lastProvider string
	factory := func(cfg *config.Config) cognitive.Planner {
		factoryCalls++
		lastProvider = cfg.Agent.Provider
		return rebuilt
	}

	orc := New(config.OrchestratorConfig{}, intentRouter, initial, executor, nil, nil, nil, store, factory)

	if _, err := orc.Run(context.Background(), "ws", "do something", nil, cognitive.NoopEmitter); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if factoryCalls != 1 {
		t.Fatalf("expected exactly one planner rebuild per task, got %d", factoryCalls)
	}
	if lastProvider != config.DefaultAgentProvider {
		t.Fatalf("expected factory to see the reloaded snapshot's provider %q, got %q", config.DefaultAgentProvider, lastProvider)
	}
	if rebuilt.calls != 1 {
		t.Fatalf("expected the rebuilt planner to run the task, got %d calls", rebuilt.calls)
	}
	if initial.calls != 0 {
		t.Fatalf("expected the pre-reload planner not to run once a rebuild happened, got %d calls", initial.calls)
	}
}

func TestRunDegradedVectorMemoryStillCompletes(t *testing.T) {
	router := &fakeRouter{}
	embed := newReadyEmbedder(t, router)
	intentRouter := intent.New(context.Background(), embed, nil)

	registry := cognitive.NewAdapterRegistry()
	registry.Register("list_files", &noopAdapter{})
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)

	planner := &countingPlanner{plan: plan.Plan{{Type: "list_files", Action: "list", Params: map[string]any{}}}}
	orc := New(config.OrchestratorConfig{}, intentRouter, planner, executor, nil, nil, nil, nil, nil)

	result, err := orc.Run(context.Background(), "ws", "list my files", nil, cognitive.NoopEmitter)
	if err != nil {
		t.Fatalf("Run returned error with nil memory layers: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected the task to complete despite no vector/structured memory, got %+v", result)
	}
}
