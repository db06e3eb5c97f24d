package cognitive

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/heike/internal/model/contract"
	"github.com/harunnryd/heike/internal/plan"
)

type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func (f *fakeLLM) ChatComplete(ctx context.Context, messages []contract.Message, tools []contract.ToolDef) (string, []*contract.ToolCall, error) {
	return "", nil, errors.New("not implemented")
}

func TestPlannerParsesWellFormedPlan(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`[{"type":"screenshot_desktop","action":"take a screenshot","params":{}}]`,
	}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	steps, err := p.Plan(context.Background(), "take a screenshot", plan.NewContext("now"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 || steps[0].Type != "screenshot_desktop" {
		t.Fatalf("unexpected steps: %v", steps)
	}
	if llm.calls != 1 {
		t.Fatalf("expected a single LLM call, got %d", llm.calls)
	}
}

func TestPlannerRepairsOnceOnMalformedResponse(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"not json at all",
		`[{"type":"list_files","action":"list","params":{"directory":"~/Desktop"}}]`,
	}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	steps, err := p.Plan(context.Background(), "list my desktop", plan.NewContext("now"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("unexpected steps: %v", steps)
	}
	if llm.calls != 2 {
		t.Fatalf("expected a repair retry, got %d calls", llm.calls)
	}
}

func TestPlannerFailsAfterTwoBadResponses(t *testing.T) {
	llm := &fakeLLM{responses: []string{"garbage", "still garbage"}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	_, err := p.Plan(context.Background(), "do something", plan.NewContext("now"))
	if err == nil {
		t.Fatal("expected an error after both attempts fail to parse")
	}
}

func TestPlannerRejectsDisallowedStepType(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`[{"type":"file_manager","action":"move stuff","params":{}}]`,
		`[{"type":"file_manager","action":"move stuff","params":{}}]`,
	}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	_, err := p.Plan(context.Background(), "move my files", plan.NewContext("now"))
	if err == nil {
		t.Fatal("expected disallowed step type to fail planning")
	}
}

func TestGroundingHeuristicInsertsListFilesStep(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`[{"type":"file_delete","action":"delete that file","params":{"path":"x"}}]`,
	}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	steps, err := p.Plan(context.Background(), "delete that file on my desktop", plan.NewContext("now"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected grounding step injected, got %v", steps)
	}
	if steps[0].Type != "list_files" {
		t.Fatalf("expected list_files grounding step first, got %v", steps[0])
	}
}

func TestToolPreferenceInjectsSavePath(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`[{"type":"screenshot_desktop","action":"capture screen","params":{}}]`,
	}}
	p := NewPlanner(llm, PlannerPromptConfig{}, 0)

	steps, err := p.Plan(context.Background(), "take a screenshot and save to desktop", plan.NewContext("now"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if steps[0].Params["save_path"] != "~/Desktop/screenshot.png" {
		t.Fatalf("expected save_path injected, got %v", steps[0].Params)
	}
}
