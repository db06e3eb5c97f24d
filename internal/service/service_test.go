package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/orchestrator"
	"github.com/harunnryd/heike/internal/plan"
)

// stubPlanner always returns a one-step plan for the registered noop
// adapter, so handleExecute has something to run end to end.
type stubPlanner struct{}

func (stubPlanner) Plan(ctx context.Context, instruction string, pctx *plan.Context) (plan.Plan, error) {
	return plan.Plan{{Type: "noop_step", Action: "noop", Params: map[string]any{}}}, nil
}

type stubAdapter struct{}

func (stubAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	return plan.StepResult{Success: true, Message: "done"}
}

type stubReflector struct{}

func (stubReflector) AnalyzeFailure(ctx context.Context, step plan.Step, errorMessage, contextSummary string) (*plan.ReflectionVerdict, error) {
	return &plan.ReflectionVerdict{IsRetryable: false}, nil
}

func newTestOrchestrator() *orchestrator.Orchestrator {
	registry := cognitive.NewAdapterRegistry()
	registry.Register("noop_step", stubAdapter{})
	executor := cognitive.NewPlanExecutor(registry, stubReflector{}, 1)
	return orchestrator.New(
		config.OrchestratorConfig{},
		/* router */ nil,
		stubPlanner{},
		executor,
		/* vecMem */ nil,
		/* structMem */ nil,
		/* broker */ nil,
		/* store */ nil,
		/* plannerFactory */ nil,
	)
}

func decodeEvents(t *testing.T, out *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("decode event line %q: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func eventByID(events []Event, id string) (Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

func TestCommandUnmarshalsCmdField(t *testing.T) {
	var cmd Command
	if err := json.Unmarshal([]byte(`{"cmd":"ping","id":"h1"}`), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Type != "ping" {
		t.Fatalf("expected Type %q, got %q", "ping", cmd.Type)
	}
	if cmd.ID != "h1" {
		t.Fatalf("expected ID %q, got %q", "h1", cmd.ID)
	}
}

func TestRunProtocolConformance(t *testing.T) {
	input := strings.Join([]string{
		`{"cmd":"ping","id":"h1"}`,
		`{"cmd":"execute","id":"t1","instruction":"run the noop step"}`,
		`not json`,
		`{"cmd":"shutdown","id":"s1"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	loop := NewLoop(newTestOrchestrator(), strings.NewReader(input), &out)

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := decodeEvents(t, &out)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}

	if events[0].Type != "ready" {
		t.Fatalf("expected first event to be ready, got %q", events[0].Type)
	}
	if _, ok := events[0].Data["startup_time"]; !ok {
		t.Fatalf("expected ready event to carry startup_time, got %+v", events[0].Data)
	}

	pong, ok := eventByID(events, "h1")
	if !ok {
		t.Fatal("expected a pong event for id h1")
	}
	if pong.Type != "pong" {
		t.Fatalf("expected event type pong, got %q", pong.Type)
	}
	if pong.Timestamp == 0 {
		t.Fatal("expected pong event to carry a nonzero timestamp")
	}

	result, ok := eventByID(events, "t1")
	var resultCount int
	for _, e := range events {
		if e.ID == "t1" && e.Type == "result" {
			resultCount++
			result = e
		}
	}
	if !ok || resultCount != 1 {
		t.Fatalf("expected exactly one result event for id t1, got %d", resultCount)
	}
	if success, _ := result.Data["success"].(bool); !success {
		t.Fatalf("expected successful task result, got %+v", result.Data)
	}

	var sawError bool
	for _, e := range events {
		if e.Type == "error" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected the malformed line to produce an error event")
	}

	ack, ok := eventByID(events, "s1")
	if !ok || ack.Type != "shutdown_ack" {
		t.Fatalf("expected a shutdown_ack event for id s1, got %+v", ack)
	}
}

func TestHandleExecuteRejectsEmptyInstruction(t *testing.T) {
	var out bytes.Buffer
	loop := NewLoop(newTestOrchestrator(), strings.NewReader(""), &out)
	loop.handleExecute(context.Background(), Command{ID: "e1", Instruction: ""})

	events := decodeEvents(t, &out)
	if len(events) != 1 || events[0].Type != "result" {
		t.Fatalf("expected a single result event, got %+v", events)
	}
	if success, _ := events[0].Data["success"].(bool); success {
		t.Fatal("expected success=false for an empty instruction")
	}
}
