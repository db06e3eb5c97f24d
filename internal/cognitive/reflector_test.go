package cognitive

import (
	"context"
	"testing"

	"github.com/harunnryd/heike/internal/plan"
)

func TestReflectorReturnsRetryableVerdict(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"is_retryable":true,"modified_step":{"type":"file_read","action":"read file","params":{"path":"/tmp/a.txt"}},"reason":"wrong path"}`,
	}}
	r := NewReflector(llm, ReflectorPromptConfig{}, 0)

	verdict, err := r.AnalyzeFailure(context.Background(), plan.Step{Type: "file_read", Action: "read file", Params: map[string]any{"path": "/tmp/x.txt"}}, "file not found", "")
	if err != nil {
		t.Fatalf("AnalyzeFailure: %v", err)
	}
	if !verdict.IsRetryable {
		t.Fatal("expected retryable verdict")
	}
	if verdict.ModifiedStep == nil || verdict.ModifiedStep.Params["path"] != "/tmp/a.txt" {
		t.Fatalf("unexpected modified step: %v", verdict.ModifiedStep)
	}
}

func TestReflectorDegradesToNonRetryableOnMalformedResponse(t *testing.T) {
	llm := &fakeLLM{responses: []string{"not a verdict"}}
	r := NewReflector(llm, ReflectorPromptConfig{}, 0)

	verdict, err := r.AnalyzeFailure(context.Background(), plan.Step{Type: "file_read", Action: "read"}, "boom", "")
	if err != nil {
		t.Fatalf("AnalyzeFailure should never return an error: %v", err)
	}
	if verdict.IsRetryable {
		t.Fatal("expected non-retryable fallback verdict")
	}
	if verdict.ModifiedStep != nil {
		t.Fatal("expected nil modified step on fallback")
	}
}

func TestReflectorRejectsRetryableWithNoModifiedStep(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"is_retryable":true,"modified_step":null,"reason":"missing step"}`,
	}}
	r := NewReflector(llm, ReflectorPromptConfig{}, 0)

	verdict, err := r.AnalyzeFailure(context.Background(), plan.Step{Type: "file_read", Action: "read"}, "boom", "")
	if err != nil {
		t.Fatalf("AnalyzeFailure should never return an error: %v", err)
	}
	if verdict.IsRetryable {
		t.Fatal("expected the invalid retryable verdict to degrade to non-retryable")
	}
}
