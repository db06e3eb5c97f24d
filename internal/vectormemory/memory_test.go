package vectormemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/heike/internal/embedding"
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
	return []float32{0, 1}, nil
}

func (f *fakeRouter) ListModels() []string { return nil }

func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func newReadyEmbedder(t *testing.T, vectors map[string][]float32) *embedding.Provider {
	t.Helper()
	p := embedding.New(&fakeRouter{vectors: vectors}, "")
	p.StartLoading(context.Background())
	if !p.WaitUntilReady(time.Second) {
		t.Fatal("embedder never became ready")
	}
	return p
}

func TestAddAndFindSimilarInstructions(t *testing.T) {
	embed := newReadyEmbedder(t, map[string][]float32{
		"move my screenshots to the desktop": {1, 0},
		"move screenshots":                   {1, 0},
	})
	mem := NewDegraded(embed)

	err := mem.AddInstructionPattern(context.Background(), "move my screenshots to the desktop",
		plan.CompactSteps([]plan.Step{{Type: "file_move", Action: "move"}}), true, 1.5, []string{"/tmp/a.png"})
	if err != nil {
		t.Fatalf("AddInstructionPattern: %v", err)
	}

	results, err := mem.FindSimilarInstructions(context.Background(), "move screenshots", 5, 0)
	if err != nil {
		t.Fatalf("FindSimilarInstructions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one match, got %v", results)
	}
	if !results[0].Success {
		t.Fatal("expected success=true on stored record")
	}
}

func TestFindSimilarInstructionsRespectsThreshold(t *testing.T) {
	embed := newReadyEmbedder(t, map[string][]float32{
		"completely unrelated topic": {0, 1},
		"move screenshots":           {1, 0},
	})
	mem := NewDegraded(embed)

	if err := mem.AddInstructionPattern(context.Background(), "completely unrelated topic", nil, true, 1, nil); err != nil {
		t.Fatalf("AddInstructionPattern: %v", err)
	}

	results, err := mem.FindSimilarInstructions(context.Background(), "move screenshots", 5, DefaultMinSimilarity)
	if err != nil {
		t.Fatalf("FindSimilarInstructions: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected orthogonal record to be filtered out, got %v", results)
	}
}

func TestAddConversationAndSearch(t *testing.T) {
	embed := newReadyEmbedder(t, map[string][]float32{
		"how do I reset my password": {1, 0},
	})
	mem := NewDegraded(embed)

	err := mem.AddConversation(context.Background(), "how do I reset my password", "go to settings", "sess-1", "neutral", true, nil)
	if err != nil {
		t.Fatalf("AddConversation: %v", err)
	}

	results, err := mem.SearchConversations(context.Background(), "how do I reset my password", 5, nil)
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if len(results) != 1 || results[0].Response != "go to settings" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestGetMemoryContextEmptyWhenEmbeddingNotReady(t *testing.T) {
	router := &fakeRouter{}
	embed := embedding.New(router, "")
	// Intentionally never start loading, so IsReady() stays false.
	mem := NewDegraded(embed)

	if ctx := mem.GetMemoryContext(context.Background(), "anything", 3); ctx != "" {
		t.Fatalf("expected empty context when embedder not ready, got %q", ctx)
	}
}

func TestDegradedMemoryReportsDegraded(t *testing.T) {
	embed := newReadyEmbedder(t, nil)
	mem := NewDegraded(embed)
	if !mem.IsDegraded() {
		t.Fatal("expected degraded memory to report IsDegraded true")
	}
}
