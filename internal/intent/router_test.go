package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/model/contract"
)

// fakeRouter embeds known phrases to fixed unit vectors so cosine
// similarity behaves predictably in tests.
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

func (f *fakeRouter) ListModels() []string { return nil }

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

func TestDetectMatchesWithinThreshold(t *testing.T) {
	router := &fakeRouter{vectors: map[string][]float32{
		"take a screenshot":  {1, 0, 0},
		"screenshot desktop": {1, 0, 0},
	}}
	embed := newReadyEmbedder(t, router)

	catalog := []Intent{
		{Type: "screenshot_desktop", Examples: []string{"screenshot desktop"}, Metadata: map[string]any{"step_type": "screenshot_desktop"}},
	}
	router2 := New(context.Background(), embed, catalog)

	match, ok := router2.Detect(context.Background(), "take a screenshot", 0)
	if !ok {
		t.Fatal("expected a fast-path match")
	}
	if match.IntentType != "screenshot_desktop" {
		t.Fatalf("got intent %q", match.IntentType)
	}
	if !match.IsFastPath {
		t.Fatal("expected IsFastPath true")
	}
}

func TestDetectNoMatchBelowThreshold(t *testing.T) {
	router := &fakeRouter{vectors: map[string][]float32{
		"screenshot desktop": {1, 0, 0},
		"unrelated query":    {0, 1, 0},
	}}
	embed := newReadyEmbedder(t, router)

	catalog := []Intent{
		{Type: "screenshot_desktop", Examples: []string{"screenshot desktop"}},
	}
	router2 := New(context.Background(), embed, catalog)

	_, ok := router2.Detect(context.Background(), "unrelated query", 0)
	if ok {
		t.Fatal("expected no match for orthogonal query")
	}
}

func TestExtractAppName(t *testing.T) {
	verbs := []string{"open", "launch", "start"}

	name, ok := ExtractAppName("open Spotify", verbs)
	if !ok || name != "Spotify" {
		t.Fatalf("got (%q, %v)", name, ok)
	}

	_, ok = ExtractAppName("open", verbs)
	if ok {
		t.Fatal("expected no app name when nothing follows the verb")
	}

	_, ok = ExtractAppName("do something else", verbs)
	if ok {
		t.Fatal("expected no match when no trigger verb is present")
	}
}
