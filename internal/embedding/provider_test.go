package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/heike/internal/model/contract"
)

type fakeRouter struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (f *fakeRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	return f.embedFn(ctx, model, text)
}

func (f *fakeRouter) ListModels() []string { return nil }

func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func TestProviderBecomesReadyAfterLoad(t *testing.T) {
	router := &fakeRouter{embedFn: func(ctx context.Context, model, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}}
	p := New(router, "")
	p.StartLoading(context.Background())

	if !p.WaitUntilReady(time.Second) {
		t.Fatal("expected provider to become ready")
	}
	if !p.IsReady() {
		t.Fatal("expected IsReady true")
	}

	vec := p.Encode(context.Background(), "hello")
	if len(vec) != 3 {
		t.Fatalf("expected encoded vector, got %v", vec)
	}
}

func TestProviderDegradesOnLoadFailure(t *testing.T) {
	router := &fakeRouter{embedFn: func(ctx context.Context, model, text string) ([]float32, error) {
		return nil, errors.New("boom")
	}}
	p := New(router, "")
	p.StartLoading(context.Background())

	if p.WaitUntilReady(time.Second) {
		t.Fatal("expected provider to never become ready")
	}
	if p.IsReady() {
		t.Fatal("expected IsReady false")
	}
	if vec := p.Encode(context.Background(), "hello"); vec != nil {
		t.Fatalf("expected nil vector from unready provider, got %v", vec)
	}
}

func TestWaitUntilReadyTimesOutWhenNeverLoaded(t *testing.T) {
	router := &fakeRouter{embedFn: func(ctx context.Context, model, text string) ([]float32, error) {
		return []float32{1}, nil
	}}
	p := New(router, "")
	// Never call StartLoading.
	if p.WaitUntilReady(50 * time.Millisecond) {
		t.Fatal("expected timeout since loading was never started")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"empty", nil, []float32{1}, 0},
		{"mismatched length", []float32{1, 0}, []float32{1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if got != tc.want {
				t.Fatalf("got %f, want %f", got, tc.want)
			}
		})
	}
}
