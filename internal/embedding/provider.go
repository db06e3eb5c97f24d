// Package embedding implements the process-wide Embedding Provider (§4.3):
// a lazy singleton that loads a text-embedding model on a background
// worker and degrades to empty vectors instead of blocking the hot path
// whenever it isn't ready yet.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/model"
)

// Provider wraps a model.ModelRouter's embedding route behind the
// start/ready/encode lifecycle §4.3 and §5 require. Encode never
// returns an error: callers that hit "not ready" or a provider failure
// get an empty vector and must degrade gracefully.
type Provider struct {
	router model.ModelRouter
	model  string

	mu      sync.RWMutex
	ready   bool
	failed  bool
	loadErr error
	readyCh chan struct{}
	once    sync.Once
}

// New builds a Provider bound to router, using modelName (falling back
// to config.DefaultModelEmbedding when blank).
func New(router model.ModelRouter, modelName string) *Provider {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = config.DefaultModelEmbedding
	}
	return &Provider{
		router:  router,
		model:   modelName,
		readyCh: make(chan struct{}),
	}
}

// StartLoading spawns the background worker that marks the provider
// ready. Safe to call more than once; only the first call does work.
func (p *Provider) StartLoading(ctx context.Context) {
	p.once.Do(func() {
		go p.load(ctx)
	})
}

func (p *Provider) load(ctx context.Context) {
	// A health probe against the embedding model stands in for "model
	// weights finished loading" in the router-backed implementation.
	_, err := p.router.RouteEmbedding(ctx, p.model, "ready-check")

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed = true
		p.loadErr = err
		slog.Warn("embedding provider failed to initialize", "model", p.model, "error", err)
	} else {
		p.ready = true
		slog.Info("embedding provider ready", "model", p.model)
	}
	close(p.readyCh)
}

// WaitUntilReady blocks up to timeout for the background load to
// finish, returning whether the provider is usable. A bounded wait per
// §5's "≤60s" suspension-point guarantee.
func (p *Provider) WaitUntilReady(timeout time.Duration) bool {
	p.mu.RLock()
	ch := p.readyCh
	p.mu.RUnlock()

	if timeout <= 0 {
		timeout, _ = config.DurationOrDefault("", config.DefaultOrchestratorEmbeddingReadyTimeout)
	}

	select {
	case <-ch:
	case <-time.After(timeout):
		slog.Warn("embedding provider not ready within timeout", "timeout", timeout)
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// IsReady reports the current readiness without blocking.
func (p *Provider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// Encode returns text's embedding, or an empty vector if the model
// isn't ready or the call failed. It never returns an error: per §4.3
// "the provider never throws on encode; errors are logged and surfaced
// as empty results."
func (p *Provider) Encode(ctx context.Context, text string) []float32 {
	p.mu.RLock()
	ready := p.ready
	p.mu.RUnlock()

	if !ready {
		slog.Debug("embedding encode skipped: provider not ready")
		return nil
	}

	vec, err := p.router.RouteEmbedding(ctx, p.model, text)
	if err != nil {
		slog.Warn("embedding encode failed, degrading to empty vector", "error", err)
		return nil
	}
	return vec
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when either vector is empty or zero-length, which callers
// use to detect a degraded encode() result.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
