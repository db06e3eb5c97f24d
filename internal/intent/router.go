// Package intent implements the Intent Router (§4.4): a static catalog
// of canonical example phrases per intent type, embedded once at
// construction and matched against incoming instructions by cosine
// similarity so common requests can skip the planner entirely.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/plan"
)

// DefaultThreshold is used when callers pass a non-positive threshold
// to Detect, matching spec.md §4.4's documented default.
const DefaultThreshold = 0.65

// Intent is one registered catalog entry: a set of canonical example
// phrases plus the metadata the orchestrator needs to synthesize a
// single-step plan on a fast-path hit, with no further LLM calls.
type Intent struct {
	Type     string
	Examples []string
	Metadata map[string]any
}

type examplesVectors struct {
	intentType string
	metadata   map[string]any
	examples   []string
	vectors    [][]float32
}

// Router holds the embedded catalog and performs cosine-similarity
// classification. Registration order is preserved for the tie-break
// rule in §4.4 ("first intent in registration order").
type Router struct {
	embed   *embedding.Provider
	entries []examplesVectors
}

// New constructs a Router and eagerly embeds every catalog example.
// Embedding is attempted even if the provider isn't ready yet; Detect
// degrades to "no match" whenever a query or catalog vector turns out
// empty.
func New(ctx context.Context, embed *embedding.Provider, catalog []Intent) *Router {
	r := &Router{embed: embed}
	for _, in := range catalog {
		entry := examplesVectors{
			intentType: in.Type,
			metadata:   in.Metadata,
			examples:   in.Examples,
			vectors:    make([][]float32, len(in.Examples)),
		}
		for i, ex := range in.Examples {
			entry.vectors[i] = embed.Encode(ctx, ex)
		}
		r.entries = append(r.entries, entry)
	}
	return r
}

// Detect computes the cosine similarity between text's embedding and
// every registered example, takes the per-intent maximum, then the
// global argmax; a match is returned iff the global max clears
// threshold (defaulting to DefaultThreshold when threshold <= 0).
// Ties resolve to the first intent in registration order. A query that
// fails to embed (degraded provider) always returns no match, letting
// the caller fall through to the planner.
func (r *Router) Detect(ctx context.Context, text string, threshold float64) (plan.IntentMatch, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	queryVec := r.embed.Encode(ctx, text)
	if len(queryVec) == 0 {
		slog.Debug("intent detection skipped: empty query embedding")
		return plan.IntentMatch{}, false
	}

	bestScore := -1.0
	bestIdx := -1
	for idx, entry := range r.entries {
		maxForIntent := 0.0
		for _, vec := range entry.vectors {
			if len(vec) == 0 {
				continue
			}
			score := embedding.CosineSimilarity(queryVec, vec)
			if score > maxForIntent {
				maxForIntent = score
			}
		}
		if maxForIntent > bestScore {
			bestScore = maxForIntent
			bestIdx = idx
		}
	}

	if bestIdx < 0 || bestScore < threshold {
		return plan.IntentMatch{}, false
	}

	entry := r.entries[bestIdx]
	return plan.IntentMatch{
		IntentType: entry.intentType,
		Confidence: bestScore,
		Metadata:   entry.metadata,
		IsFastPath: true,
	}, true
}

// ExtractAppName performs the rule-based application-name extraction
// for app_open/app_close fast paths (§4.4): it finds the first
// registered trigger verb in the instruction and returns everything
// after it, with surrounding spaces and quotes trimmed, as the app name.
// Other words such as articles are not removed. If nothing remains, ok
// is false and the caller must abandon the fast path and fall back to
// normal planning.
func ExtractAppName(instruction string, verbs []string) (name string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(instruction))
	for _, verb := range verbs {
		v := strings.ToLower(verb)
		if idx := strings.Index(lower, v); idx >= 0 {
			rest := instruction[idx+len(v):]
			rest = strings.TrimSpace(rest)
			rest = strings.Trim(rest, "\"'“”‘’")
			if rest != "" {
				return rest, true
			}
		}
	}
	return "", false
}
