// Package vectormemory implements the two embedding-backed collections
// §4.10 of the specification describes — instructions and
// conversations, plus an optional summaries collection for compressed
// older records — on top of the same store.Worker/chromem-go vector
// store the teacher wires for its chat memory.
package vectormemory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/store"
)

const (
	CollectionInstructions = "instructions"
	CollectionConversations = "conversations"
	CollectionSummaries     = "summaries"

	// DefaultMinSimilarity is find_similar_instructions' default
	// threshold (§4.10).
	DefaultMinSimilarity = 0.7
)

// VectorStore is the subset of store.Worker this package depends on,
// narrowed so tests can fake it without standing up a real chromem DB.
type VectorStore interface {
	UpsertVector(collection, id string, vector []float32, metadata map[string]string, content string) error
	SearchVectors(collection string, vector []float32, limit int) ([]store.VectorResult, error)
}

// Memory is the Vector Memory component (§4.10). When the backing
// store fails to open, construction falls back to an in-memory-only
// mode per the failure-recovery contract, and every method keeps
// working against that degraded backend.
type Memory struct {
	backend  VectorStore
	embedder *embedding.Provider
	degraded bool
}

// New wires a Memory on top of an already-opened store.Worker and the
// process embedding provider.
func New(backend VectorStore, embedder *embedding.Provider) *Memory {
	return &Memory{backend: backend, embedder: embedder}
}

// NewDegraded builds a Memory that never touches disk, for the case
// where opening the real vector store failed even after a
// backup-and-rebuild attempt (§4.10 failure-recovery contract).
func NewDegraded(embedder *embedding.Provider) *Memory {
	slog.Warn("vector memory degraded to in-memory-only mode")
	return &Memory{backend: newInMemoryBackend(), embedder: embedder, degraded: true}
}

func (m *Memory) IsDegraded() bool {
	return m.degraded
}

// AddInstructionPattern embeds instruction and stores a compact
// record of how it was executed.
func (m *Memory) AddInstructionPattern(ctx context.Context, instruction string, steps []plan.CompactStep, success bool, duration float64, files []string) error {
	vec := m.embedder.Encode(ctx, instruction)
	if vec == nil {
		slog.Debug("vector memory: skipping add_instruction_pattern, embedding not ready")
		return nil
	}

	id := ulid.Make().String()
	meta := map[string]string{
		"success":   boolString(success),
		"duration":  fmt.Sprintf("%f", duration),
		"files":     strings.Join(files, "|"),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return m.backend.UpsertVector(CollectionInstructions, id, vec, meta, instruction)
}

// InstructionSimilarity is one find_similar_instructions result.
type InstructionSimilarity struct {
	Instruction string
	Similarity  float64
	Success     bool
	Timestamp   string
}

// FindSimilarInstructions returns only records whose similarity meets
// minSimilarity (0 selects the package default, §4.10).
func (m *Memory) FindSimilarInstructions(ctx context.Context, query string, limit int, minSimilarity float64) ([]InstructionSimilarity, error) {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if limit <= 0 {
		limit = 5
	}

	vec := m.embedder.Encode(ctx, query)
	if vec == nil {
		return nil, nil
	}

	results, err := m.backend.SearchVectors(CollectionInstructions, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search instructions: %w", err)
	}

	out := make([]InstructionSimilarity, 0, len(results))
	for _, r := range results {
		// chromem-go's QueryEmbedding already returns a cosine
		// similarity score rather than a raw distance, so it is used
		// directly; the 1/(1+distance) transform applies only to
		// distance-metric backends.
		similarity := float64(r.Score)
		if similarity < minSimilarity {
			continue
		}
		out = append(out, InstructionSimilarity{
			Instruction: r.Content,
			Similarity:  similarity,
			Success:     r.Metadata["success"] == "true",
			Timestamp:   r.Metadata["timestamp"],
		})
	}
	return out, nil
}

// AddConversation embeds the user message and stores the turn.
func (m *Memory) AddConversation(ctx context.Context, userMessage, responsePreview, sessionID, emotion string, success bool, metadata map[string]string) error {
	vec := m.embedder.Encode(ctx, userMessage)
	if vec == nil {
		slog.Debug("vector memory: skipping add_conversation, embedding not ready")
		return nil
	}

	id := ulid.Make().String()
	meta := map[string]string{
		"response":   responsePreview,
		"session_id": sessionID,
		"emotion":    emotion,
		"success":    boolString(success),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metadata {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
	return m.backend.UpsertVector(CollectionConversations, id, vec, meta, userMessage)
}

// ConversationMatch is one search_conversations result.
type ConversationMatch struct {
	UserMessage string
	Response    string
	Success     bool
	Similarity  float64
}

func (m *Memory) SearchConversations(ctx context.Context, query string, limit int, filterSuccess *bool) ([]ConversationMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := m.embedder.Encode(ctx, query)
	if vec == nil {
		return nil, nil
	}

	results, err := m.backend.SearchVectors(CollectionConversations, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}

	out := make([]ConversationMatch, 0, len(results))
	for _, r := range results {
		success := r.Metadata["success"] == "true"
		if filterSuccess != nil && success != *filterSuccess {
			continue
		}
		out = append(out, ConversationMatch{
			UserMessage: r.Content,
			Response:    r.Metadata["response"],
			Success:     success,
			Similarity:  float64(r.Score),
		})
	}
	return out, nil
}

// GetMemoryContext assembles up to limit items from each collection
// into a prompt-friendly block. Returns an empty string when the
// embedding model is not ready (§4.10).
func (m *Memory) GetMemoryContext(ctx context.Context, query string, limit int) string {
	if limit <= 0 {
		limit = 3
	}
	if !m.embedder.IsReady() {
		return ""
	}

	var sb strings.Builder

	instructions, err := m.FindSimilarInstructions(ctx, query, limit, DefaultMinSimilarity)
	if err != nil {
		slog.Warn("vector memory: get_memory_context instructions lookup failed", "error", err)
	}
	if len(instructions) > 0 {
		sb.WriteString("Similar past instructions:\n")
		for _, in := range instructions {
			sb.WriteString(fmt.Sprintf("- %q (success=%t, similarity=%.2f)\n", in.Instruction, in.Success, in.Similarity))
		}
	}

	conversations, err := m.SearchConversations(ctx, query, limit, nil)
	if err != nil {
		slog.Warn("vector memory: get_memory_context conversations lookup failed", "error", err)
	}
	if len(conversations) > 0 {
		sb.WriteString("Related conversations:\n")
		for _, c := range conversations {
			sb.WriteString(fmt.Sprintf("- user: %q\n", c.UserMessage))
		}
	}

	return sb.String()
}

// CompressMemories summarizes instruction-pattern records older than
// window into the summaries collection. The proven chromem-go surface
// this module has access to (AddDocuments/QueryEmbedding) has no
// delete primitive, so originals are left in place and tagged
// "compressed" rather than deleted; see DESIGN.md.
func (m *Memory) CompressMemories(ctx context.Context, window time.Duration, summarize func(instructions []string) string) error {
	cutoff := time.Now().Add(-window)

	// There is no list-all primitive on VectorStore, so this relies on
	// a broad query to approximate "most of what's stored" — a best
	// effort consistent with the degraded backend's guarantees.
	probe := m.embedder.Encode(ctx, "instruction")
	if probe == nil {
		return nil
	}
	results, err := m.backend.SearchVectors(CollectionInstructions, probe, 100)
	if err != nil || len(results) == 0 {
		return nil
	}

	var stale []string
	for _, r := range results {
		ts, parseErr := time.Parse(time.RFC3339, r.Metadata["timestamp"])
		if parseErr != nil || ts.After(cutoff) {
			continue
		}
		stale = append(stale, r.Content)
	}
	if len(stale) == 0 {
		return nil
	}

	summary := summarize(stale)
	if summary == "" {
		summary = fmt.Sprintf("%d instructions older than %s", len(stale), window)
	}

	vec := m.embedder.Encode(ctx, summary)
	if vec == nil {
		return nil
	}
	return m.backend.UpsertVector(CollectionSummaries, ulid.Make().String(), vec, map[string]string{
		"count":     fmt.Sprintf("%d", len(stale)),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, summary)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
