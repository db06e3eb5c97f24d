package vectormemory

import (
	"sort"
	"sync"

	"github.com/harunnryd/heike/internal/embedding"
	"github.com/harunnryd/heike/internal/store"
)

// inMemoryBackend is the degraded-mode VectorStore used when the real
// chromem-backed store.Worker fails to open even after a
// backup-and-rebuild attempt (§4.10 failure-recovery contract). It
// keeps the engine usable without vector memory's durability.
type inMemoryBackend struct {
	mu          sync.RWMutex
	collections map[string][]inMemoryDoc
}

type inMemoryDoc struct {
	id       string
	vector   []float32
	metadata map[string]string
	content  string
}

func newInMemoryBackend() *inMemoryBackend {
	return &inMemoryBackend{collections: make(map[string][]inMemoryDoc)}
}

func (b *inMemoryBackend) UpsertVector(collection, id string, vector []float32, metadata map[string]string, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	docs := b.collections[collection]
	for i, d := range docs {
		if d.id == id {
			docs[i] = inMemoryDoc{id: id, vector: vector, metadata: metadata, content: content}
			b.collections[collection] = docs
			return nil
		}
	}
	b.collections[collection] = append(docs, inMemoryDoc{id: id, vector: vector, metadata: metadata, content: content})
	return nil
}

func (b *inMemoryBackend) SearchVectors(collection string, vector []float32, limit int) ([]store.VectorResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	docs := b.collections[collection]
	scored := make([]store.VectorResult, 0, len(docs))
	for _, d := range docs {
		scored = append(scored, store.VectorResult{
			ID:       d.id,
			Score:    float32(embedding.CosineSimilarity(vector, d.vector)),
			Metadata: d.metadata,
			Content:  d.content,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

var _ VectorStore = (*inMemoryBackend)(nil)
