package searchindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Point is one indexed ticket.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Backend is the vector store under an Index.
type Backend interface {
	EnsureCollection(ctx context.Context, name string, size int) error
	Upsert(ctx context.Context, collection string, points ...Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	Delete(ctx context.Context, collection string, ids ...string) error
	Health(ctx context.Context) error
	Close() error
}

// MemoryBackend is a brute-force cosine store used when no Qdrant URL is
// configured and in tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]map[string]Point)}
}

func (m *MemoryBackend) EnsureCollection(_ context.Context, name string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Point)
	}
	return nil
}

func (m *MemoryBackend) Upsert(ctx context.Context, collection string, points ...Point) error {
	if err := m.EnsureCollection(ctx, collection, 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.collections[collection][p.ID] = p
	}
	return nil
}

func (m *MemoryBackend) Search(_ context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(m.collections[collection]))
	for _, p := range m.collections[collection] {
		hits = append(hits, Hit{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryBackend) Delete(_ context.Context, collection string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.collections[collection], id)
	}
	return nil
}

func (m *MemoryBackend) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func (m *MemoryBackend) Health(context.Context) error { return nil }
func (m *MemoryBackend) Close() error                   { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
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
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
