package vision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrUnknownFace is returned when a similarity query names a face id whose
// embedding was never stored.
var ErrUnknownFace = errors.New("vision: unknown face id")

// EmbeddingIndex stores face embeddings by face id and answers similarity
// queries restricted to a candidate set.
type EmbeddingIndex interface {
	PutEmbedding(ctx context.Context, faceID string, embedding []float32) error
	SimilarFaces(ctx context.Context, faceID string, candidates []string, minScore float64, limit int) ([]string, error)
}

// MemoryIndex is an in-process EmbeddingIndex holding at most capacity
// embeddings; the oldest are evicted first.
type MemoryIndex struct {
	mu       sync.RWMutex
	capacity int
	vectors  map[string][]float32
	order    []string
}

func NewMemoryIndex(capacity int) *MemoryIndex {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &MemoryIndex{
		capacity: capacity,
		vectors:  make(map[string][]float32),
	}
}

func (m *MemoryIndex) PutEmbedding(_ context.Context, faceID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("put embedding %s: empty vector", faceID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vectors[faceID]; !ok {
		m.order = append(m.order, faceID)
	}
	m.vectors[faceID] = append([]float32(nil), embedding...)

	for len(m.order) > m.capacity {
		delete(m.vectors, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryIndex) SimilarFaces(_ context.Context, faceID string, candidates []string, minScore float64, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query, ok := m.vectors[faceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFace, faceID)
	}

	type scored struct {
		id    string
		score float64
	}
	var hits []scored
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c == faceID || seen[c] {
			continue
		}
		seen[c] = true
		v, ok := m.vectors[c]
		if !ok {
			continue
		}
		if s := cosine(query, v); s >= minScore {
			hits = append(hits, scored{c, s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

// Len returns the number of stored embeddings.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func cosine(a, b []float32) float64 {
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
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
