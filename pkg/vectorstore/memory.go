package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

type memPoint struct {
	rec domain.VectorRecord
}

// Memory is an in-process VectorStore with cosine similarity and strict
// version gating: a stored record is only replaced by a higher version.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]memPoint // collection -> id/field -> point
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memPoint)}
}

func key(id uuid.UUID, field string) string {
	return id.String() + "/" + field
}

func (m *Memory) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	points, ok := m.collections[collection]
	if !ok {
		points = make(map[string]memPoint)
		m.collections[collection] = points
	}
	for _, rec := range records {
		k := key(rec.ID, rec.Field)
		if prev, exists := points[k]; exists && prev.rec.Version >= rec.Version && rec.Version != 0 {
			continue
		}
		points[k] = memPoint{rec: rec}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, topK int) ([]domain.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	points, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	hits := make([]domain.VectorHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, domain.VectorHit{
			ID:      p.rec.ID,
			Score:   cosine(vector, p.rec.Vector),
			Payload: p.rec.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	points, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for k, p := range points {
		if matches(p.rec.Payload, filter) {
			delete(points, k)
		}
	}
	return nil
}

func (m *Memory) Collections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func matches(payload, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok {
			return false
		}
		if asString(got) != asString(want) {
			return false
		}
	}
	return true
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case uuid.UUID:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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

var _ domain.VectorStore = (*Memory)(nil)
