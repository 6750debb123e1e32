package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// DefaultSimilarityThreshold filters out weakly related chunks.
const DefaultSimilarityThreshold = 0.7

// Vector retrieves chunks by embedding similarity over the per-dataset chunk
// collections.
type Vector struct {
	store     domain.VectorStore
	embedder  domain.Embedder
	threshold float64
}

func NewVector(store domain.VectorStore, embedder domain.Embedder, threshold float64) *Vector {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Vector{store: store, embedder: embedder, threshold: threshold}
}

func (v *Vector) Name() string { return "vector" }

func (v *Vector) Retrieve(ctx context.Context, q Query) ([]domain.RetrievedItem, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	vectors, err := v.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var items []domain.RetrievedItem
	for _, dataset := range q.Datasets {
		collection := domain.CollectionName(q.TenantID, dataset, domain.NodeTypeChunk, "text")
		hits, err := v.store.Search(ctx, collection, vectors[0], q.topK())
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		for _, hit := range hits {
			if hit.Score < v.threshold {
				continue
			}
			items = append(items, chunkItem(hit))
		}
	}
	return sortItems(items, q.topK()), nil
}

// chunkItem rebuilds a retrieved chunk from a vector hit's payload.
func chunkItem(hit domain.VectorHit) domain.RetrievedItem {
	item := domain.RetrievedItem{
		ID:    hit.ID,
		Score: hit.Score,
		Kind:  "chunk",
	}
	if text, ok := hit.Payload["text"].(string); ok {
		item.Text = text
	}
	item.Provenance = provenanceFromPayload(hit.ID, hit.Payload)
	return item
}

func provenanceFromPayload(chunkID uuid.UUID, payload map[string]any) *domain.Provenance {
	p := &domain.Provenance{ChunkID: chunkID}
	if s, ok := payload["data_id"].(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			p.DataID = id
		}
	}
	if s, ok := payload["source_name"].(string); ok {
		p.SourceName = s
	}
	p.StartLine = intFrom(payload["start_line"])
	p.EndLine = intFrom(payload["end_line"])
	p.StartChar = intFrom(payload["start_char"])
	p.EndChar = intFrom(payload["end_char"])
	p.PageNumber = intFrom(payload["page_number"])
	return p
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func sortStable(items []domain.RetrievedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}
