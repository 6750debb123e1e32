// Package retrieve implements the three retrieval strategies (vector, graph,
// lexical) and their reciprocal-rank fusion into a hybrid ranking.
package retrieve

import (
	"context"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// DefaultTopK is the result count when the request does not specify one.
const DefaultTopK = 10

// Query scopes one retrieval to a tenant and a set of datasets.
type Query struct {
	Text     string
	TenantID uuid.UUID
	Datasets []uuid.UUID
	TopK     int
}

func (q Query) topK() int {
	if q.TopK <= 0 {
		return DefaultTopK
	}
	return q.TopK
}

// Retriever is one retrieval strategy. Results come back sorted by
// descending score with ties broken by id.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, q Query) ([]domain.RetrievedItem, error)
}

// sortItems orders by score descending, id ascending on ties, and caps at k.
func sortItems(items []domain.RetrievedItem, k int) []domain.RetrievedItem {
	sortStable(items)
	if len(items) > k {
		items = items[:k]
	}
	return items
}
