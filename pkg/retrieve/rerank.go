package retrieve

import (
	"context"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// Reranker reorders fused results by relevance to the query. Implementations
// typically wrap a cross-encoder or an LLM scoring pass. A failing reranker
// never fails the search; the fused order stands.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []domain.RetrievedItem) ([]domain.RetrievedItem, error)
}
