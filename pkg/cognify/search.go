package cognify

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
	"github.com/liliang-cn/cognify/pkg/retrieve"
)

// Search runs one query against the requested datasets. The search type
// picks the retrieval strategy and whether an answer is generated:
//
//	CHUNKS            vector retrieval only, raw chunks
//	RAG               vector retrieval + grounded answer
//	NATURAL_LANGUAGE  alias of RAG
//	GRAPH_COMPLETION  graph triplets + grounded answer
//	HYBRID            fused vector/graph/lexical + grounded answer
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	if len(req.Datasets) == 0 {
		return nil, fmt.Errorf("%w: no datasets selected", domain.ErrValidation)
	}
	for _, ds := range req.Datasets {
		if _, err := s.rel.GetDataset(ctx, req.TenantID, ds); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	q := retrieve.Query{
		Text:     req.Query,
		TenantID: req.TenantID,
		Datasets: req.Datasets,
		TopK:     req.TopK,
	}

	resp := &domain.SearchResponse{}
	var err error
	switch req.Type {
	case domain.SearchChunks:
		resp.Context, err = s.vectorRet.Retrieve(ctx, q)
	case domain.SearchRAG, domain.SearchNaturalLanguage, "":
		resp.Context, err = s.vectorRet.Retrieve(ctx, q)
	case domain.SearchGraphCompletion:
		resp.Context, err = s.graphRet.Retrieve(ctx, q)
		if err == nil {
			resp.Graph = graphFromItems(resp.Context)
		}
	case domain.SearchHybrid:
		var fused *retrieve.Fused
		fused, err = s.hybrid.Retrieve(ctx, q)
		if err == nil {
			resp.Context = fused.Items
			resp.Degraded = fused.Degraded
		}
	default:
		return nil, fmt.Errorf("%w: unknown search type %q", domain.ErrValidation, req.Type)
	}
	if err != nil {
		return nil, err
	}

	if req.Type != domain.SearchChunks {
		answerText, citations, err := s.answerer.Answer(ctx, req.Query, resp.Context)
		if err != nil {
			return nil, err
		}
		resp.Result = answerText
		resp.Citations = citations
	}

	resp.Elapsed = time.Since(started).String()
	if err := s.rel.SaveQuery(ctx, req.SessionID, req.TenantID, req.Query, resp.Result); err != nil {
		log.Warnf("failed to save query history: %v", err)
	}
	return resp, nil
}

// graphFromItems rebuilds the retrieved subgraph from triplet items so
// callers can render it.
func graphFromItems(items []domain.RetrievedItem) *domain.KnowledgeGraph {
	g := &domain.KnowledgeGraph{}
	seen := make(map[string]struct{})
	nodes := make(map[string]struct{})
	for _, item := range items {
		if item.Triplet == nil {
			continue
		}
		t := item.Triplet
		key := t.Predicate.SourceID.String() + t.Predicate.Type + t.Predicate.TargetID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.Edges = append(g.Edges, t.Predicate)
		for _, e := range []domain.Entity{t.Subject, t.Object} {
			if _, dup := nodes[e.ID.String()]; dup {
				continue
			}
			nodes[e.ID.String()] = struct{}{}
			g.Nodes = append(g.Nodes, e)
		}
	}
	if len(g.Edges) == 0 {
		return nil
	}
	return g
}
