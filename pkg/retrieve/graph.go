package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

const (
	// DefaultGraphDepth is how many hops the neighborhood walk expands.
	DefaultGraphDepth = 2
	// DefaultMaxFrontier caps the per-hop frontier so dense hubs cannot blow
	// up the walk.
	DefaultMaxFrontier = 50

	// minEntityCandidates floors the entity lookup width.
	minEntityCandidates = 50
)

// Triplet score weights: endpoint relevance, extraction confidence, edge
// weight.
const (
	tripletWRelevance  = 0.5
	tripletWConfidence = 0.3
	tripletWQuality    = 0.2
)

// Graph retrieves (subject, predicate, object) triplets by finding entities
// similar to the query and walking their graph neighborhood.
type Graph struct {
	graph       domain.GraphStore
	vector      domain.VectorStore
	embedder    domain.Embedder
	threshold   float64
	depth       int
	maxFrontier int
}

func NewGraph(graph domain.GraphStore, vector domain.VectorStore, embedder domain.Embedder, threshold float64, depth, maxFrontier int) *Graph {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if depth <= 0 {
		depth = DefaultGraphDepth
	}
	if maxFrontier <= 0 {
		maxFrontier = DefaultMaxFrontier
	}
	return &Graph{
		graph: graph, vector: vector, embedder: embedder,
		threshold: threshold, depth: depth, maxFrontier: maxFrontier,
	}
}

func (g *Graph) Name() string { return "graph" }

func (g *Graph) Retrieve(ctx context.Context, q Query) ([]domain.RetrievedItem, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	vectors, err := g.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	seeds, err := g.findSeeds(ctx, q, vectors[0])
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	edges, err := g.walk(ctx, seeds)
	if err != nil {
		return nil, err
	}
	return g.buildTriplets(ctx, q, seeds, edges)
}

// findSeeds searches every entity name collection in scope and keeps hits
// above the similarity threshold, capped by query width.
func (g *Graph) findSeeds(ctx context.Context, q Query, queryVec []float32) (map[uuid.UUID]float64, error) {
	all, err := g.vector.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	width := q.topK() * 10
	if width < minEntityCandidates {
		width = minEntityCandidates
	}

	chunkSuffix := "_" + strings.ToLower(domain.NodeTypeChunk) + "_text"
	seeds := make(map[uuid.UUID]float64)
	for _, dataset := range q.Datasets {
		prefix := collectionPrefix(q.TenantID, dataset)
		for _, col := range all {
			if !strings.HasPrefix(col, prefix) || !strings.HasSuffix(col, "_name") {
				continue
			}
			if strings.HasSuffix(col, chunkSuffix) {
				continue
			}
			hits, err := g.vector.Search(ctx, col, queryVec, width)
			if err != nil {
				return nil, fmt.Errorf("search %s: %w", col, err)
			}
			for _, hit := range hits {
				if hit.Score < g.threshold {
					continue
				}
				if prev, ok := seeds[hit.ID]; !ok || hit.Score > prev {
					seeds[hit.ID] = hit.Score
				}
			}
		}
	}
	return seeds, nil
}

func collectionPrefix(tenantID, datasetID uuid.UUID) string {
	full := domain.CollectionName(tenantID, datasetID, "x", "y")
	return strings.TrimSuffix(full, "x_y")
}

// walk expands the seed set hop by hop, capping each frontier.
func (g *Graph) walk(ctx context.Context, seeds map[uuid.UUID]float64) ([]domain.GraphEdge, error) {
	frontier := make([]uuid.UUID, 0, len(seeds))
	for id := range seeds {
		frontier = append(frontier, id)
	}
	sort.Slice(frontier, func(i, j int) bool {
		if seeds[frontier[i]] != seeds[frontier[j]] {
			return seeds[frontier[i]] > seeds[frontier[j]]
		}
		return frontier[i].String() < frontier[j].String()
	})
	if len(frontier) > g.maxFrontier {
		frontier = frontier[:g.maxFrontier]
	}

	visited := make(map[uuid.UUID]struct{}, len(frontier))
	for _, id := range frontier {
		visited[id] = struct{}{}
	}
	seenEdges := make(map[domain.RelationKey]struct{})

	var edges []domain.GraphEdge
	for hop := 0; hop < g.depth && len(frontier) > 0; hop++ {
		var next []uuid.UUID
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, domain.ErrCancelled
			}
			incident, err := g.graph.QueryNeighbors(ctx, id, 1)
			if err != nil {
				return nil, fmt.Errorf("query neighbors of %s: %w", id, err)
			}
			for _, e := range incident {
				key := domain.RelationKey{Source: e.SourceID, Target: e.TargetID, Type: e.Type}
				if _, dup := seenEdges[key]; dup {
					continue
				}
				seenEdges[key] = struct{}{}
				edges = append(edges, e)
				for _, nid := range []uuid.UUID{e.SourceID, e.TargetID} {
					if _, ok := visited[nid]; !ok {
						visited[nid] = struct{}{}
						next = append(next, nid)
					}
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].String() < next[j].String() })
		if len(next) > g.maxFrontier {
			next = next[:g.maxFrontier]
		}
		frontier = next
	}
	return edges, nil
}

// buildTriplets renders entity-to-entity edges as scored triplets. Mentions
// edges and chunk endpoints are structural, not answers.
func (g *Graph) buildTriplets(ctx context.Context, q Query, seeds map[uuid.UUID]float64, edges []domain.GraphEdge) ([]domain.RetrievedItem, error) {
	idSet := make(map[uuid.UUID]struct{})
	for _, e := range edges {
		idSet[e.SourceID] = struct{}{}
		idSet[e.TargetID] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	nodes, err := g.graph.QueryNodesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	byID := make(map[uuid.UUID]domain.GraphNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var items []domain.RetrievedItem
	for _, e := range edges {
		if e.Type == domain.EdgeMentions {
			continue
		}
		src, okS := byID[e.SourceID]
		tgt, okT := byID[e.TargetID]
		if !okS || !okT || src.Type == domain.NodeTypeChunk || tgt.Type == domain.NodeTypeChunk {
			continue
		}

		relevance := seeds[e.SourceID]
		if s := seeds[e.TargetID]; s > relevance {
			relevance = s
		}
		confidence := floatProp(e.Props, "confidence")
		quality := floatProp(e.Props, "weight")
		score := tripletWRelevance*relevance + tripletWConfidence*confidence + tripletWQuality*quality

		triplet := &domain.Triplet{
			Subject:   entityFromNode(src),
			Predicate: relationFromEdge(e),
			Object:    entityFromNode(tgt),
		}
		items = append(items, domain.RetrievedItem{
			ID:      domain.DeterministicID("triplet", e.SourceID.String(), e.Type, e.TargetID.String()),
			Text:    fmt.Sprintf("%s %s %s", src.Name, humanize(e.Type), tgt.Name),
			Score:   score,
			Kind:    "triplet",
			Triplet: triplet,
		})
	}
	return sortItems(items, q.topK()), nil
}

func entityFromNode(n domain.GraphNode) domain.Entity {
	e := domain.Entity{ID: n.ID, Name: n.Name, Type: n.Type}
	if desc, ok := n.Props["description"].(string); ok {
		e.Description = desc
	}
	e.Confidence = floatProp(n.Props, "confidence")
	return e
}

func relationFromEdge(e domain.GraphEdge) domain.Relation {
	rel := domain.Relation{
		SourceID:   e.SourceID,
		TargetID:   e.TargetID,
		Type:       e.Type,
		Weight:     floatProp(e.Props, "weight"),
		Confidence: floatProp(e.Props, "confidence"),
	}
	if s, ok := e.Props["source_chunk"].(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			rel.SourceChunk = id
		}
	}
	return rel
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func humanize(relType string) string {
	return strings.ReplaceAll(relType, "_", " ")
}

var _ Retriever = (*Graph)(nil)
