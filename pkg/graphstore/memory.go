package graphstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

type edgeKey struct {
	source, target uuid.UUID
	typ            string
}

// Memory is an in-process GraphStore with the same semantics as the SQLite
// store. Used by tests and the default quickstart configuration.
type Memory struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]domain.GraphNode
	edges map[edgeKey]domain.GraphEdge
}

func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[uuid.UUID]domain.GraphNode),
		edges: make(map[edgeKey]domain.GraphEdge),
	}
}

func (m *Memory) AddNodes(ctx context.Context, nodes []domain.GraphNode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	created := 0
	for _, n := range nodes {
		if _, ok := m.nodes[n.ID]; !ok {
			created++
		}
		m.nodes[n.ID] = n
	}
	return created, nil
}

func (m *Memory) AddEdges(ctx context.Context, edges []domain.GraphEdge) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range edges {
		if _, ok := m.nodes[e.SourceID]; !ok {
			return 0, fmt.Errorf("%w: edge source %s is not a node", domain.ErrIntegrity, e.SourceID)
		}
		if _, ok := m.nodes[e.TargetID]; !ok {
			return 0, fmt.Errorf("%w: edge target %s is not a node", domain.ErrIntegrity, e.TargetID)
		}
	}

	created := 0
	for _, e := range edges {
		key := edgeKey{source: e.SourceID, target: e.TargetID, typ: e.Type}
		if _, ok := m.edges[key]; !ok {
			created++
		}
		m.edges[key] = e
	}
	return created, nil
}

func (m *Memory) QueryNodesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.GraphNode
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) QueryNeighbors(ctx context.Context, id uuid.UUID, depth int) ([]domain.GraphEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	if depth <= 0 {
		depth = 1
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := map[uuid.UUID]struct{}{id: {}}
	seen := map[edgeKey]struct{}{}
	frontier := []uuid.UUID{id}

	var out []domain.GraphEdge
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		inFrontier := make(map[uuid.UUID]struct{}, len(frontier))
		for _, f := range frontier {
			inFrontier[f] = struct{}{}
		}

		var next []uuid.UUID
		for key, e := range m.edges {
			_, srcIn := inFrontier[e.SourceID]
			_, tgtIn := inFrontier[e.TargetID]
			if !srcIn && !tgtIn {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e)
			for _, nid := range []uuid.UUID{e.SourceID, e.TargetID} {
				if _, ok := visited[nid]; !ok {
					visited[nid] = struct{}{}
					next = append(next, nid)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (m *Memory) DeleteSubgraph(ctx context.Context, datasetID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrCancelled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doomed := make(map[uuid.UUID]struct{})
	for id, n := range m.nodes {
		if datasetOf(n.Props) == datasetID.String() {
			doomed[id] = struct{}{}
			delete(m.nodes, id)
		}
	}
	for key, e := range m.edges {
		_, srcDoomed := doomed[e.SourceID]
		_, tgtDoomed := doomed[e.TargetID]
		if srcDoomed || tgtDoomed || datasetOf(e.Props) == datasetID.String() {
			delete(m.edges, key)
		}
	}
	return nil
}

var _ domain.GraphStore = (*Memory)(nil)
