package graphstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteNodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id := uuid.New()

	created, err := s.AddNodes(context.Background(), []domain.GraphNode{{
		ID:   id,
		Type: "Person",
		Name: "Ada Lovelace",
		Props: map[string]any{
			"dataset_id": uuid.New().String(),
			"confidence": 0.9,
			"aliases":    []any{"Ada"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	nodes, err := s.QueryNodesByIDs(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Person", nodes[0].Type)
	assert.Equal(t, "Ada Lovelace", nodes[0].Name)
	assert.Equal(t, 0.9, nodes[0].Props["confidence"])
}

func TestSQLiteAddNodesUpsert(t *testing.T) {
	s := openTestStore(t)
	n := domain.GraphNode{ID: uuid.New(), Type: "Person", Name: "Ada"}

	created, err := s.AddNodes(context.Background(), []domain.GraphNode{n})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	n.Name = "Ada Lovelace"
	created, err = s.AddNodes(context.Background(), []domain.GraphNode{n})
	require.NoError(t, err)
	assert.Zero(t, created)

	nodes, err := s.QueryNodesByIDs(context.Background(), []uuid.UUID{n.ID})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", nodes[0].Name)
}

func TestSQLiteAddEdgesIntegrity(t *testing.T) {
	s := openTestStore(t)
	a, b := uuid.New(), uuid.New()
	_, err := s.AddNodes(context.Background(), []domain.GraphNode{{ID: a, Type: "Person"}})
	require.NoError(t, err)

	_, err = s.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: a, TargetID: b, Type: "knows"},
	})
	require.ErrorIs(t, err, domain.ErrIntegrity)

	// Self-loops only need the one endpoint.
	created, err := s.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: a, TargetID: a, Type: "self"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestSQLiteAddEdgesIdempotent(t *testing.T) {
	s := openTestStore(t)
	a, b := uuid.New(), uuid.New()
	_, err := s.AddNodes(context.Background(), []domain.GraphNode{
		{ID: a, Type: "Person"}, {ID: b, Type: "Person"},
	})
	require.NoError(t, err)

	edge := domain.GraphEdge{SourceID: a, TargetID: b, Type: "knows",
		Props: map[string]any{"weight": 0.5}}
	created, err := s.AddEdges(context.Background(), []domain.GraphEdge{edge})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = s.AddEdges(context.Background(), []domain.GraphEdge{edge})
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSQLiteQueryNeighbors(t *testing.T) {
	s := openTestStore(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	nodes := make([]domain.GraphNode, len(ids))
	for i, id := range ids {
		nodes[i] = domain.GraphNode{ID: id, Type: "Person"}
	}
	_, err := s.AddNodes(context.Background(), nodes)
	require.NoError(t, err)
	_, err = s.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: ids[0], TargetID: ids[1], Type: "r"},
		{SourceID: ids[1], TargetID: ids[2], Type: "r"},
	})
	require.NoError(t, err)

	one, err := s.QueryNeighbors(context.Background(), ids[0], 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	two, err := s.QueryNeighbors(context.Background(), ids[0], 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSQLiteDeleteSubgraph(t *testing.T) {
	s := openTestStore(t)
	dsID, otherDS := uuid.New(), uuid.New()
	doomed := domain.GraphNode{ID: uuid.New(), Type: "Person",
		Props: map[string]any{"dataset_id": dsID.String()}}
	kept := domain.GraphNode{ID: uuid.New(), Type: "Person",
		Props: map[string]any{"dataset_id": otherDS.String()}}
	_, err := s.AddNodes(context.Background(), []domain.GraphNode{doomed, kept})
	require.NoError(t, err)
	_, err = s.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: kept.ID, TargetID: doomed.ID, Type: "r"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSubgraph(context.Background(), dsID))

	left, err := s.QueryNodesByIDs(context.Background(), []uuid.UUID{doomed.ID, kept.ID})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, kept.ID, left[0].ID)

	edges, err := s.QueryNeighbors(context.Background(), kept.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, edges)
}
