package retrieve

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/graphstore"
	"github.com/liliang-cn/cognify/pkg/vectorstore"
)

type graphFixture struct {
	tenant, dataset  uuid.UUID
	ada, engine, doc uuid.UUID
	graph            *graphstore.Memory
	vector           *vectorstore.Memory
	embedder         *axisEmbedder
}

// buildGraphFixture seeds Ada -> worked_on -> Analytical Engine plus the
// mentions edge to the source chunk, with Ada's name vector matching "query".
func buildGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	f := &graphFixture{
		tenant:  uuid.New(),
		dataset: uuid.New(),
		ada:     uuid.New(),
		engine:  uuid.New(),
		doc:     uuid.New(),
		graph:   graphstore.NewMemory(),
		vector:  vectorstore.NewMemory(),
		embedder: &axisEmbedder{axes: map[string][]float32{
			"query": {1, 0, 0},
		}},
	}

	ds := f.dataset.String()
	_, err := f.graph.AddNodes(context.Background(), []domain.GraphNode{
		{ID: f.ada, Type: "Person", Name: "Ada Lovelace",
			Props: map[string]any{"dataset_id": ds, "confidence": 0.9}},
		{ID: f.engine, Type: "Technology", Name: "Analytical Engine",
			Props: map[string]any{"dataset_id": ds, "confidence": 0.8}},
		{ID: f.doc, Type: domain.NodeTypeChunk, Name: "doc.txt",
			Props: map[string]any{"dataset_id": ds}},
	})
	require.NoError(t, err)

	_, err = f.graph.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: f.ada, TargetID: f.engine, Type: "worked_on",
			Props: map[string]any{"confidence": 0.85, "weight": 0.85}},
		{SourceID: f.doc, TargetID: f.ada, Type: domain.EdgeMentions},
	})
	require.NoError(t, err)

	nameCol := domain.CollectionName(f.tenant, f.dataset, "Person", "name")
	err = f.vector.Upsert(context.Background(), nameCol, []domain.VectorRecord{{
		ID:      f.ada,
		Field:   "name",
		Vector:  []float32{1, 0, 0},
		Payload: map[string]any{"id": f.ada.String()},
		Version: 1,
	}})
	require.NoError(t, err)

	// A chunk text collection that seed search must skip.
	chunkCol := domain.CollectionName(f.tenant, f.dataset, domain.NodeTypeChunk, "text")
	err = f.vector.Upsert(context.Background(), chunkCol, []domain.VectorRecord{{
		ID: f.doc, Field: "text", Vector: []float32{1, 0, 0},
		Payload: map[string]any{"id": f.doc.String()}, Version: 1,
	}})
	require.NoError(t, err)
	return f
}

func TestGraphRetrieveBuildsTriplets(t *testing.T) {
	f := buildGraphFixture(t)
	g := NewGraph(f.graph, f.vector, f.embedder, 0.7, 2, 50)

	items, err := g.Retrieve(context.Background(), Query{
		Text:     "query",
		TenantID: f.tenant,
		Datasets: []uuid.UUID{f.dataset},
		TopK:     10,
	})
	require.NoError(t, err)
	require.Len(t, items, 1, "mentions edges must not surface as triplets")

	got := items[0]
	assert.Equal(t, "triplet", got.Kind)
	assert.Equal(t, "Ada Lovelace worked on Analytical Engine", got.Text)
	require.NotNil(t, got.Triplet)
	assert.Equal(t, f.ada, got.Triplet.Subject.ID)
	assert.Equal(t, f.engine, got.Triplet.Object.ID)
	assert.Equal(t, "worked_on", got.Triplet.Predicate.Type)

	// relevance 1.0 (Ada is the seed), confidence 0.85, weight 0.85.
	want := 0.5*1.0 + 0.3*0.85 + 0.2*0.85
	assert.InDelta(t, want, got.Score, 1e-9)
}

func TestGraphRetrieveDeterministicTripletID(t *testing.T) {
	f := buildGraphFixture(t)
	g := NewGraph(f.graph, f.vector, f.embedder, 0.7, 2, 50)
	q := Query{Text: "query", TenantID: f.tenant, Datasets: []uuid.UUID{f.dataset}, TopK: 10}

	a, err := g.Retrieve(context.Background(), q)
	require.NoError(t, err)
	b, err := g.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestGraphRetrieveNoSeeds(t *testing.T) {
	f := buildGraphFixture(t)
	// Query embedding is orthogonal to every entity name vector.
	f.embedder.axes["cold query"] = []float32{0, 1, 0}
	g := NewGraph(f.graph, f.vector, f.embedder, 0.7, 2, 50)

	items, err := g.Retrieve(context.Background(), Query{
		Text:     "cold query",
		TenantID: f.tenant,
		Datasets: []uuid.UUID{f.dataset},
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGraphRetrieveScopedToDataset(t *testing.T) {
	f := buildGraphFixture(t)
	g := NewGraph(f.graph, f.vector, f.embedder, 0.7, 2, 50)

	items, err := g.Retrieve(context.Background(), Query{
		Text:     "query",
		TenantID: f.tenant,
		Datasets: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGraphRetrieveDepthExpandsNeighborhood(t *testing.T) {
	f := buildGraphFixture(t)

	// Second hop: engine -> influenced -> modern computer.
	modern := uuid.New()
	_, err := f.graph.AddNodes(context.Background(), []domain.GraphNode{
		{ID: modern, Type: "Concept", Name: "Modern Computing",
			Props: map[string]any{"dataset_id": f.dataset.String()}},
	})
	require.NoError(t, err)
	_, err = f.graph.AddEdges(context.Background(), []domain.GraphEdge{
		{SourceID: f.engine, TargetID: modern, Type: "influenced",
			Props: map[string]any{"confidence": 0.6, "weight": 0.6}},
	})
	require.NoError(t, err)

	shallow := NewGraph(f.graph, f.vector, f.embedder, 0.7, 1, 50)
	items, err := shallow.Retrieve(context.Background(), Query{
		Text: "query", TenantID: f.tenant, Datasets: []uuid.UUID{f.dataset}, TopK: 10,
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	deep := NewGraph(f.graph, f.vector, f.embedder, 0.7, 2, 50)
	items, err = deep.Retrieve(context.Background(), Query{
		Text: "query", TenantID: f.tenant, Datasets: []uuid.UUID{f.dataset}, TopK: 10,
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
