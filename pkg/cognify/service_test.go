package cognify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/config"
	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/graphstore"
	"github.com/liliang-cn/cognify/pkg/relstore"
	"github.com/liliang-cn/cognify/pkg/vectorstore"
)

const docText = "Ada Lovelace wrote the first published program for the Analytical Engine."

// graphJSON is what the stub model extracts from every chunk.
const graphJSON = `{
  "nodes": [
    {"name": "Ada Lovelace", "type": "Person", "description": "First programmer", "confidence": 0.9},
    {"name": "Analytical Engine", "type": "Technology", "description": "Mechanical computer", "confidence": 0.85}
  ],
  "edges": [
    {"source": "Ada Lovelace", "target": "Analytical Engine", "type": "worked_on", "confidence": 0.8}
  ]
}`

const cannedAnswer = "Ada Lovelace wrote the first program [1]."

type stubLLM struct {
	mu          sync.Mutex
	completions int
}

func (s *stubLLM) StructuredComplete(_ context.Context, _ domain.StructuredRequest) (json.RawMessage, error) {
	return json.RawMessage(graphJSON), nil
}

func (s *stubLLM) Complete(_ context.Context, _ domain.CompletionRequest) (string, error) {
	s.mu.Lock()
	s.completions++
	s.mu.Unlock()
	return cannedAnswer, nil
}

func (s *stubLLM) Stream(_ context.Context, _ domain.CompletionRequest, fn func(string) error) error {
	return fn(cannedAnswer)
}

// flatEmbedder maps every text onto the same unit vector, so any query is
// maximally similar to any stored record.
type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (flatEmbedder) Dimensions() int { return 3 }

type testHarness struct {
	svc *Service
	rel *relstore.Store
	llm *stubLLM
}

func newTestService(t *testing.T) *testHarness {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()

	rel, err := relstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rel.Close() })

	model := &stubLLM{}
	svc, err := New(cfg, Deps{
		Relational: rel,
		Graph:      graphstore.NewMemory(),
		Vector:     vectorstore.NewMemory(),
		LLM:        model,
		Embedder:   flatEmbedder{},
	})
	require.NoError(t, err)
	return &testHarness{svc: svc, rel: rel, llm: model}
}

// cognified stands up a service with one dataset fully processed.
func cognified(t *testing.T) (*testHarness, uuid.UUID, domain.Dataset) {
	t.Helper()
	h := newTestService(t)
	tenant := uuid.New()

	ds, err := h.svc.CreateDataset(context.Background(), tenant, uuid.New(), "research")
	require.NoError(t, err)
	_, err = h.svc.Add(context.Background(), tenant, ds.ID, strings.NewReader(docText), "notes.txt")
	require.NoError(t, err)

	runID, err := h.svc.Cognify(context.Background(), tenant, ds.ID, uuid.New(), DefaultCognifyOptions())
	require.NoError(t, err)

	run, err := h.svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, run.Status)
	return h, tenant, ds
}

func TestCognifyEndToEnd(t *testing.T) {
	h := newTestService(t)
	tenant := uuid.New()

	ds, err := h.svc.CreateDataset(context.Background(), tenant, uuid.New(), "research")
	require.NoError(t, err)

	d, err := h.svc.Add(context.Background(), tenant, ds.ID, strings.NewReader(docText), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, d.PipelineStatus)

	runID, err := h.svc.Cognify(context.Background(), tenant, ds.ID, uuid.New(), DefaultCognifyOptions())
	require.NoError(t, err)

	run, err := h.svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	names := make([]string, len(run.Stages))
	for i, st := range run.Stages {
		names[i] = st.Name
	}
	assert.Equal(t, []string{"load_chunk", "extract", "resolve", "write"}, names)

	list, err := h.rel.ListData(context.Background(), tenant, ds.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusCompleted, list[0].PipelineStatus)
}

func TestAddDedupsIdenticalContent(t *testing.T) {
	h := newTestService(t)
	tenant := uuid.New()
	ds, err := h.svc.CreateDataset(context.Background(), tenant, uuid.New(), "research")
	require.NoError(t, err)

	first, err := h.svc.Add(context.Background(), tenant, ds.ID, strings.NewReader(docText), "notes.txt")
	require.NoError(t, err)
	second, err := h.svc.Add(context.Background(), tenant, ds.ID, strings.NewReader(docText), "copy.txt")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := h.rel.ListData(context.Background(), tenant, ds.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAddRejectsEmptyDocument(t *testing.T) {
	h := newTestService(t)
	tenant := uuid.New()
	ds, err := h.svc.CreateDataset(context.Background(), tenant, uuid.New(), "research")
	require.NoError(t, err)

	_, err = h.svc.Add(context.Background(), tenant, ds.ID, strings.NewReader(""), "empty.txt")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSearchChunks(t *testing.T) {
	h, tenant, ds := cognified(t)

	resp, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Query:    "Who was Ada Lovelace?",
		Type:     domain.SearchChunks,
		TenantID: tenant,
		Datasets: []uuid.UUID{ds.ID},
		TopK:     5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Context)
	assert.Contains(t, resp.Context[0].Text, "Ada Lovelace")
	require.NotNil(t, resp.Context[0].Provenance)
	assert.Equal(t, "notes.txt", resp.Context[0].Provenance.SourceName)

	// Chunk search never calls the model.
	assert.Empty(t, resp.Result)
	assert.Zero(t, h.llm.completions)
}

func TestSearchHybridAnswers(t *testing.T) {
	h, tenant, ds := cognified(t)

	resp, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Query:    "Who was Ada Lovelace?",
		Type:     domain.SearchHybrid,
		TenantID: tenant,
		Datasets: []uuid.UUID{ds.ID},
		TopK:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, cannedAnswer, resp.Result)
	assert.False(t, resp.Degraded)
	assert.NotEmpty(t, resp.Context)
	assert.NotEmpty(t, resp.Citations)
}

func TestSearchGraphCompletion(t *testing.T) {
	h, tenant, ds := cognified(t)

	resp, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Query:    "What did Ada Lovelace work on?",
		Type:     domain.SearchGraphCompletion,
		TenantID: tenant,
		Datasets: []uuid.UUID{ds.ID},
		TopK:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, cannedAnswer, resp.Result)
	require.NotNil(t, resp.Graph)
	require.Len(t, resp.Graph.Edges, 1)
	assert.Equal(t, "worked_on", resp.Graph.Edges[0].Type)
	assert.Len(t, resp.Graph.Nodes, 2)
}

func TestSearchValidation(t *testing.T) {
	h, tenant, ds := cognified(t)

	_, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Type: domain.SearchChunks, TenantID: tenant, Datasets: []uuid.UUID{ds.ID},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.Search(context.Background(), domain.SearchRequest{
		Query: "x", Type: domain.SearchChunks, TenantID: tenant,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.Search(context.Background(), domain.SearchRequest{
		Query: "x", Type: domain.SearchChunks, TenantID: tenant,
		Datasets: []uuid.UUID{uuid.New()},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Search(context.Background(), domain.SearchRequest{
		Query: "x", Type: "TELEPATHY", TenantID: tenant, Datasets: []uuid.UUID{ds.ID},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecognifyIsIdempotent(t *testing.T) {
	h, tenant, ds := cognified(t)

	runID, err := h.svc.Cognify(context.Background(), tenant, ds.ID, uuid.New(), DefaultCognifyOptions())
	require.NoError(t, err)
	run, err := h.svc.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)

	runs, err := h.svc.ListRuns(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	// The graph is unchanged: still exactly one triplet.
	resp, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Query:    "What did Ada Lovelace work on?",
		Type:     domain.SearchGraphCompletion,
		TenantID: tenant,
		Datasets: []uuid.UUID{ds.ID},
		TopK:     5,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Graph)
	assert.Len(t, resp.Graph.Edges, 1)
}

func TestDeleteDatasetRemovesEverything(t *testing.T) {
	h, tenant, ds := cognified(t)

	require.NoError(t, h.svc.DeleteDataset(context.Background(), tenant, ds.ID))

	_, err := h.svc.Search(context.Background(), domain.SearchRequest{
		Query: "x", Type: domain.SearchChunks, TenantID: tenant,
		Datasets: []uuid.UUID{ds.ID},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = h.svc.DeleteDataset(context.Background(), tenant, ds.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelRunUnknown(t *testing.T) {
	h := newTestService(t)
	err := h.svc.CancelRun(uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
