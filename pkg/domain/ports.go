package domain

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
)

// RelationalStore persists datasets, data rows and pipeline run state.
type RelationalStore interface {
	CreateDataset(ctx context.Context, ds Dataset) error
	GetDataset(ctx context.Context, tenantID, id uuid.UUID) (Dataset, error)
	DeleteDataset(ctx context.Context, tenantID, id uuid.UUID) error

	PersistData(ctx context.Context, d Data) error
	// DedupData returns the id of an existing data row with the same
	// (tenant, content hash), or uuid.Nil when none exists.
	DedupData(ctx context.Context, tenantID uuid.UUID, contentHash string) (uuid.UUID, error)
	ListData(ctx context.Context, tenantID, datasetID uuid.UUID) ([]Data, error)
	UpdateDataStatus(ctx context.Context, id uuid.UUID, status PipelineStatus) error

	CreateRun(ctx context.Context, run *PipelineRun) error
	UpdateRun(ctx context.Context, run *PipelineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*PipelineRun, error)
	ListRuns(ctx context.Context, datasetID uuid.UUID) ([]*PipelineRun, error)

	SaveQuery(ctx context.Context, sessionID string, tenantID uuid.UUID, query, answer string) error
}

// GraphStore persists typed nodes and edges. Implementations must be safe
// for concurrent use and must upsert by id.
type GraphStore interface {
	// AddNodes upserts nodes and returns how many did not exist before.
	AddNodes(ctx context.Context, nodes []GraphNode) (int, error)
	// AddEdges upserts edges keyed by (source, target, type) and returns how
	// many did not exist before. Edges whose endpoints are missing are
	// rejected with ErrIntegrity.
	AddEdges(ctx context.Context, edges []GraphEdge) (int, error)
	QueryNodesByIDs(ctx context.Context, ids []uuid.UUID) ([]GraphNode, error)
	// QueryNeighbors returns all edges incident to id up to depth hops.
	QueryNeighbors(ctx context.Context, id uuid.UUID, depth int) ([]GraphEdge, error)
	DeleteSubgraph(ctx context.Context, datasetID uuid.UUID) error
}

// GraphNode is the storage projection of a DataPoint node.
type GraphNode struct {
	ID    uuid.UUID
	Type  string
	Name  string
	Props map[string]any
}

// GraphEdge is the storage projection of a DataPoint edge.
type GraphEdge struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
	Type     string
	Props    map[string]any
}

// VectorRecord is one embedded payload, keyed by the owning node's id plus
// the indexed field name.
type VectorRecord struct {
	ID      uuid.UUID
	Field   string
	Vector  []float32
	Payload map[string]any
	Version int64
}

// VectorHit is one similarity search result.
type VectorHit struct {
	ID      uuid.UUID
	Score   float64
	Payload map[string]any
}

// VectorStore persists embeddings per collection. Upserts are idempotent;
// a record is replaced only by a higher version.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, records []VectorRecord) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]VectorHit, error)
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	Collections(ctx context.Context) ([]string, error)
}

// StructuredRequest asks the LLM for a value conforming to a JSON schema.
type StructuredRequest struct {
	Model       string
	Prompt      string
	SchemaName  string
	Schema      json.RawMessage
	Temperature float64
}

// CompletionRequest asks the LLM for free text.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// LLM is the language-model port. Errors are mapped to the domain taxonomy:
// RateLimitError, ErrTransient, ErrPermanent, ErrSchema.
type LLM interface {
	StructuredComplete(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Stream(ctx context.Context, req CompletionRequest, fn func(delta string) error) error
}

// Embedder is the embedding port. Returned vectors align with the input
// order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Block is a piece of loaded text with positional metadata in the assembled
// document text.
type Block struct {
	PageNumber int
	StartLine  int
	EndLine    int
	StartChar  int
	EndChar    int
}

// LoadResult is the loader output: the full document text plus the blocks it
// was assembled from.
type LoadResult struct {
	Text   string
	Blocks []Block
}

// Loader turns raw document bytes into plain text with positional metadata.
// Loaders are registered in priority order; the first Supports wins.
type Loader interface {
	Supports(ext, mime string) bool
	Load(ctx context.Context, r io.Reader, name string) (*LoadResult, error)
}
