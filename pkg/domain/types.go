// Package domain holds the core value types and port interfaces shared by
// every pipeline and retrieval component. Nothing in here talks to a backend;
// stores and providers implement the interfaces declared in ports.go.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PipelineStatus tracks per-document processing state.
type PipelineStatus string

const (
	StatusPending   PipelineStatus = "pending"
	StatusRunning   PipelineStatus = "running"
	StatusCompleted PipelineStatus = "completed"
	StatusFailed    PipelineStatus = "failed"
	StatusCancelled PipelineStatus = "cancelled"
)

// Dataset is the unit of ingestion and querying. (tenant_id, name) is unique.
type Dataset struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Data is one ingested document. Content is immutable after creation;
// (tenant_id, content_hash) is unique so re-ingesting the same bytes dedups.
type Data struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	DatasetIDs     []uuid.UUID    `json:"dataset_ids"`
	Name           string         `json:"name"`
	ContentHash    string         `json:"content_hash"`
	MIME           string         `json:"mime"`
	SourcePath     string         `json:"source_path"`
	TokenCount     int            `json:"token_count"`
	PipelineStatus PipelineStatus `json:"pipeline_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CutType records how a chunk boundary was chosen.
type CutType string

const (
	CutParagraph CutType = "paragraph"
	CutSentence  CutType = "sentence"
	CutCharacter CutType = "character"
)

// DocumentChunk is a contiguous substring of a document together with its
// exact source range. Text is always doc.Text[StartChar:EndChar].
type DocumentChunk struct {
	ID         uuid.UUID `json:"id"`
	DataID     uuid.UUID `json:"data_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DatasetID  uuid.UUID `json:"dataset_id"`
	Text       string    `json:"text"`
	ChunkIndex int       `json:"chunk_index"`
	TokenCount int       `json:"token_count"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	PageNumber int       `json:"page_number,omitempty"`
	CutType    CutType   `json:"cut_type"`
	SourceName string    `json:"source_name,omitempty"`
	Version    int64     `json:"version"`
}

// Entity is a canonical knowledge-graph node. Name is stored normalized;
// the original surface forms live in Aliases.
type Entity struct {
	ID           uuid.UUID      `json:"id"`
	TenantID     uuid.UUID      `json:"tenant_id"`
	DatasetID    uuid.UUID      `json:"dataset_id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Description  string         `json:"description,omitempty"`
	Aliases      []string       `json:"aliases,omitempty"`
	SourceChunks []uuid.UUID    `json:"source_chunks,omitempty"`
	Confidence   float64        `json:"confidence"`
	Properties   map[string]any `json:"properties,omitempty"`
	Version      int64          `json:"version"`
}

// Relation is a directed typed edge between two entities.
// (SourceID, TargetID, Type) is unique.
type Relation struct {
	SourceID    uuid.UUID      `json:"source_id"`
	TargetID    uuid.UUID      `json:"target_id"`
	Type        string         `json:"type"`
	Weight      float64        `json:"weight"`
	Confidence  float64        `json:"confidence"`
	SourceChunk uuid.UUID      `json:"source_chunk"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// KnowledgeGraph is the output of extracting one chunk, and also the merged
// result of a whole run before writing.
type KnowledgeGraph struct {
	Nodes []Entity   `json:"nodes"`
	Edges []Relation `json:"edges"`
}

// RunStatus is the lifecycle of one pipeline run. Transitions are monotonic:
// running -> completed | failed | cancelled.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StageProgress carries the counters recorded for one pipeline stage.
type StageProgress struct {
	Name     string        `json:"name"`
	Status   RunStatus     `json:"status"`
	ItemsIn  int64         `json:"items_in"`
	ItemsOut int64         `json:"items_out"`
	Retries  int64         `json:"retries"`
	Dropped  int64         `json:"dropped"`
	Duration time.Duration `json:"duration"`
}

// PipelineRun is one invocation of the cognify pipeline over one dataset.
type PipelineRun struct {
	ID        uuid.UUID       `json:"id"`
	DatasetID uuid.UUID       `json:"dataset_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Status    RunStatus       `json:"status"`
	Stages    []StageProgress `json:"stages"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Degraded reports whether the run completed with optional subsystems
// unavailable.
func (r *PipelineRun) Degraded() bool {
	return r.Status == RunCompleted && len(r.Warnings) > 0
}

// EventKind identifies a pipeline progress event.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventRunCompleted   EventKind = "run_completed"
	EventRunFailed      EventKind = "run_failed"
	EventRunCancelled   EventKind = "run_cancelled"
)

// Event is broadcast to run subscribers for every stage transition.
type Event struct {
	RunID    uuid.UUID      `json:"run_id"`
	Kind     EventKind      `json:"kind"`
	Stage    string         `json:"stage,omitempty"`
	Counters *StageProgress `json:"counters,omitempty"`
	Error    string         `json:"error,omitempty"`
	Time     time.Time      `json:"time"`
}

// Provenance points a derived artifact back at its source bytes.
type Provenance struct {
	DataID     uuid.UUID `json:"data_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	SourceName string    `json:"source_name,omitempty"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	PageNumber int       `json:"page_number,omitempty"`
}

// Triplet is one (subject, predicate, object) result from graph retrieval.
type Triplet struct {
	Subject   Entity   `json:"subject"`
	Predicate Relation `json:"predicate"`
	Object    Entity   `json:"object"`
}

// SearchType selects a retrieval strategy for Search.
type SearchType string

const (
	SearchRAG             SearchType = "RAG"
	SearchGraphCompletion SearchType = "GRAPH_COMPLETION"
	SearchHybrid          SearchType = "HYBRID"
	SearchChunks          SearchType = "CHUNKS"
	SearchNaturalLanguage SearchType = "NATURAL_LANGUAGE"
)

// RetrievedItem is one ranked item from a retriever: either a chunk or a
// rendered triplet. Text is what gets shown to the LLM and the user.
type RetrievedItem struct {
	ID         uuid.UUID   `json:"id"`
	Text       string      `json:"text"`
	Score      float64     `json:"score"`
	Kind       string      `json:"kind"` // "chunk" or "triplet"
	Provenance *Provenance `json:"provenance,omitempty"`
	Triplet    *Triplet    `json:"triplet,omitempty"`
}

// CognifyOptions tune one pipeline invocation. Zero values fall back to the
// configured defaults.
type CognifyOptions struct {
	ChunkSize         int    `json:"chunk_size,omitempty"`
	ChunkOverlap      int    `json:"chunk_overlap,omitempty"`
	Chunker           string `json:"chunker,omitempty"` // "text", "semantic", "llm"
	GraphModel        string `json:"graph_model,omitempty"`
	Temporal          bool   `json:"temporal,omitempty"`
	ValidationEnabled bool   `json:"validation_enabled"`
	ResolutionEnabled bool   `json:"resolution_enabled"`
	RunInBackground   bool   `json:"run_in_background,omitempty"`
}

// SearchRequest is the exposed query surface.
type SearchRequest struct {
	Query     string         `json:"query"`
	Type      SearchType     `json:"type"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Datasets  []uuid.UUID    `json:"datasets"`
	TopK      int            `json:"top_k"`
	Filters   map[string]any `json:"filters,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// SearchResponse carries the answer plus the context it was grounded on.
type SearchResponse struct {
	Result    string          `json:"result"`
	Context   []RetrievedItem `json:"context"`
	Citations []Provenance    `json:"citations,omitempty"`
	Graph     *KnowledgeGraph `json:"graph,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Elapsed   string          `json:"elapsed"`
}
