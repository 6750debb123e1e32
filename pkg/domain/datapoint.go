package domain

import "github.com/google/uuid"

// DataPoint is anything the writer can persist to both the graph store and
// the vector store. Each implementation declares its graph projection
// explicitly plus the fields whose text gets embedded.
type DataPoint interface {
	GraphNodes() []GraphNode
	GraphEdges() []GraphEdge
	// IndexFields maps an index field name to the text to embed for it.
	// Empty-valued fields are skipped.
	IndexFields() map[string]string
}

const (
	NodeTypeChunk = "DocumentChunk"
	EdgeMentions  = "mentions"
)

// GraphNodes projects the entity as a single typed node.
func (e Entity) GraphNodes() []GraphNode {
	props := map[string]any{
		"name":        e.Name,
		"description": e.Description,
		"confidence":  e.Confidence,
		"tenant_id":   e.TenantID.String(),
		"dataset_id":  e.DatasetID.String(),
		"version":     e.Version,
	}
	if len(e.Aliases) > 0 {
		props["aliases"] = append([]string(nil), e.Aliases...)
	}
	for k, v := range e.Properties {
		props[k] = v
	}
	return []GraphNode{{ID: e.ID, Type: e.Type, Name: e.Name, Props: props}}
}

// GraphEdges links the entity to every chunk that mentions it.
func (e Entity) GraphEdges() []GraphEdge {
	edges := make([]GraphEdge, 0, len(e.SourceChunks))
	for _, chunkID := range e.SourceChunks {
		edges = append(edges, GraphEdge{
			SourceID: chunkID,
			TargetID: e.ID,
			Type:     EdgeMentions,
			Props:    map[string]any{"tenant_id": e.TenantID.String()},
		})
	}
	return edges
}

func (e Entity) IndexFields() map[string]string {
	return map[string]string{
		"name":        e.Name,
		"description": e.Description,
	}
}

func (r Relation) GraphNodes() []GraphNode { return nil }

func (r Relation) GraphEdges() []GraphEdge {
	props := map[string]any{
		"weight":       r.Weight,
		"confidence":   r.Confidence,
		"source_chunk": r.SourceChunk.String(),
	}
	for k, v := range r.Properties {
		props[k] = v
	}
	return []GraphEdge{{SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type, Props: props}}
}

func (r Relation) IndexFields() map[string]string { return nil }

func (c DocumentChunk) GraphNodes() []GraphNode {
	return []GraphNode{{
		ID:   c.ID,
		Type: NodeTypeChunk,
		Name: c.SourceName,
		Props: map[string]any{
			"data_id":     c.DataID.String(),
			"tenant_id":   c.TenantID.String(),
			"dataset_id":  c.DatasetID.String(),
			"source_name": c.SourceName,
			"chunk_index": c.ChunkIndex,
			"start_line":  c.StartLine,
			"end_line":    c.EndLine,
			"start_char":  c.StartChar,
			"end_char":    c.EndChar,
			"page_number": c.PageNumber,
			"cut_type":    string(c.CutType),
			"version":     c.Version,
		},
	}}
}

func (c DocumentChunk) GraphEdges() []GraphEdge { return nil }

func (c DocumentChunk) IndexFields() map[string]string {
	return map[string]string{"text": c.Text}
}

// Provenance builds the citation tuple for the chunk.
func (c DocumentChunk) Provenance() *Provenance {
	return &Provenance{
		DataID:     c.DataID,
		ChunkID:    c.ID,
		SourceName: c.SourceName,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		StartChar:  c.StartChar,
		EndChar:    c.EndChar,
		PageNumber: c.PageNumber,
	}
}

var _ DataPoint = Entity{}
var _ DataPoint = Relation{}
var _ DataPoint = DocumentChunk{}

// RelationKey is the dedup key for an edge.
type RelationKey struct {
	Source uuid.UUID
	Target uuid.UUID
	Type   string
}

// Key returns the relation's dedup key.
func (r Relation) Key() RelationKey {
	return RelationKey{Source: r.SourceID, Target: r.TargetID, Type: r.Type}
}
