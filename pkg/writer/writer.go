// Package writer persists data points to the graph store and the vector
// store. Nodes land before edges, and edges before vectors, so readers never
// observe an edge whose endpoints are missing.
package writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// DefaultEmbedBatch is how many texts go to the embedder per call.
const DefaultEmbedBatch = 32

// Stats counts what one Write call actually changed. Re-writing identical
// content reports zero created rows.
type Stats struct {
	NodesWritten   int
	EdgesWritten   int
	VectorsWritten int
	NodesDeduped   int
	EdgesDeduped   int
}

// Writer is the single path from pipeline output into the stores.
type Writer struct {
	graph    domain.GraphStore
	vector   domain.VectorStore
	embedder domain.Embedder
	batch    int
}

func New(graph domain.GraphStore, vector domain.VectorStore, embedder domain.Embedder, embedBatch int) *Writer {
	if embedBatch <= 0 {
		embedBatch = DefaultEmbedBatch
	}
	return &Writer{graph: graph, vector: vector, embedder: embedder, batch: embedBatch}
}

// Write persists the given points for one (tenant, dataset). Duplicate nodes
// and edges inside the batch are merged before anything is stored.
func (w *Writer) Write(ctx context.Context, tenantID, datasetID uuid.UUID, points []domain.DataPoint) (*Stats, error) {
	stats := &Stats{}
	if len(points) == 0 {
		return stats, nil
	}

	nodes, nodeDedup := collectNodes(points)
	edges, edgeDedup := collectEdges(points)
	stats.NodesDeduped = nodeDedup
	stats.EdgesDeduped = edgeDedup

	created, err := w.graph.AddNodes(ctx, nodes)
	if err != nil {
		return stats, fmt.Errorf("write nodes: %w", err)
	}
	stats.NodesWritten = created

	created, err = w.graph.AddEdges(ctx, edges)
	if err != nil {
		return stats, fmt.Errorf("write edges: %w", err)
	}
	stats.EdgesWritten = created

	written, err := w.writeVectors(ctx, tenantID, datasetID, points)
	if err != nil {
		return stats, err
	}
	stats.VectorsWritten = written
	return stats, nil
}

// collectNodes merges duplicate node ids: later scalar props win, alias
// lists union.
func collectNodes(points []domain.DataPoint) ([]domain.GraphNode, int) {
	merged := make(map[uuid.UUID]domain.GraphNode)
	var order []uuid.UUID
	deduped := 0

	for _, p := range points {
		for _, n := range p.GraphNodes() {
			prev, ok := merged[n.ID]
			if !ok {
				merged[n.ID] = n
				order = append(order, n.ID)
				continue
			}
			deduped++
			merged[n.ID] = mergeNodes(prev, n)
		}
	}

	out := make([]domain.GraphNode, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, deduped
}

func mergeNodes(a, b domain.GraphNode) domain.GraphNode {
	if b.Name != "" {
		a.Name = b.Name
	}
	if b.Type != "" {
		a.Type = b.Type
	}
	if a.Props == nil {
		a.Props = map[string]any{}
	}
	for k, v := range b.Props {
		if k == "aliases" {
			a.Props[k] = unionAliases(a.Props[k], v)
			continue
		}
		a.Props[k] = v
	}
	return a
}

func unionAliases(a, b any) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range []any{a, b} {
		list, ok := v.([]string)
		if !ok {
			continue
		}
		for _, s := range list {
			if _, dup := seen[s]; dup || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// collectEdges merges duplicates on (source, target, type), keeping the max
// weight and confidence seen.
func collectEdges(points []domain.DataPoint) ([]domain.GraphEdge, int) {
	type key struct {
		src, tgt uuid.UUID
		typ      string
	}
	merged := make(map[key]domain.GraphEdge)
	var order []key
	deduped := 0

	for _, p := range points {
		for _, e := range p.GraphEdges() {
			k := key{src: e.SourceID, tgt: e.TargetID, typ: e.Type}
			prev, ok := merged[k]
			if !ok {
				merged[k] = e
				order = append(order, k)
				continue
			}
			deduped++
			merged[k] = mergeEdges(prev, e)
		}
	}

	out := make([]domain.GraphEdge, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out, deduped
}

func mergeEdges(a, b domain.GraphEdge) domain.GraphEdge {
	if a.Props == nil {
		a.Props = map[string]any{}
	}
	for k, v := range b.Props {
		switch k {
		case "weight", "confidence":
			if fa, ok := a.Props[k].(float64); ok {
				if fb, ok := v.(float64); ok && fb <= fa {
					continue
				}
			}
		}
		a.Props[k] = v
	}
	return a
}

type pendingVector struct {
	collection string
	record     domain.VectorRecord
	text       string
}

func (w *Writer) writeVectors(ctx context.Context, tenantID, datasetID uuid.UUID, points []domain.DataPoint) (int, error) {
	var pending []pendingVector
	for _, p := range points {
		fields := p.IndexFields()
		if len(fields) == 0 {
			continue
		}
		nodes := p.GraphNodes()
		if len(nodes) == 0 {
			continue
		}
		node := nodes[0]

		fieldNames := make([]string, 0, len(fields))
		for f := range fields {
			fieldNames = append(fieldNames, f)
		}
		sort.Strings(fieldNames)

		for _, field := range fieldNames {
			text := fields[field]
			if text == "" {
				continue
			}
			pending = append(pending, pendingVector{
				collection: domain.CollectionName(tenantID, datasetID, node.Type, field),
				record: domain.VectorRecord{
					ID:      node.ID,
					Field:   field,
					Payload: vectorPayload(node, field, text),
					Version: versionOf(node),
				},
				text: text,
			})
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	for start := 0; start < len(pending); start += w.batch {
		end := start + w.batch
		if end > len(pending) {
			end = len(pending)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = pending[i].text
		}
		vectors, err := w.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch: %w", err)
		}
		for i := start; i < end; i++ {
			pending[i].record.Vector = vectors[i-start]
		}
	}

	byCollection := make(map[string][]domain.VectorRecord)
	var collections []string
	for _, pv := range pending {
		if _, ok := byCollection[pv.collection]; !ok {
			collections = append(collections, pv.collection)
		}
		byCollection[pv.collection] = append(byCollection[pv.collection], pv.record)
	}
	sort.Strings(collections)

	written := 0
	for _, col := range collections {
		records := byCollection[col]
		if err := w.vector.Upsert(ctx, col, records); err != nil {
			return written, fmt.Errorf("upsert vectors to %s: %w", col, err)
		}
		written += len(records)
	}
	return written, nil
}

// vectorPayload carries the search-time context for a hit: the owning node
// id, the embedded text and the filterable scope ids.
func vectorPayload(node domain.GraphNode, field, text string) map[string]any {
	payload := map[string]any{
		"id":   node.ID.String(),
		"type": node.Type,
		field:  text,
	}
	for _, k := range []string{"tenant_id", "dataset_id", "data_id", "name",
		"chunk_index", "start_line", "end_line", "start_char", "end_char",
		"page_number", "source_name"} {
		if v, ok := node.Props[k]; ok {
			payload[k] = v
		}
	}
	if node.Name != "" {
		payload["name"] = node.Name
	}
	return payload
}

func versionOf(node domain.GraphNode) int64 {
	switch v := node.Props["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
