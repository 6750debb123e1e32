// Package extract turns document chunks into per-chunk knowledge graphs with
// an LLM, validating every response against a fixed JSON schema before any of
// it enters the pipeline.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
	"github.com/liliang-cn/cognify/pkg/ratelimit"
	"github.com/liliang-cn/cognify/pkg/resolve"
)

const (
	// DefaultMaxParseRetries bounds schema-repair round trips per chunk.
	DefaultMaxParseRetries = 2

	typeOther = "Other"
)

// Config tunes one Extractor.
type Config struct {
	Model           string
	Temperature     float64
	EntityTypes     []string
	MaxParseRetries int
	Retry           ratelimit.Policy
}

// Stats are the per-chunk extraction counters surfaced to the pipeline.
type Stats struct {
	Retries      int
	DroppedEdges int
	UnknownTypes int
	// LowYield marks chunks that produced no entities at all.
	LowYield bool
}

// Result is the extraction output for one chunk.
type Result struct {
	Graph domain.KnowledgeGraph
	Stats Stats
}

// Extractor extracts knowledge graphs chunk by chunk. Safe for concurrent use.
type Extractor struct {
	llm       domain.LLM
	cfg       Config
	schema    *jsonschema.Schema
	schemaRaw json.RawMessage
	allowed   map[string]string // lowercased -> canonical
}

func New(llm domain.LLM, cfg Config) (*Extractor, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: nil llm", domain.ErrValidation)
	}
	if len(cfg.EntityTypes) == 0 {
		cfg.EntityTypes = DefaultEntityTypes
	}
	if cfg.MaxParseRetries <= 0 {
		cfg.MaxParseRetries = DefaultMaxParseRetries
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = ratelimit.DefaultPolicy()
	}

	schema, err := compileSchema("graph.json", graphSchemaJSON)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]string, len(cfg.EntityTypes))
	for _, t := range cfg.EntityTypes {
		allowed[strings.ToLower(t)] = t
	}
	return &Extractor{
		llm:       llm,
		cfg:       cfg,
		schema:    schema,
		schemaRaw: json.RawMessage(graphSchemaJSON),
		allowed:   allowed,
	}, nil
}

// Extract runs one chunk through the model. Provider failures are retried
// per the policy; malformed responses get up to MaxParseRetries repair round
// trips before the chunk fails with ErrSchema.
func (e *Extractor) Extract(ctx context.Context, chunk domain.DocumentChunk) (*Result, error) {
	if strings.TrimSpace(chunk.Text) == "" {
		return &Result{Stats: Stats{LowYield: true}}, nil
	}

	base := extractionPrompt(e.cfg.EntityTypes, chunk.Text)
	prompt := base
	stats := Stats{}

	var graph rawGraph
	var lastSchemaErr error
	for attempt := 0; ; attempt++ {
		raw, retries, err := ratelimit.Do(ctx, e.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
			return e.llm.StructuredComplete(ctx, domain.StructuredRequest{
				Model:       e.cfg.Model,
				Prompt:      prompt,
				SchemaName:  "knowledge_graph",
				Schema:      e.schemaRaw,
				Temperature: e.cfg.Temperature,
			})
		})
		stats.Retries += retries
		if err != nil {
			return nil, fmt.Errorf("extract chunk %s: %w", chunk.ID, err)
		}

		graph = rawGraph{}
		if err := decodeValidated(e.schema, raw, &graph); err != nil {
			lastSchemaErr = err
			if attempt >= e.cfg.MaxParseRetries {
				return nil, fmt.Errorf("extract chunk %s: %w", chunk.ID, lastSchemaErr)
			}
			log.Warnf("malformed extraction for chunk %s, retrying: %v", chunk.ID, err)
			prompt = repairPrompt(base, trimReason(err))
			continue
		}
		break
	}

	return e.materialize(chunk, graph, stats), nil
}

// materialize converts the raw response into domain entities and relations,
// assigning deterministic ids and dropping edges with unknown endpoints.
func (e *Extractor) materialize(chunk domain.DocumentChunk, graph rawGraph, stats Stats) *Result {
	out := &Result{Stats: stats}

	byName := make(map[string]uuid.UUID, len(graph.Nodes))
	for _, n := range graph.Nodes {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			continue
		}
		typ, ok := e.allowed[strings.ToLower(strings.TrimSpace(n.Type))]
		if !ok {
			log.Debugf("unknown entity type %q for %q, using %s", n.Type, name, typeOther)
			out.Stats.UnknownTypes++
			typ = typeOther
		}

		normName := resolve.NormalizeName(name)
		id := domain.EntityID(chunk.TenantID, normName, typ)
		if _, dup := byName[normName]; !dup {
			out.Graph.Nodes = append(out.Graph.Nodes, domain.Entity{
				ID:           id,
				TenantID:     chunk.TenantID,
				DatasetID:    chunk.DatasetID,
				Name:         name,
				Type:         typ,
				Description:  strings.TrimSpace(n.Description),
				Aliases:      []string{name},
				SourceChunks: []uuid.UUID{chunk.ID},
				Confidence:   clamp01(n.Confidence),
				Version:      1,
			})
		}
		byName[normName] = id
	}

	if len(out.Graph.Nodes) == 0 {
		out.Stats.LowYield = true
		return out
	}

	for _, edge := range graph.Edges {
		src, okS := byName[resolve.NormalizeName(edge.Source)]
		tgt, okT := byName[resolve.NormalizeName(edge.Target)]
		if !okS || !okT {
			out.Stats.DroppedEdges++
			log.Debugf("dropping edge %q -[%s]-> %q: unknown endpoint", edge.Source, edge.Type, edge.Target)
			continue
		}
		typ := strings.TrimSpace(edge.Type)
		if typ == "" {
			out.Stats.DroppedEdges++
			continue
		}
		conf := clamp01(edge.Confidence)
		out.Graph.Edges = append(out.Graph.Edges, domain.Relation{
			SourceID:    src,
			TargetID:    tgt,
			Type:        typ,
			Weight:      conf,
			Confidence:  conf,
			SourceChunk: chunk.ID,
		})
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// trimReason keeps repair prompts short; validator errors can nest deeply.
func trimReason(err error) string {
	msg := err.Error()
	if u := errors.Unwrap(err); u != nil && errors.Is(err, domain.ErrSchema) {
		msg = strings.TrimPrefix(msg, domain.ErrSchema.Error()+": ")
	}
	if len(msg) > 400 {
		msg = msg[:400]
	}
	return msg
}
