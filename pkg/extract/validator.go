package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
	"github.com/liliang-cn/cognify/pkg/ratelimit"
)

// DefaultValidationThreshold is the minimum support score a relation needs
// to survive validation.
const DefaultValidationThreshold = 0.7

// degradedScore replaces per-relation scores when the scoring model is
// unavailable; everything is kept and the run is flagged degraded.
const degradedScore = 0.5

// ValidatorConfig tunes one Validator.
type ValidatorConfig struct {
	Model     string
	Threshold float64
	Retry     ratelimit.Policy
}

// ValidationResult reports what survived a validation pass.
type ValidationResult struct {
	Kept    []domain.Relation
	Dropped int
	Retries int
	// Degraded is set when scoring was unavailable and relations were kept
	// unscored at a neutral confidence.
	Degraded bool
}

// Validator scores extracted relations against their source text with a
// second model pass and drops the unsupported ones.
type Validator struct {
	llm    domain.LLM
	cfg    ValidatorConfig
	schema *jsonschema.Schema
}

func NewValidator(llm domain.LLM, cfg ValidatorConfig) (*Validator, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: nil llm", domain.ErrValidation)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultValidationThreshold
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = ratelimit.DefaultPolicy()
	}
	schema, err := compileSchema("scores.json", scoresSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Validator{llm: llm, cfg: cfg, schema: schema}, nil
}

// Validate scores graph.Edges against the chunks they came from. chunkText
// maps chunk id to its original text. Relations from chunks with no text are
// kept unscored. When the model is unavailable the whole pass degrades:
// every relation is kept at confidence 0.5 and Degraded is set.
func (v *Validator) Validate(ctx context.Context, graph *domain.KnowledgeGraph, chunkText map[uuid.UUID]string) (*ValidationResult, error) {
	res := &ValidationResult{}
	if graph == nil || len(graph.Edges) == 0 {
		return res, nil
	}

	names := make(map[uuid.UUID]string, len(graph.Nodes))
	for _, n := range graph.Nodes {
		names[n.ID] = n.Name
	}

	byChunk := make(map[uuid.UUID][]int)
	for i, rel := range graph.Edges {
		byChunk[rel.SourceChunk] = append(byChunk[rel.SourceChunk], i)
	}

	for chunkID, idxs := range byChunk {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrCancelled
		}
		text, ok := chunkText[chunkID]
		if !ok || text == "" {
			for _, i := range idxs {
				res.Kept = append(res.Kept, graph.Edges[i])
			}
			continue
		}

		statements := make([]string, len(idxs))
		for j, i := range idxs {
			rel := graph.Edges[i]
			statements[j] = fmt.Sprintf("%s %s %s",
				names[rel.SourceID], humanizeRelation(rel.Type), names[rel.TargetID])
		}

		scores, retries, err := v.score(ctx, text, statements)
		res.Retries += retries
		if err != nil {
			if domain.Cancelled(err) {
				return nil, err
			}
			// Scoring is optional quality control; keep everything rather
			// than fail the run.
			log.Warnf("relation validation unavailable for chunk %s: %v", chunkID, err)
			res.Degraded = true
			for _, i := range idxs {
				rel := graph.Edges[i]
				rel.Confidence = degradedScore
				res.Kept = append(res.Kept, rel)
			}
			continue
		}

		for j, i := range idxs {
			rel := graph.Edges[i]
			rel.Confidence = clamp01(scores[j])
			if rel.Confidence < v.cfg.Threshold {
				res.Dropped++
				continue
			}
			res.Kept = append(res.Kept, rel)
		}
	}
	return res, nil
}

func (v *Validator) score(ctx context.Context, text string, statements []string) ([]float64, int, error) {
	raw, retries, err := ratelimit.Do(ctx, v.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return v.llm.StructuredComplete(ctx, domain.StructuredRequest{
			Model:      v.cfg.Model,
			Prompt:     validationPrompt(text, statements),
			SchemaName: "relation_scores",
			Schema:     json.RawMessage(scoresSchemaJSON),
		})
	})
	if err != nil {
		return nil, retries, err
	}

	var parsed rawScores
	if err := decodeValidated(v.schema, raw, &parsed); err != nil {
		return nil, retries, err
	}
	if len(parsed.Scores) != len(statements) {
		return nil, retries, fmt.Errorf("%w: got %d scores for %d statements",
			domain.ErrSchema, len(parsed.Scores), len(statements))
	}
	return parsed.Scores, retries, nil
}

// humanizeRelation renders "works_at" as "works at" for the scoring prompt.
func humanizeRelation(t string) string {
	out := make([]rune, 0, len(t))
	for _, r := range t {
		if r == '_' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
