// Package answer turns retrieved context into a grounded natural-language
// answer with numbered citations back to the source chunks.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/ratelimit"
)

// NoContextAnswer is returned verbatim when retrieval produced nothing; the
// model is never called on an empty context.
const NoContextAnswer = "No relevant information was found in the selected datasets."

// DefaultTemperature keeps answers close to the provided context while
// allowing natural phrasing.
const DefaultTemperature = 0.3

const systemPrompt = `You answer questions using ONLY the numbered context blocks provided.
Cite the blocks you used as [1], [2] and so on after each claim.
If the context does not contain the answer, say so plainly instead of guessing.
Never use knowledge that is not in the context.`

// Generator produces grounded answers.
type Generator struct {
	llm         domain.LLM
	model       string
	temperature float64
	retry       ratelimit.Policy
}

func New(llm domain.LLM, model string, temperature float64) *Generator {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Generator{llm: llm, model: model, temperature: temperature, retry: ratelimit.DefaultPolicy()}
}

// Answer generates one grounded answer. The returned citations parallel the
// numbered blocks the prompt showed the model.
func (g *Generator) Answer(ctx context.Context, question string, items []domain.RetrievedItem) (string, []domain.Provenance, error) {
	if len(items) == 0 {
		return NoContextAnswer, nil, nil
	}

	prompt, citations := buildPrompt(question, items)
	text, _, err := ratelimit.Do(ctx, g.retry, func(ctx context.Context) (string, error) {
		return g.llm.Complete(ctx, domain.CompletionRequest{
			Model:       g.model,
			System:      systemPrompt,
			Prompt:      prompt,
			Temperature: g.temperature,
		})
	})
	if err != nil {
		return "", nil, fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(text), citations, nil
}

// Stream is Answer with deltas delivered to fn as they arrive. The citation
// list is returned when the stream finishes.
func (g *Generator) Stream(ctx context.Context, question string, items []domain.RetrievedItem, fn func(delta string) error) ([]domain.Provenance, error) {
	if len(items) == 0 {
		if err := fn(NoContextAnswer); err != nil {
			return nil, err
		}
		return nil, nil
	}

	prompt, citations := buildPrompt(question, items)
	err := g.llm.Stream(ctx, domain.CompletionRequest{
		Model:       g.model,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: g.temperature,
	}, fn)
	if err != nil {
		return nil, fmt.Errorf("stream answer: %w", err)
	}
	return citations, nil
}

// buildPrompt renders the context blocks. Chunks carry a source line; bare
// triplets are labeled as graph facts.
func buildPrompt(question string, items []domain.RetrievedItem) (string, []domain.Provenance) {
	var b strings.Builder
	var citations []domain.Provenance

	b.WriteString("Context:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "\n[%d]", i+1)
		if item.Provenance != nil {
			b.WriteString(" " + sourceLabel(item.Provenance))
			citations = append(citations, *item.Provenance)
		} else if item.Kind == "triplet" {
			b.WriteString(" (knowledge graph)")
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(item.Text))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String(), citations
}

func sourceLabel(p *domain.Provenance) string {
	var parts []string
	if p.SourceName != "" {
		parts = append(parts, p.SourceName)
	}
	if p.PageNumber > 0 {
		parts = append(parts, fmt.Sprintf("page %d", p.PageNumber))
	}
	if p.StartLine > 0 {
		if p.EndLine > p.StartLine {
			parts = append(parts, fmt.Sprintf("lines %d-%d", p.StartLine, p.EndLine))
		} else {
			parts = append(parts, fmt.Sprintf("line %d", p.StartLine))
		}
	}
	if len(parts) == 0 {
		return "(source)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
