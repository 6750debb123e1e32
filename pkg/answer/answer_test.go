package answer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

type cannedLLM struct {
	answer string
	err    error
	lastReq domain.CompletionRequest
	chunks []string
}

func (c *cannedLLM) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	c.lastReq = req
	return c.answer, c.err
}

func (c *cannedLLM) Stream(_ context.Context, req domain.CompletionRequest, fn func(string) error) error {
	c.lastReq = req
	for _, chunk := range c.chunks {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return c.err
}

func (c *cannedLLM) StructuredComplete(context.Context, domain.StructuredRequest) (json.RawMessage, error) {
	return nil, domain.ErrPermanent
}

func chunkWithProvenance(text, source string, startLine, endLine int) domain.RetrievedItem {
	return domain.RetrievedItem{
		ID:   uuid.New(),
		Text: text,
		Kind: "chunk",
		Provenance: &domain.Provenance{
			ChunkID:    uuid.New(),
			SourceName: source,
			StartLine:  startLine,
			EndLine:    endLine,
		},
	}
}

func TestAnswerEmptyContextNeverCallsModel(t *testing.T) {
	llm := &cannedLLM{answer: "should not appear"}
	g := New(llm, "gpt-4o-mini", 0)

	got, citations, err := g.Answer(context.Background(), "who?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, got)
	assert.Empty(t, citations)
	assert.Empty(t, llm.lastReq.Prompt)
}

func TestAnswerNumbersContextAndCitations(t *testing.T) {
	llm := &cannedLLM{answer: "Ada worked on the engine. [1]"}
	g := New(llm, "gpt-4o-mini", 0)

	items := []domain.RetrievedItem{
		chunkWithProvenance("Ada worked on the Analytical Engine.", "bio.txt", 3, 7),
		chunkWithProvenance("The engine was never completed.", "history.txt", 12, 12),
		{ID: uuid.New(), Text: "Ada Lovelace worked on Analytical Engine", Kind: "triplet"},
	}

	got, citations, err := g.Answer(context.Background(), "what did Ada do?", items)
	require.NoError(t, err)
	assert.Equal(t, "Ada worked on the engine. [1]", got)

	// Citations parallel the numbered blocks; the bare triplet adds none.
	require.Len(t, citations, 2)
	assert.Equal(t, "bio.txt", citations[0].SourceName)
	assert.Equal(t, "history.txt", citations[1].SourceName)

	prompt := llm.lastReq.Prompt
	assert.Contains(t, prompt, "[1] (bio.txt, lines 3-7)")
	assert.Contains(t, prompt, "[2] (history.txt, line 12)")
	assert.Contains(t, prompt, "[3] (knowledge graph)")
	assert.Contains(t, prompt, "Question: what did Ada do?")
	assert.Contains(t, llm.lastReq.System, "numbered context blocks")
}

func TestAnswerUsesConfiguredTemperature(t *testing.T) {
	llm := &cannedLLM{answer: "ok"}
	g := New(llm, "gpt-4o-mini", 0.1)

	_, _, err := g.Answer(context.Background(), "q", []domain.RetrievedItem{
		chunkWithProvenance("text", "a.txt", 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, llm.lastReq.Temperature)

	g = New(llm, "gpt-4o-mini", 0)
	_, _, err = g.Answer(context.Background(), "q", []domain.RetrievedItem{
		chunkWithProvenance("text", "a.txt", 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, llm.lastReq.Temperature)
}

func TestAnswerPropagatesModelFailure(t *testing.T) {
	llm := &cannedLLM{err: domain.ErrPermanent}
	g := New(llm, "gpt-4o-mini", 0)

	_, _, err := g.Answer(context.Background(), "q", []domain.RetrievedItem{
		chunkWithProvenance("text", "a.txt", 1, 1),
	})
	require.ErrorIs(t, err, domain.ErrPermanent)
}

func TestStreamDeliversDeltas(t *testing.T) {
	llm := &cannedLLM{chunks: []string{"Ada ", "worked ", "on it."}}
	g := New(llm, "gpt-4o-mini", 0)

	var got string
	citations, err := g.Stream(context.Background(), "q", []domain.RetrievedItem{
		chunkWithProvenance("text", "a.txt", 1, 1),
	}, func(delta string) error {
		got += delta
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada worked on it.", got)
	assert.Len(t, citations, 1)
}

func TestStreamEmptyContext(t *testing.T) {
	g := New(&cannedLLM{}, "gpt-4o-mini", 0)

	var got string
	citations, err := g.Stream(context.Background(), "q", nil, func(delta string) error {
		got += delta
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, got)
	assert.Empty(t, citations)
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		name string
		p    domain.Provenance
		want string
	}{
		{"file and range", domain.Provenance{SourceName: "a.txt", StartLine: 2, EndLine: 5}, "(a.txt, lines 2-5)"},
		{"single line", domain.Provenance{SourceName: "a.txt", StartLine: 2, EndLine: 2}, "(a.txt, line 2)"},
		{"with page", domain.Provenance{SourceName: "a.pdf", PageNumber: 3, StartLine: 1, EndLine: 4}, "(a.pdf, page 3, lines 1-4)"},
		{"bare", domain.Provenance{}, "(source)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceLabel(&tt.p))
		})
	}
}
