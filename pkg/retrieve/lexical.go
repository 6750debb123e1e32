package retrieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// Lexical is a full-text chunk index. Path "" keeps the index in memory.
// Chunk text and provenance live in bleve stored fields, so a file-backed
// index survives restarts intact.
type Lexical struct {
	index bleve.Index
}

func NewLexical(path string) (*Lexical, error) {
	var index bleve.Index
	var err error
	if path == "" {
		index, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			index, err = bleve.New(path, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	return &Lexical{index: index}, nil
}

func (l *Lexical) Close() error {
	return l.index.Close()
}

func (l *Lexical) Name() string { return "lexical" }

// Index adds or replaces chunks in the full-text index.
func (l *Lexical) Index(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := l.index.NewBatch()
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return domain.ErrCancelled
		}
		doc := map[string]any{
			"text":        chunk.Text,
			"tenant":      compact(chunk.TenantID),
			"dataset":     compact(chunk.DatasetID),
			"data_id":     chunk.DataID.String(),
			"source_name": chunk.SourceName,
			"start_line":  chunk.StartLine,
			"end_line":    chunk.EndLine,
			"start_char":  chunk.StartChar,
			"end_char":    chunk.EndChar,
			"page_number": chunk.PageNumber,
		}
		if err := batch.Index(chunk.ID.String(), doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", chunk.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

func (l *Lexical) Retrieve(ctx context.Context, q Query) ([]domain.RetrievedItem, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}

	match := bleve.NewMatchQuery(q.Text)
	match.SetField("text")

	tenant := bleve.NewTermQuery(compact(q.TenantID))
	tenant.SetField("tenant")

	datasets := make([]query.Query, 0, len(q.Datasets))
	for _, ds := range q.Datasets {
		t := bleve.NewTermQuery(compact(ds))
		t.SetField("dataset")
		datasets = append(datasets, t)
	}

	full := bleve.NewConjunctionQuery(match, tenant, bleve.NewDisjunctionQuery(datasets...))
	req := bleve.NewSearchRequest(full)
	req.Size = q.topK()
	req.Fields = []string{"*"}

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var items []domain.RetrievedItem
	for _, hit := range result.Hits {
		item, ok := lexicalItem(hit)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// lexicalItem rebuilds a retrieved chunk from a hit's stored fields.
func lexicalItem(hit *search.DocumentMatch) (domain.RetrievedItem, bool) {
	id, err := uuid.Parse(hit.ID)
	if err != nil {
		return domain.RetrievedItem{}, false
	}
	text, ok := hit.Fields["text"].(string)
	if !ok {
		return domain.RetrievedItem{}, false
	}

	p := &domain.Provenance{
		ChunkID:    id,
		StartLine:  intFrom(hit.Fields["start_line"]),
		EndLine:    intFrom(hit.Fields["end_line"]),
		StartChar:  intFrom(hit.Fields["start_char"]),
		EndChar:    intFrom(hit.Fields["end_char"]),
		PageNumber: intFrom(hit.Fields["page_number"]),
	}
	if s, ok := hit.Fields["data_id"].(string); ok {
		if dataID, err := uuid.Parse(s); err == nil {
			p.DataID = dataID
		}
	}
	if s, ok := hit.Fields["source_name"].(string); ok {
		p.SourceName = s
	}

	return domain.RetrievedItem{
		ID:         id,
		Text:       text,
		Score:      hit.Score,
		Kind:       "chunk",
		Provenance: p,
	}, true
}

// DeleteDataset removes every chunk of the dataset from the index.
func (l *Lexical) DeleteDataset(ctx context.Context, datasetID uuid.UUID) error {
	term := bleve.NewTermQuery(compact(datasetID))
	term.SetField("dataset")
	req := bleve.NewSearchRequest(term)
	req.Size = 10_000

	for {
		result, err := l.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("find dataset chunks: %w", err)
		}
		if len(result.Hits) == 0 {
			return nil
		}
		batch := l.index.NewBatch()
		for _, hit := range result.Hits {
			batch.Delete(hit.ID)
		}
		if err := l.index.Batch(batch); err != nil {
			return fmt.Errorf("delete dataset chunks: %w", err)
		}
	}
}

func compact(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

var _ Retriever = (*Lexical)(nil)
