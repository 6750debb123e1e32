package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// TextLoader handles plain text and markdown, and is the fallback for any
// unrecognized type.
type TextLoader struct{}

func (l *TextLoader) Supports(ext, mime string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", "":
		return true
	}
	return strings.HasPrefix(mime, "text/") || mime == ""
}

func (l *TextLoader) Load(ctx context.Context, r io.Reader, name string) (*domain.LoadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransient, name, err)
	}
	text := string(data)
	if text == "" {
		return &domain.LoadResult{}, nil
	}
	return &domain.LoadResult{
		Text: text,
		Blocks: []domain.Block{{
			StartChar: 0,
			EndChar:   len(text),
			StartLine: 1,
			EndLine:   1 + strings.Count(text, "\n"),
		}},
	}, nil
}
