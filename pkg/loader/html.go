package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// HTMLLoader strips boilerplate with readability and converts the article
// body to markdown, which downstream chunking treats as plain text.
type HTMLLoader struct{}

func (l *HTMLLoader) Supports(ext, mime string) bool {
	switch ext {
	case ".html", ".htm":
		return true
	}
	return mime == "text/html"
}

func (l *HTMLLoader) Load(ctx context.Context, r io.Reader, name string) (*domain.LoadResult, error) {
	article, err := readability.FromReader(r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html %s: %v", domain.ErrValidation, name, err)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: convert html %s: %v", domain.ErrValidation, name, err)
	}

	text := strings.TrimSpace(markdown)
	if article.Title != "" {
		text = "# " + article.Title + "\n\n" + text
	}
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
