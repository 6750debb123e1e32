// Package loader turns raw document bytes into plain text plus the
// positional blocks the chunker needs for provenance. Format support is a
// priority-ordered registry; the first loader claiming an (ext, mime) pair
// wins, with plain text as the final fallback.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/liliang-cn/cognify/pkg/domain"
)

type Registry struct {
	loaders []domain.Loader
}

// NewRegistry returns the default loader chain: PDF, HTML, then text.
func NewRegistry() *Registry {
	return &Registry{loaders: []domain.Loader{
		&PDFLoader{},
		&HTMLLoader{},
		&TextLoader{},
	}}
}

// Register prepends a loader so callers can override the defaults.
func (r *Registry) Register(l domain.Loader) {
	r.loaders = append([]domain.Loader{l}, r.loaders...)
}

// Resolve picks the first loader supporting the extension/mime pair.
func (r *Registry) Resolve(ext, mime string) (domain.Loader, error) {
	for _, l := range r.loaders {
		if l.Supports(ext, mime) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: no loader for ext=%q mime=%q", domain.ErrValidation, ext, mime)
}

// LoadFile resolves a loader from the file name and loads it.
func (r *Registry) LoadFile(ctx context.Context, path, mime string) (*domain.LoadResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	l, err := r.Resolve(ext, mime)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrNotFound, path, err)
	}
	defer func() { _ = f.Close() }()
	return l.Load(ctx, f, filepath.Base(path))
}

// Load resolves a loader for in-memory content.
func (r *Registry) Load(ctx context.Context, content io.Reader, name, mime string) (*domain.LoadResult, error) {
	ext := strings.ToLower(filepath.Ext(name))
	l, err := r.Resolve(ext, mime)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, content, name)
}

// assemble joins page texts into one document, recording each page's char
// and line span. Pages are separated by a blank line.
func assemble(pages []string) *domain.LoadResult {
	var b strings.Builder
	blocks := make([]domain.Block, 0, len(pages))
	line := 1
	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n\n")
			line += 2
		}
		start := b.Len()
		startLine := line
		b.WriteString(page)
		line += strings.Count(page, "\n")
		blocks = append(blocks, domain.Block{
			PageNumber: i + 1,
			StartChar:  start,
			EndChar:    b.Len(),
			StartLine:  startLine,
			EndLine:    line,
		})
	}
	return &domain.LoadResult{Text: b.String(), Blocks: blocks}
}
