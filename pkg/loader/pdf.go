package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	pdf "github.com/dslipak/pdf"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

// PDFLoader extracts per-page plain text so chunks keep their page numbers.
type PDFLoader struct{}

func (l *PDFLoader) Supports(ext, mime string) bool {
	return ext == ".pdf" || mime == "application/pdf"
}

func (l *PDFLoader) Load(ctx context.Context, r io.Reader, name string) (*domain.LoadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransient, name, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: parse pdf %s: %v", domain.ErrValidation, name, err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrCancelled
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			log.Warnf("failed to extract text from page %d of %s: %v", i, name, err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimRight(text, "\n"))
	}
	return assemble(pages), nil
}
