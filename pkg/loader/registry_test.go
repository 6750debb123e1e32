package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePicksByExtension(t *testing.T) {
	r := NewRegistry()

	l, err := r.Resolve(".pdf", "")
	require.NoError(t, err)
	assert.IsType(t, &PDFLoader{}, l)

	l, err = r.Resolve(".html", "")
	require.NoError(t, err)
	assert.IsType(t, &HTMLLoader{}, l)

	l, err = r.Resolve(".md", "")
	require.NoError(t, err)
	assert.IsType(t, &TextLoader{}, l)

	// Unknown extensions with a text mime fall through to the text loader.
	l, err = r.Resolve(".xyz", "text/x-custom")
	require.NoError(t, err)
	assert.IsType(t, &TextLoader{}, l)
}

func TestRegisterOverridesDefaults(t *testing.T) {
	r := NewRegistry()
	custom := &TextLoader{}
	r.Register(custom)

	l, err := r.Resolve(".txt", "")
	require.NoError(t, err)
	assert.Same(t, custom, l)
}

func TestTextLoaderLoad(t *testing.T) {
	l := &TextLoader{}
	text := "line one\nline two\nline three"

	res, err := l.Load(context.Background(), strings.NewReader(text), "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, text, res.Text)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, 0, res.Blocks[0].StartChar)
	assert.Equal(t, len(text), res.Blocks[0].EndChar)
	assert.Equal(t, 1, res.Blocks[0].StartLine)
	assert.Equal(t, 3, res.Blocks[0].EndLine)
}

func TestTextLoaderEmpty(t *testing.T) {
	l := &TextLoader{}
	res, err := l.Load(context.Background(), strings.NewReader(""), "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Blocks)
}

func TestAssembleRecordsPageSpans(t *testing.T) {
	res := assemble([]string{"page one\nstill page one", "page two"})

	assert.Equal(t, "page one\nstill page one\n\npage two", res.Text)
	require.Len(t, res.Blocks, 2)

	first, second := res.Blocks[0], res.Blocks[1]
	assert.Equal(t, 1, first.PageNumber)
	assert.Equal(t, res.Text[first.StartChar:first.EndChar], "page one\nstill page one")
	assert.Equal(t, 1, first.StartLine)
	assert.Equal(t, 2, first.EndLine)

	assert.Equal(t, 2, second.PageNumber)
	assert.Equal(t, res.Text[second.StartChar:second.EndChar], "page two")
	assert.Equal(t, 4, second.StartLine)
}
