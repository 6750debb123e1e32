// Package chunker splits loaded documents into token-bounded chunks while
// preserving exact source ranges. Every chunk's text is a verbatim slice of
// the original document, so citations can point back at bytes and lines.
package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/tokenizer"
)

// Options tune one Split call.
type Options struct {
	MaxTokens int
	Overlap   int
	Counter   tokenizer.Counter
	// StartIndex skips chunks below this index so a stream can be resumed.
	StartIndex int
}

const (
	DefaultMaxTokens = 512
	DefaultOverlap   = 50
)

// Source identifies the document being chunked.
type Source struct {
	DataID     uuid.UUID
	TenantID   uuid.UUID
	DatasetID  uuid.UUID
	SourceName string
}

type segKind int

const (
	segParagraph segKind = iota
	segSentence
	segCharacter
)

type segment struct {
	start, end int
	kind       segKind
}

// Stream is a lazy sequence of chunks. Next returns nil when exhausted.
type Stream struct {
	chunks []domain.DocumentChunk
	pos    int
}

func (s *Stream) Next(ctx context.Context) (*domain.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	if s.pos >= len(s.chunks) {
		return nil, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return &c, nil
}

// All drains the remaining chunks.
func (s *Stream) All(ctx context.Context) ([]domain.DocumentChunk, error) {
	var out []domain.DocumentChunk
	for {
		c, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return out, nil
		}
		out = append(out, *c)
	}
}

// Split chunks a loaded document. Paragraph boundaries are preferred; a
// paragraph over budget is split on sentences, and a single over-long
// sentence falls back to a hard character split at exactly the token budget.
func Split(ctx context.Context, src Source, doc *domain.LoadResult, opts Options) (*Stream, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.MaxTokens {
		return nil, fmt.Errorf("%w: overlap %d must be below chunk size %d",
			domain.ErrValidation, opts.Overlap, opts.MaxTokens)
	}
	if opts.Counter == nil {
		opts.Counter = tokenizer.ByteEstimate{}
	}
	if doc == nil || doc.Text == "" {
		return &Stream{}, nil
	}

	text := doc.Text
	segs := segmentText(text, opts)
	if len(segs) == 0 {
		return &Stream{}, nil
	}

	lines := lineOffsets(text)
	chunks := packSegments(ctx, src, doc, segs, lines, opts)
	if opts.StartIndex > 0 && opts.StartIndex < len(chunks) {
		chunks = chunks[opts.StartIndex:]
	} else if opts.StartIndex >= len(chunks) {
		chunks = nil
	}
	return &Stream{chunks: chunks}, nil
}

// segmentText cuts the document into paragraph spans, subdividing any span
// that alone exceeds the token budget.
func segmentText(text string, opts Options) []segment {
	var segs []segment
	for _, p := range paragraphSpans(text) {
		if opts.Counter.Count(text[p.start:p.end]) <= opts.MaxTokens {
			segs = append(segs, p)
			continue
		}
		for _, s := range sentenceSpans(text, p.start, p.end) {
			if opts.Counter.Count(text[s.start:s.end]) <= opts.MaxTokens {
				segs = append(segs, s)
				continue
			}
			segs = append(segs, charSpans(text, s.start, s.end, opts)...)
		}
	}
	return segs
}

func packSegments(ctx context.Context, src Source, doc *domain.LoadResult, segs []segment, lines []int, opts Options) []domain.DocumentChunk {
	text := doc.Text
	var chunks []domain.DocumentChunk

	first := 0
	for first < len(segs) {
		if ctx.Err() != nil {
			break
		}
		last := first
		for last+1 < len(segs) {
			if opts.Counter.Count(text[segs[first].start:segs[last+1].end]) > opts.MaxTokens {
				break
			}
			last++
		}

		start, end := segs[first].start, segs[last].end
		body := text[start:end]
		chunk := domain.DocumentChunk{
			ID:         domain.ChunkID(src.DataID, len(chunks), body),
			DataID:     src.DataID,
			TenantID:   src.TenantID,
			DatasetID:  src.DatasetID,
			SourceName: src.SourceName,
			Text:       body,
			ChunkIndex: len(chunks),
			TokenCount: opts.Counter.Count(body),
			StartChar:  start,
			EndChar:    end,
			StartLine:  lineAt(lines, start),
			EndLine:    lineAt(lines, maxInt(start, end-1)),
			PageNumber: pageAt(doc.Blocks, start),
			CutType:    cutType(segs[first : last+1]),
			Version:    1,
		}
		chunks = append(chunks, chunk)

		if last+1 >= len(segs) {
			break
		}
		first = nextStart(text, segs, first, last, opts)
	}
	return chunks
}

// nextStart re-includes trailing segments worth up to Overlap tokens, always
// advancing past the previous first segment.
func nextStart(text string, segs []segment, first, last int, opts Options) int {
	if opts.Overlap == 0 {
		return last + 1
	}
	next := last + 1
	for i := last; i > first; i-- {
		if opts.Counter.Count(text[segs[i].start:segs[last].end]) > opts.Overlap {
			break
		}
		next = i
	}
	return next
}

func cutType(segs []segment) domain.CutType {
	kind := segParagraph
	for _, s := range segs {
		if s.kind > kind {
			kind = s.kind
		}
	}
	switch kind {
	case segParagraph:
		return domain.CutParagraph
	case segSentence:
		return domain.CutSentence
	default:
		return domain.CutCharacter
	}
}

// paragraphSpans returns trimmed spans separated by blank lines.
func paragraphSpans(text string) []segment {
	var spans []segment
	offset := 0
	for _, part := range strings.Split(text, "\n\n") {
		trimmedStart := offset + leadingSpace(part)
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			spans = append(spans, segment{
				start: trimmedStart,
				end:   trimmedStart + len(trimmed),
				kind:  segParagraph,
			})
		}
		offset += len(part) + 2
	}
	return spans
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\r\n"))
}

// sentenceSpans splits [start,end) on sentence-ending punctuation, handling
// CJK text where sentences end without a following space.
func sentenceSpans(text string, start, end int) []segment {
	var spans []segment
	segStart := start
	runes := []rune(text[start:end])
	pos := start
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		size := len(string(r))
		if isSentenceEnd(r) {
			isEnd := true
			if i+1 < len(runes) {
				next := runes[i+1]
				isEnd = next == ' ' || next == '\n' || next == '\t' ||
					isSentenceEnd(next) || isCJK(r) || isCJK(next)
			}
			if isEnd {
				spanEnd := pos + size
				if trimmed := strings.TrimSpace(text[segStart:spanEnd]); trimmed != "" {
					spans = append(spans, segment{start: segStart, end: spanEnd, kind: segSentence})
				}
				segStart = spanEnd
				// Skip whitespace after the sentence end.
				for i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t') {
					segStart += len(string(runes[i+1]))
					pos += len(string(runes[i+1]))
					i++
				}
			}
		}
		pos += size
	}
	if segStart < end {
		if trimmed := strings.TrimSpace(text[segStart:end]); trimmed != "" {
			spans = append(spans, segment{start: segStart, end: end, kind: segSentence})
		}
	}
	return spans
}

// charSpans hard-splits an over-long sentence into windows that fit the
// token budget exactly. Splits always land on rune boundaries.
func charSpans(text string, start, end int, opts Options) []segment {
	var spans []segment
	for start < end {
		// Start from the byte-ratio guess and shrink until within budget.
		guess := start + opts.MaxTokens*4
		if guess > end {
			guess = end
		}
		guess = runeFloor(text, guess)
		for guess > start && opts.Counter.Count(text[start:guess]) > opts.MaxTokens {
			guess = runeFloor(text, guess-1)
		}
		if guess <= start {
			// Single rune over budget cannot happen with real tokenizers;
			// advance one rune to guarantee progress.
			guess = runeCeil(text, start+1)
		}
		spans = append(spans, segment{start: start, end: guess, kind: segCharacter})
		start = guess
	}
	return spans
}

func runeFloor(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && (s[i]&0xC0) == 0x80 {
		i--
	}
	return i
}

func runeCeil(s string, i int) int {
	for i < len(s) && (s[i]&0xC0) == 0x80 {
		i++
	}
	return i
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}

// lineOffsets returns the byte offset of each line start.
func lineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineAt returns the 1-based line containing byte offset pos.
func lineAt(offsets []int, pos int) int {
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos })
}

func pageAt(blocks []domain.Block, pos int) int {
	for _, b := range blocks {
		if pos >= b.StartChar && pos < b.EndChar {
			return b.PageNumber
		}
	}
	if len(blocks) > 0 {
		return blocks[len(blocks)-1].PageNumber
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
