package ingest

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"
)

// Piece is one chunk-to-be: a contiguous byte span of the source text.
// Consecutive pieces share exactly the configured overlap, so concatenating
// the first piece with every later piece minus its overlap prefix rebuilds
// the source text byte for byte.
type Piece struct {
	Content  string
	StartPos int
	EndPos   int
}

// Chunker packs paragraphs greedily into spans of at most maxChars bytes,
// carrying a fixed trailing overlap into the next span. Requires
// overlap*2 <= maxChars so every cut leaves room to step forward.
type Chunker struct {
	maxChars int
	overlap  int
}

func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap*2 > maxChars {
		overlap = maxChars / 2
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split cuts text into overlapping pieces. Whitespace-only input yields nil.
func (c *Chunker) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	bounds := blockStarts(text)

	var pieces []Piece
	start := 0
	for {
		remaining := len(text) - start
		if remaining <= c.maxChars {
			pieces = append(pieces, Piece{Content: text[start:], StartPos: start, EndPos: len(text)})
			return pieces
		}
		end := c.cut(text, bounds, start)
		pieces = append(pieces, Piece{Content: text[start:end], StartPos: start, EndPos: end})
		next := runeStart(text, end-c.overlap)
		if next <= start {
			next = end
		}
		start = next
	}
}

// cut picks the end of the chunk starting at start: the farthest paragraph
// boundary inside the budget, falling back to a sentence boundary, falling
// back to a hard cut. Boundaries in the first half of the window are
// rejected so the next start always moves forward past the overlap.
func (c *Chunker) cut(text string, bounds []int, start int) int {
	limit := start + c.maxChars
	half := start + c.maxChars/2

	idx := sort.SearchInts(bounds, limit+1) - 1
	if idx >= 0 && bounds[idx] > half && bounds[idx] > start {
		return bounds[idx]
	}

	window := text[start:limit]
	boundary := strings.LastIndexByte(window, '.')
	if nl := strings.LastIndexByte(window, '\n'); nl > boundary {
		boundary = nl
	}
	if boundary > c.maxChars/2 {
		return start + boundary + 1
	}
	// Hard cut. limit may sit inside a multi-byte rune; a chunk must never
	// split one, so back up to the rune start.
	return runeStart(text, limit)
}

// runeStart walks pos back to the nearest UTF-8 rune boundary at or before it.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// blockStarts returns the byte offsets where top-level markdown blocks begin,
// sorted ascending. Plain text falls out naturally: goldmark treats blank-line
// separated runs as paragraphs.
func blockStarts(source string) []int {
	md := goldmark.New()
	reader := text.NewReader([]byte(source))
	doc := md.Parser().Parse(reader)

	var starts []int
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		lines := node.Lines()
		if lines == nil || lines.Len() == 0 {
			continue
		}
		starts = append(starts, lines.At(0).Start)
	}
	sort.Ints(starts)
	return starts
}
