// Package chunker splits documents into bounded, overlapping chunks for
// embedding and vector search.
//
// Documents are split preferentially at markdown header boundaries so that
// chunks keep whole sections together. Sections that do not fit the size
// budget are re-packed by paragraphs. Consecutive chunks share a configurable
// character overlap so that retrieval does not lose context at boundaries.
//
// Sizes are measured in characters (runes), never bytes, so multi-byte text
// is never split mid-rune.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkSize is the default chunk size budget in characters.
	DefaultMaxChunkSize = 10000

	// DefaultOverlap is the default number of trailing characters carried
	// from an emitted chunk into the next buffer.
	DefaultOverlap = 250
)

var (
	// ErrEmptyDocument is returned when the document content is empty or
	// whitespace-only.
	ErrEmptyDocument = errors.New("chunker: document content is empty")

	// ErrEmptyDocumentID is returned when the document ID is empty.
	ErrEmptyDocumentID = errors.New("chunker: document ID is empty")

	// ErrInvalidChunkSize is returned for a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunker: chunk size must be positive")

	// ErrInvalidOverlap is returned when the overlap is negative or not
	// smaller than the chunk size.
	ErrInvalidOverlap = errors.New("chunker: overlap must be non-negative and smaller than chunk size")
)

// headerPattern matches markdown headers (1-6 '#' followed by whitespace) at
// the start of a line. Matches mark section boundaries.
var headerPattern = regexp.MustCompile(`(?m)^#{1,6}\s`)

// Chunk is one bounded piece of a source document.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Chunker splits document content deterministically. The zero value is not
// usable; create instances with New.
//
// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	maxChunkSize int
	overlap      int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChunkSize sets the chunk size budget in characters.
func WithMaxChunkSize(n int) Option {
	return func(c *Chunker) {
		c.maxChunkSize = n
	}
}

// WithOverlap sets the number of trailing characters carried from each
// emitted chunk into the next buffer. Zero disables overlap.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		c.overlap = n
	}
}

// New creates a Chunker. Without options it uses DefaultMaxChunkSize and
// DefaultOverlap.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxChunkSize: DefaultMaxChunkSize,
		overlap:      DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxChunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, c.maxChunkSize)
	}
	if c.overlap < 0 || c.overlap >= c.maxChunkSize {
		return nil, fmt.Errorf("%w: overlap %d, chunk size %d", ErrInvalidOverlap, c.overlap, c.maxChunkSize)
	}
	return c, nil
}

// Chunk splits content into chunks carrying the caller's metadata plus
// "chunk_index" (contiguous from 0) and "total_chunks".
//
// A document that fits the budget yields a single chunk whose ID is docID
// unchanged. Larger documents are split at markdown header boundaries, then
// by paragraphs when a section run still exceeds the budget. A single
// paragraph larger than the budget is emitted as one oversized chunk rather
// than split mid-paragraph; that is the only case where a chunk may exceed
// the budget.
//
// The caller's metadata map is copied into every chunk, never aliased.
// Output is deterministic for identical input.
func (c *Chunker) Chunk(content, docID string, metadata map[string]any) ([]Chunk, error) {
	if docID == "" {
		return nil, ErrEmptyDocumentID
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyDocument
	}

	// Fast path: the whole document fits in one chunk and keeps its ID.
	if runeLen(content) <= c.maxChunkSize {
		md := copyMetadata(metadata, 0)
		md["total_chunks"] = 1
		return []Chunk{{ID: docID, Content: content, Metadata: md}}, nil
	}

	var (
		chunks  []Chunk
		current string
		index   int
	)

	for _, section := range splitSections(content) {
		switch {
		case current != "" && runeLen(current)+runeLen(section) > c.maxChunkSize:
			if trimmed := strings.TrimSpace(current); trimmed != "" {
				chunks = append(chunks, c.newChunk(docID, trimmed, metadata, index))
				index++
				current = section
				if c.overlap > 0 {
					current = tailRunes(trimmed, c.overlap) + "\n\n" + section
				}
			} else {
				current = section
			}
		case current != "":
			current += "\n\n" + section
		default:
			current = section
		}

		// A buffer can exceed the budget when a single section is larger
		// than maxChunkSize; fall back to paragraph packing.
		for runeLen(current) > c.maxChunkSize {
			current = c.splitByParagraphs(current, docID, metadata, &chunks)
			index = len(chunks)
		}
	}

	if trimmed := strings.TrimSpace(current); trimmed != "" {
		chunks = append(chunks, c.newChunk(docID, trimmed, metadata, index))
	}

	for i := range chunks {
		chunks[i].Metadata["total_chunks"] = len(chunks)
	}
	return chunks, nil
}

// splitByParagraphs re-packs an oversized buffer by paragraphs, emitting full
// chunks into chunks and returning the unfinished remainder.
//
// A paragraph that alone exceeds the budget is emitted as one oversized
// chunk. Every other path keeps the buffer within the budget, so the
// returned remainder never exceeds maxChunkSize and the caller's loop
// terminates.
func (c *Chunker) splitByParagraphs(text, docID string, metadata map[string]any, chunks *[]Chunk) string {
	paragraphs := strings.Split(text, "\n\n")

	var buf string
	index := len(*chunks)

	flush := func() {
		if trimmed := strings.TrimSpace(buf); trimmed != "" {
			*chunks = append(*chunks, c.newChunk(docID, trimmed, metadata, index))
			index++
		}
	}

	for _, para := range paragraphs {
		switch {
		case runeLen(para) > c.maxChunkSize:
			// Indivisible unit: emit as-is, oversized.
			flush()
			if trimmed := strings.TrimSpace(para); trimmed != "" {
				*chunks = append(*chunks, c.newChunk(docID, trimmed, metadata, index))
				index++
			}
			buf = ""
		case buf != "" && runeLen(buf)+runeLen(para)+2 > c.maxChunkSize:
			trimmed := strings.TrimSpace(buf)
			flush()
			buf = para
			if c.overlap > 0 && trimmed != "" {
				if seeded := tailRunes(trimmed, c.overlap) + "\n\n" + para; runeLen(seeded) <= c.maxChunkSize {
					buf = seeded
				}
			}
		case buf == "":
			buf = para
		default:
			buf += "\n\n" + para
		}
	}

	return buf
}

// newChunk builds a chunk with a derived ID and an isolated metadata copy.
func (c *Chunker) newChunk(docID, content string, metadata map[string]any, index int) Chunk {
	return Chunk{
		ID:       fmt.Sprintf("%s_chunk_%d", docID, index),
		Content:  content,
		Metadata: copyMetadata(metadata, index),
	}
}

// splitSections splits content at markdown header line starts. Sections are
// trimmed and empty ones dropped, so whitespace runs between headers never
// become chunks.
func splitSections(content string) []string {
	locs := headerPattern.FindAllStringIndex(content, -1)

	starts := []int{0}
	for _, loc := range locs {
		if loc[0] != 0 {
			starts = append(starts, loc[0])
		}
	}
	starts = append(starts, len(content))

	sections := make([]string, 0, len(starts)-1)
	for i := 0; i < len(starts)-1; i++ {
		if s := strings.TrimSpace(content[starts[i]:starts[i+1]]); s != "" {
			sections = append(sections, s)
		}
	}
	return sections
}

func copyMetadata(metadata map[string]any, index int) map[string]any {
	md := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	md["chunk_index"] = index
	return md
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
