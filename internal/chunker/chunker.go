package chunker

import (
	"strings"

	"refind/internal/models"
	"refind/internal/tokenizer"
)

const defaultChunkSize = 512

// Chunker splits text into overlapping token windows with character and line
// provenance. It is deterministic for a given tokenizer and has no side
// effects.
type Chunker struct {
	tok tokenizer.Tokenizer
}

func New(tok tokenizer.Tokenizer) *Chunker {
	return &Chunker{tok: tok}
}

// Chunk slides a window of chunkSize tokens over text, advancing by
// chunkSize-overlap each step. A malformed overlap is clamped to chunkSize/4
// instead of failing. chunk_index continues from startIndex so one counter can
// span every section of a document.
//
// A final window shorter than half of chunkSize is dropped when at least one
// prior chunk exists; its content is already covered by the previous chunk's
// overlap.
func (c *Chunker) Chunk(text, sourceType, sectionTitle string, chunkSize, overlap, startIndex int) []models.Chunk {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	step := chunkSize - overlap
	// Safety valve against runaway loops on adversarial input; hitting the cap
	// stops chunking silently rather than erroring.
	maxIterations := len(tokens)/max(1, chunkSize/2) + 2

	var chunks []models.Chunk
	start := 0
	for iter := 0; iter < maxIterations && start < len(tokens); iter++ {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		if end == len(tokens) && len(window) < chunkSize/2 && len(chunks) > 0 {
			break
		}

		windowText := c.tok.Decode(window)
		prefixLen := len(c.tok.Decode(tokens[:start]))
		startChar, endChar := charSpan(text, prefixLen, len(windowText))
		startLine, endLine := lineSpan(text, startChar, endChar)

		chunks = append(chunks, models.Chunk{
			Text:         windowText,
			TokenCount:   len(window),
			StartChar:    startChar,
			EndChar:      endChar,
			StartLine:    startLine,
			EndLine:      endLine,
			ChunkIndex:   startIndex + len(chunks),
			SourceType:   sourceType,
			SectionTitle: sectionTitle,
		})

		if end == len(tokens) {
			break
		}
		next := start + step
		if next <= start {
			next = start + max(1, chunkSize/4)
		}
		start = next
	}
	return chunks
}

// charSpan maps a decoded-prefix length to a character range in the original
// text, skipping separator whitespace so start_char lands on window content.
// The end is anchored to the shifted start, so [start_char, end_char) covers
// the full window text. Exact for the word tokenizer; best-effort for BPE
// encodings.
func charSpan(text string, prefixLen, windowLen int) (int, int) {
	startChar := prefixLen
	for startChar < len(text) && (text[startChar] == ' ' || text[startChar] == '\n' || text[startChar] == '\t') {
		startChar++
	}
	endChar := startChar + windowLen
	if endChar > len(text) {
		endChar = len(text)
	}
	if startChar >= endChar && endChar > 0 {
		startChar = endChar - 1
	}
	return startChar, endChar
}

func lineSpan(text string, startChar, endChar int) (int, int) {
	startLine := 1 + strings.Count(text[:startChar], "\n")
	endLine := startLine + strings.Count(text[startChar:endChar], "\n")
	return startLine, endLine
}
