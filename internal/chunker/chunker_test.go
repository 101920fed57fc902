package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"refind/internal/tokenizer"
)

func wordText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "w%03d", i)
	}
	return b.String()
}

func TestChunkWindowsAndDroppedTail(t *testing.T) {
	// 1000 tokens at 512/50 gives windows [0:512) and [462:974); the 76-token
	// tail is below half of chunkSize and must be dropped.
	c := New(tokenizer.NewWord())
	chunks := c.Chunk(wordText(1000), "section:doc", "Introduction", 512, 50, 0)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].TokenCount != 512 || chunks[1].TokenCount != 512 {
		t.Fatalf("unexpected token counts: %d, %d", chunks[0].TokenCount, chunks[1].TokenCount)
	}
	if !strings.HasPrefix(chunks[0].Text, "w000") || !strings.HasSuffix(chunks[0].Text, "w511") {
		t.Fatalf("first window misaligned: %q...%q", chunks[0].Text[:4], chunks[0].Text[len(chunks[0].Text)-4:])
	}
	if !strings.HasPrefix(chunks[1].Text, "w462") || !strings.HasSuffix(chunks[1].Text, "w973") {
		t.Fatalf("second window misaligned")
	}
}

func TestChunkInvariants(t *testing.T) {
	tok := tokenizer.NewWord()
	c := New(tok)
	text := wordText(300)
	chunks := c.Chunk(text, "section:doc", "Methods", 100, 20, 0)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, ch := range chunks {
		if ch.StartChar >= ch.EndChar {
			t.Fatalf("chunk %d: start_char %d >= end_char %d", i, ch.StartChar, ch.EndChar)
		}
		if ch.ChunkIndex != i {
			t.Fatalf("chunk %d: chunk_index %d not contiguous", i, ch.ChunkIndex)
		}
		if got := len(tok.Encode(ch.Text)); got != ch.TokenCount {
			t.Fatalf("chunk %d: token_count %d, encoded %d", i, ch.TokenCount, got)
		}
	}

	// Concatenating with overlap removed reconstructs the covered token stream.
	var rebuilt []int
	for i, ch := range chunks {
		toks := tok.Encode(ch.Text)
		if i > 0 {
			toks = toks[20:]
		}
		rebuilt = append(rebuilt, toks...)
	}
	original := tok.Encode(text)
	if !reflect.DeepEqual(rebuilt, original[:len(rebuilt)]) {
		t.Fatal("reconstructed token stream diverges from original")
	}
}

func TestChunkDeterminism(t *testing.T) {
	text := wordText(250)
	a := New(tokenizer.NewWord()).Chunk(text, "section:doc", "Results", 64, 16, 0)
	b := New(tokenizer.NewWord()).Chunk(text, "section:doc", "Results", 64, 16, 0)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical input and config produced different chunk sequences")
	}
}

func TestChunkOverlapClamped(t *testing.T) {
	// overlap >= chunkSize is corrected to chunkSize/4, not an error.
	c := New(tokenizer.NewWord())
	chunks := c.Chunk(wordText(400), "section:doc", "Discussion", 100, 600, 0)
	if len(chunks) == 0 {
		t.Fatal("expected chunks despite malformed overlap")
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartChar <= chunks[i-1].StartChar {
			t.Fatalf("no forward progress between chunks %d and %d", i-1, i)
		}
	}
}

func TestChunkShortText(t *testing.T) {
	c := New(tokenizer.NewWord())
	chunks := c.Chunk(wordText(10), "abstract:doc", "Abstract", 512, 50, 0)
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk for short text, got %d", len(chunks))
	}
	if chunks[0].TokenCount != 10 {
		t.Fatalf("unexpected token count %d", chunks[0].TokenCount)
	}
}

func TestChunkEmptyText(t *testing.T) {
	c := New(tokenizer.NewWord())
	if got := c.Chunk("", "section:doc", "Empty", 512, 50, 0); got != nil {
		t.Fatalf("expected nil for empty text, got %d chunks", len(got))
	}
}

func TestChunkLineNumbers(t *testing.T) {
	c := New(tokenizer.NewWord())
	text := "a b c\nd e f\ng h i"
	chunks := c.Chunk(text, "section:doc", "Lines", 3, 0, 0)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantStart := []int{1, 2, 3}
	for i, ch := range chunks {
		if ch.StartLine != wantStart[i] {
			t.Fatalf("chunk %d: start_line %d, want %d", i, ch.StartLine, wantStart[i])
		}
		if ch.EndLine < ch.StartLine {
			t.Fatalf("chunk %d: end_line %d before start_line %d", i, ch.EndLine, ch.StartLine)
		}
	}
}

func TestChunkCharSpansMatchText(t *testing.T) {
	c := New(tokenizer.NewWord())
	for _, text := range []string{wordText(120), "a b c\nd e f\ng h i"} {
		chunks := c.Chunk(text, "section:doc", "Spans", 3, 0, 0)
		for i, ch := range chunks {
			if got := text[ch.StartChar:ch.EndChar]; got != ch.Text {
				t.Fatalf("chunk %d: span [%d:%d) is %q, window text %q", i, ch.StartChar, ch.EndChar, got, ch.Text)
			}
		}
	}
}

func TestChunkIndexContinuation(t *testing.T) {
	c := New(tokenizer.NewWord())
	chunks := c.Chunk(wordText(30), "section:doc", "Later", 10, 0, 7)
	for i, ch := range chunks {
		if ch.ChunkIndex != 7+i {
			t.Fatalf("chunk %d: chunk_index %d, want %d", i, ch.ChunkIndex, 7+i)
		}
	}
}
