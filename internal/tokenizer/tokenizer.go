package tokenizer

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts text to a token stream and back. Chunking windows are
// measured in these tokens, so the same tokenizer must be used for encoding
// and decoding within one chunking pass.
type Tokenizer interface {
	Name() string
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

// ForName resolves a tokenizer by its configured name. Unknown names and
// tiktoken load failures fall back to the word tokenizer.
func ForName(name string) Tokenizer {
	switch name {
	case "cl100k_base", "tiktoken":
		t, err := NewTiktoken("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken unavailable, falling back to word tokenizer", "error", err)
			return NewWord()
		}
		return t
	default:
		return NewWord()
	}
}

// Word tokenizes on whitespace. Token IDs index a per-instance vocabulary, so
// encode/decode round-trips are exact for single-space separated text.
type Word struct {
	mu    sync.RWMutex
	ids   map[string]int
	words []string
}

func NewWord() *Word {
	return &Word{ids: make(map[string]int)}
}

func (w *Word) Name() string { return "word" }

func (w *Word) Encode(text string) []int {
	fields := strings.Fields(text)
	out := make([]int, 0, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *Word) Decode(tokens []int) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t >= 0 && t < len(w.words) {
			parts = append(parts, w.words[t])
		}
	}
	return strings.Join(parts, " ")
}

func (w *Word) Count(text string) int {
	return len(strings.Fields(text))
}

// Tiktoken wraps the BPE encodings used by the OpenAI embedding models.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

func (t *Tiktoken) Name() string { return t.name }

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
