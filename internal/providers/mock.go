package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"refind/internal/models"
)

// Mock is a deterministic provider for tests and keyless development runs.
// Embeddings are sha256-seeded vectors, so identical text always maps to the
// identical vector; the index normalizes them at insert and query time.
type Mock struct {
	dim int
}

func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 1536
	}
	return &Mock{dim: dim}
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	return DeterministicVector(text, m.dim), nil
}

func (m *Mock) Complete(_ context.Context, _, userQuery, contextText string, _ float64, _ int) (string, models.TokenUsage, error) {
	answer := "Deterministic answer grounded in the retrieved context [Mock Section, Lines 1-1]."
	usage := models.TokenUsage{
		PromptTokens:     len(strings.Fields(contextText)) + len(strings.Fields(userQuery)),
		CompletionTokens: len(strings.Fields(answer)),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return answer, usage, nil
}

func DeterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return vec
}
