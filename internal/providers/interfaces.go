package providers

import (
	"context"

	"refind/internal/models"
)

// EmbeddingGateway converts text into a fixed-dimension vector.
type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerationGateway produces an answer from a prompt and retrieved context.
type GenerationGateway interface {
	Complete(ctx context.Context, systemPrompt, userQuery, contextText string, temperature float64, maxTokens int) (string, models.TokenUsage, error)
}
