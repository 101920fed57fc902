package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"refind/internal/config"
	"refind/internal/logger"
	"refind/internal/metrics"
	"refind/internal/models"
	"refind/internal/providers"
	"refind/internal/session"
	"refind/internal/util"
	"refind/internal/vectorstore"
)

const systemPrompt = `You are a research assistant answering questions about an academic paper.
Answer using only the provided context. Cite your sources with bracketed
references to the section and line numbers given in the context, for example
[Introduction, Lines 12-40]. If the context does not contain the answer, say so.`

// Querier answers questions against the active session's index.
type Querier struct {
	cfg       config.Config
	embedder  providers.EmbeddingGateway
	generator providers.GenerationGateway
	store     *session.Store
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewQuerier(cfg config.Config, emb providers.EmbeddingGateway, gen providers.GenerationGateway, store *session.Store, m *metrics.Metrics) *Querier {
	return &Querier{
		cfg:       cfg,
		embedder:  emb,
		generator: gen,
		store:     store,
		metrics:   m,
		log:       logger.WithComponent("query"),
	}
}

// Query embeds the question, retrieves the top matching chunks, and asks the
// generation model for a cited answer. The generation gateway is only reached
// once retrieval has produced at least one chunk.
func (q *Querier) Query(ctx context.Context, question string, topK int) (models.QueryResult, error) {
	started := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return models.QueryResult{}, fmt.Errorf("%w: empty question", util.ErrValidation)
	}
	sess := q.store.Current()
	if sess == nil {
		return models.QueryResult{}, fmt.Errorf("%w: no paper uploaded", util.ErrNotFound)
	}
	if sess.Index.Len() == 0 {
		return models.QueryResult{}, fmt.Errorf("%w: index contains no chunks", util.ErrNotFound)
	}
	if topK <= 0 {
		topK = q.cfg.TopK
	}

	vec, err := q.embedder.Embed(ctx, question)
	if err != nil {
		return models.QueryResult{}, err
	}
	results := sess.Index.Search(vec, topK)
	if len(results) == 0 {
		return models.QueryResult{}, fmt.Errorf("%w: no matching chunks", util.ErrNotFound)
	}

	contextText := buildContext(results)
	answer, usage, err := q.generator.Complete(ctx, systemPrompt, question, contextText, q.cfg.Temperature, q.cfg.MaxTokens)
	if err != nil {
		return models.QueryResult{}, err
	}

	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{
			Text:       r.Meta.Text,
			Section:    sectionLabel(r.Meta),
			StartLine:  r.Meta.StartLine,
			EndLine:    r.Meta.EndLine,
			Similarity: r.Score,
		})
	}

	q.metrics.ObserveQuery(time.Since(started))
	q.log.Info("query answered", "chunks_used", len(results), "total_tokens", usage.TotalTokens)
	return models.QueryResult{
		Answer:     answer,
		ChunksUsed: len(results),
		Sources:    sources,
		Usage:      usage,
	}, nil
}

// buildContext renders retrieved chunks in the shape the system prompt asks
// the model to cite.
func buildContext(results []vectorstore.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[From %s, Lines %d-%d]:\n%s",
			sectionLabel(r.Meta), r.Meta.StartLine, r.Meta.EndLine, r.Meta.Text))
	}
	return strings.Join(parts, "\n\n")
}

func sectionLabel(meta models.ChunkMeta) string {
	if meta.SectionTitle != "" {
		return meta.SectionTitle
	}
	if meta.Title != "" {
		return meta.Title
	}
	return meta.SourceType
}
