package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"refind/internal/config"
	"refind/internal/models"
	"refind/internal/util"
)

// Client talks to the OpenAI REST API for embeddings and chat completions.
type Client struct {
	baseURL         string
	apiKey          string
	embeddingModel  string
	completionModel string
	maxRetries      int
	retryBase       time.Duration
	client          *http.Client
	metrics         RetryObserver
}

// RetryObserver is notified on every embedding retry; the metrics package
// implements it.
type RetryObserver interface {
	EmbeddingRetry()
}

type noopObserver struct{}

func (noopObserver) EmbeddingRetry() {}

func NewClient(cfg config.Config) *Client {
	timeout := time.Duration(cfg.ProviderTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:         cfg.OpenAIBaseURL,
		apiKey:          cfg.OpenAIAPIKey,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		maxRetries:      cfg.EmbedMaxRetries,
		retryBase:       time.Second,
		client:          &http.Client{Timeout: timeout},
		metrics:         noopObserver{},
	}
}

// WithRetryObserver sets the retry callback and returns the client.
func (c *Client) WithRetryObserver(obs RetryObserver) *Client {
	if obs != nil {
		c.metrics = obs
	}
	return c
}

// WithRetryBase overrides the backoff base delay. Tests shorten it.
func (c *Client) WithRetryBase(d time.Duration) *Client {
	c.retryBase = d
	return c
}

// Embed returns the embedding vector for text. Rate-limit responses are
// retried with exponential backoff up to the configured attempt cap; every
// other failure propagates immediately. A zero vector is never substituted.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]any{"model": c.embeddingModel, "input": text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", util.ErrEmbedding, err)
	}

	delay := c.retryBase
	for attempt := 0; ; attempt++ {
		vec, retryable, err := c.embedOnce(ctx, payload)
		if err == nil {
			return vec, nil
		}
		if !retryable || attempt >= c.maxRetries {
			return nil, err
		}
		c.metrics.EmbeddingRetry()
		slog.Warn("embedding rate limited, backing off", "attempt", attempt+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", util.ErrEmbedding, ctx.Err())
		}
		delay *= 2
	}
}

func (c *Client) embedOnce(ctx context.Context, payload []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("%w: build request: %v", util.ErrEmbedding, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		retryable := ClassifyError(err) == ErrorRate
		return nil, retryable, fmt.Errorf("%w: request failed: %v", util.ErrEmbedding, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("%w: rate limited: %s", util.ErrEmbedding, string(body))
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("%w: status %d: %s", util.ErrEmbedding, resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("%w: decode response: %v", util.ErrEmbedding, err)
	}
	if len(parsed.Data) == 0 {
		return nil, false, fmt.Errorf("%w: empty embedding response", util.ErrEmbedding)
	}
	return parsed.Data[0].Embedding, false, nil
}

// Complete calls the chat completions endpoint. Generation failures are not
// retried.
func (c *Client) Complete(ctx context.Context, systemPrompt, userQuery, contextText string, temperature float64, maxTokens int) (string, models.TokenUsage, error) {
	userContent := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, userQuery)
	payload, err := json.Marshal(map[string]any{
		"model": c.completionModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
		"temperature": temperature,
		"max_tokens":  maxTokens,
	})
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("%w: marshal request: %v", util.ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("%w: build request: %v", util.ErrGeneration, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("%w: request failed: %v", util.ErrGeneration, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", models.TokenUsage{}, fmt.Errorf("%w: status %d: %s", util.ErrGeneration, resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("%w: decode response: %v", util.ErrGeneration, err)
	}
	if len(parsed.Choices) == 0 {
		return "", models.TokenUsage{}, fmt.Errorf("%w: empty choices", util.ErrGeneration)
	}
	usage := models.TokenUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}
