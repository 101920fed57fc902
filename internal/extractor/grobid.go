package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"refind/internal/util"
)

// Grobid drives the external parsing service that converts PDF bytes into TEI
// markup. Three endpoints are used because GROBID's header and reference
// models are more accurate than the full-document one for their fields.
type Grobid struct {
	baseURL string
	client  *http.Client
}

func NewGrobid(baseURL string, timeout time.Duration) *Grobid {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Grobid{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *Grobid) ProcessHeader(ctx context.Context, pdf []byte) ([]byte, error) {
	return g.process(ctx, "/api/processHeaderDocument", pdf)
}

func (g *Grobid) ProcessFulltext(ctx context.Context, pdf []byte) ([]byte, error) {
	return g.process(ctx, "/api/processFulltextDocument", pdf)
}

func (g *Grobid) ProcessReferences(ctx context.Context, pdf []byte) ([]byte, error) {
	return g.process(ctx, "/api/processReferences", pdf)
}

func (g *Grobid) process(ctx context.Context, path string, pdf []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("input", "input.pdf")
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, fmt.Errorf("write multipart form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: grobid %s: %v", util.ErrUpstream, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: grobid %s: read response: %v", util.ErrUpstream, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: grobid %s returned %d: %s", util.ErrUpstream, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
