package refdiscovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"refind/internal/logger"
	"refind/internal/util"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const maxPDFBytes = 64 << 20

// Fetcher downloads reference PDFs. Candidate URLs are probed concurrently;
// the first URL that yields a PDF wins and cancels the remaining probes.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int64
	log         *slog.Logger
}

func NewFetcher(timeout time.Duration, concurrency int) *Fetcher {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		concurrency: int64(concurrency),
		log:         logger.WithComponent("reffetch"),
	}
}

// FetchPDF races all candidate URLs under one deadline and returns the first
// PDF body. Individual probe failures only surface as Debug logs; the call
// fails only when every URL fails.
func (f *Fetcher) FetchPDF(ctx context.Context, urls []string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no candidate URLs", util.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	sem := semaphore.NewWeighted(f.concurrency)
	var (
		once sync.Once
		won  []byte
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			data, err := f.fetchOne(gctx, u)
			if err != nil {
				f.log.Debug("pdf probe failed", "url", u, "error", err)
				return nil
			}
			once.Do(func() {
				won = data
				cancel()
			})
			return nil
		})
	}
	_ = g.Wait()

	if won == nil {
		return nil, fmt.Errorf("%w: no candidate URL yielded a PDF", util.ErrUpstream)
	}
	return won, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, err
	}
	if !looksLikePDF(resp.Header.Get("Content-Type"), data) {
		return nil, fmt.Errorf("not a PDF (content-type %q)", resp.Header.Get("Content-Type"))
	}
	return data, nil
}

func looksLikePDF(contentType string, data []byte) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF"))
}
