package refdiscovery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"refind/internal/config"
	"refind/internal/extractor"
	"refind/internal/logger"
	"refind/internal/metrics"
	"refind/internal/models"
	"refind/internal/pipeline"
	"refind/internal/providers"
	"refind/internal/session"
	"refind/internal/util"
)

// QueueStatus is the externally visible state of the discovery worker.
type QueueStatus struct {
	QueueSize      int  `json:"queue_size"`
	ProcessedCount int  `json:"processed_count"`
	IsProcessing   bool `json:"is_processing"`
}

// Discovery fetches a paper's references in the background and indexes their
// content into the same session, so queries can draw on cited work. The whole
// path is best effort: any failure marks the reference failed and moves on.
type Discovery struct {
	cfg      config.Config
	tracker  *Tracker
	queue    *Queue
	searcher *Searcher
	fetcher  *Fetcher
	cache    *Cache
	extract  *extractor.Extractor
	ingestor *pipeline.Ingestor
	embedder providers.EmbeddingGateway
	store    *session.Store
	metrics  *metrics.Metrics
	log      *slog.Logger

	processing atomic.Bool
}

func New(cfg config.Config, tracker *Tracker, cache *Cache, ex *extractor.Extractor, in *pipeline.Ingestor, emb providers.EmbeddingGateway, store *session.Store, m *metrics.Metrics) *Discovery {
	timeout := time.Duration(cfg.RefFetchTimeoutSec) * time.Second
	return &Discovery{
		cfg:      cfg,
		tracker:  tracker,
		queue:    NewQueue(),
		searcher: NewSearcher(timeout),
		fetcher:  NewFetcher(timeout, cfg.RefFetchConcurrency),
		cache:    cache,
		extract:  ex,
		ingestor: in,
		embedder: emb,
		store:    store,
		metrics:  m,
		log:      logger.WithComponent("refdiscovery"),
	}
}

// Searcher returns the underlying searcher for endpoint overrides.
func (d *Discovery) Searcher() *Searcher {
	return d.searcher
}

// EnqueueAll queues a paper's references for background processing. Already
// processed references are skipped; DOI-bearing references drain first since
// they resolve most reliably.
func (d *Discovery) EnqueueAll(refs []models.ReferenceEntry) int {
	added := 0
	for _, ref := range refs {
		key := RefKey(ref)
		if key == "" || d.tracker.Status(key) == StatusProcessed {
			continue
		}
		priority := 1
		if ref.DOI != "" {
			priority = 0
		}
		if d.queue.Enqueue(key, ref, priority) {
			d.tracker.MarkPending(key, ref.Title, ref.DOI)
			added++
		}
	}
	d.metrics.SetRefQueueDepth(d.queue.Len())
	if added > 0 {
		d.log.Info("references queued", "added", added, "queue_size", d.queue.Len())
	}
	return added
}

// Run drains the queue until ctx is cancelled. Intended to run as a single
// background goroutine started from main.
func (d *Discovery) Run(ctx context.Context) {
	for {
		key, ref, ok := d.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.queue.Wait():
				continue
			}
		}
		d.metrics.SetRefQueueDepth(d.queue.Len())

		d.processing.Store(true)
		d.processOne(ctx, key, ref)
		d.processing.Store(false)

		if ctx.Err() != nil {
			return
		}
	}
}

// processOne resolves, fetches and indexes a single reference. Every failure
// path marks the reference failed and returns; nothing propagates.
func (d *Discovery) processOne(ctx context.Context, key string, ref models.ReferenceEntry) {
	sess := d.store.Current()
	if sess == nil {
		d.fail(key, fmt.Errorf("no active session"))
		return
	}

	paper, err := d.cache.Get(key)
	if err != nil {
		paper, err = d.resolve(ctx, key, ref)
		if err != nil {
			d.fail(key, err)
			return
		}
		if cerr := d.cache.Put(key, paper); cerr != nil {
			d.log.Warn("could not cache reference content", "ref", key, "error", cerr)
		}
	}

	added, err := d.ingestPaper(ctx, sess, key, ref, paper)
	if err != nil {
		d.fail(key, err)
		return
	}

	metaPath := filepath.Join(d.cfg.MetadataDir, "references", util.SafeName(key)+".json")
	if err := util.WriteJSONAtomic(metaPath, paper); err != nil {
		d.log.Warn("could not persist reference metadata", "ref", key, "error", err)
	}
	if err := d.ingestor.Persist(sess); err != nil {
		d.log.Warn("could not persist updated index", "ref", key, "error", err)
	}

	d.tracker.MarkProcessed(key)
	d.metrics.ReferenceProcessed(string(StatusProcessed))
	d.log.Info("reference processed", "ref", key, "title", paper.Title, "chunks", added)
}

// resolve finds the reference online and extracts its content.
func (d *Discovery) resolve(ctx context.Context, key string, ref models.ReferenceEntry) (models.Paper, error) {
	candidates := d.searcher.Search(ctx, ref)
	var urls []string
	for _, c := range candidates {
		urls = append(urls, c.PDFURLs...)
	}
	pdf, err := d.fetcher.FetchPDF(ctx, urls)
	if err != nil {
		return models.Paper{}, err
	}
	paper, err := d.extract.Extract(ctx, pdf, util.SafeName(key)+".pdf")
	if err != nil {
		return models.Paper{}, err
	}
	if paper.Title == "" || titleSimilarity(paper.Title, ref.Title) < similarityThreshold {
		paper.Title = ref.Title
	}
	return paper, nil
}

func (d *Discovery) ingestPaper(ctx context.Context, sess *session.Session, key string, ref models.ReferenceEntry, paper models.Paper) (int, error) {
	sourceType := "ref:" + key
	entry := ref
	if entry.Title == "" {
		entry.Title = paper.Title
	}
	if entry.Abstract == "" {
		entry.Abstract = paper.Abstract
	}

	added := 0
	if paper.Abstract != "" {
		n, err := d.ingestor.IngestText(ctx, sess, paper.Abstract, sourceType, "Abstract", &entry, key)
		if err != nil {
			return added, err
		}
		added += n
	}
	for _, sec := range paper.Sections {
		if sec.Content == "" {
			continue
		}
		n, err := d.ingestor.IngestText(ctx, sess, sec.Content, sourceType, sec.Title, &entry, key)
		if err != nil {
			return added, err
		}
		added += n
	}
	if added == 0 {
		return 0, fmt.Errorf("reference produced no indexable chunks")
	}
	return added, nil
}

func (d *Discovery) fail(key string, cause error) {
	d.tracker.MarkFailed(key, cause)
	d.metrics.ReferenceProcessed(string(StatusFailed))
	d.log.Warn("reference discovery failed", "ref", key, "error", cause)
}

// Status reports per-reference states for the API.
func (d *Discovery) Status() map[string]Status {
	return d.tracker.All()
}

func (d *Discovery) QueueStatus() QueueStatus {
	return QueueStatus{
		QueueSize:      d.queue.Len(),
		ProcessedCount: d.tracker.ProcessedCount(),
		IsProcessing:   d.processing.Load(),
	}
}

// Content returns the cached extracted content of one reference.
func (d *Discovery) Content(key string) (models.Paper, error) {
	return d.cache.Get(key)
}

// SearchChunks runs a semantic search restricted to reference chunks in the
// active session's index.
func (d *Discovery) SearchChunks(ctx context.Context, query string, limit int) ([]models.Source, error) {
	sess := d.store.Current()
	if sess == nil {
		return nil, fmt.Errorf("%w: no paper uploaded", util.ErrNotFound)
	}
	if limit <= 0 {
		limit = d.cfg.TopK
	}
	vec, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Oversample, then keep only reference-owned chunks.
	results := sess.Index.Search(vec, limit*4)
	out := make([]models.Source, 0, limit)
	for _, r := range results {
		if r.Meta.RefID == "" {
			continue
		}
		section := r.Meta.SectionTitle
		if r.Meta.Title != "" {
			section = fmt.Sprintf("%s (%s)", r.Meta.SectionTitle, r.Meta.Title)
		}
		out = append(out, models.Source{
			Text:       r.Meta.Text,
			Section:    section,
			StartLine:  r.Meta.StartLine,
			EndLine:    r.Meta.EndLine,
			Similarity: r.Score,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
