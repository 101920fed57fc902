package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"refind/internal/chunker"
	"refind/internal/config"
	"refind/internal/extractor"
	"refind/internal/logger"
	"refind/internal/metrics"
	"refind/internal/models"
	"refind/internal/providers"
	"refind/internal/session"
	"refind/internal/util"
	"refind/internal/vectorstore"
)

// Ingestor drives the upload path: extract, chunk, embed, index, persist.
// It is also reused by reference discovery to index fetched reference papers
// into the same session.
type Ingestor struct {
	cfg      config.Config
	extract  *extractor.Extractor
	chunker  *chunker.Chunker
	embedder providers.EmbeddingGateway
	store    *session.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewIngestor(cfg config.Config, ex *extractor.Extractor, ch *chunker.Chunker, emb providers.EmbeddingGateway, store *session.Store, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		extract:  ex,
		chunker:  ch,
		embedder: emb,
		store:    store,
		metrics:  m,
		log:      logger.WithComponent("ingest"),
	}
}

// Ingest processes one uploaded PDF end to end and installs the resulting
// session as the active one. Extraction failure is fatal; a chunk whose
// embedding fails is skipped with a warning and the rest proceed.
func (in *Ingestor) Ingest(ctx context.Context, pdf []byte, filename string) (*session.Session, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty upload", util.ErrValidation)
	}

	// Content hash in the stored name keeps same-named uploads from clobbering
	// each other.
	uploadPath := util.SafeJoin(in.cfg.UploadDir,
		util.SafeName(strings.TrimSuffix(filename, ".pdf"))+"-"+util.SHA256Hex(pdf)[:12]+".pdf")
	if err := util.WriteBytesAtomic(uploadPath, pdf); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	paper, err := in.extract.Extract(ctx, pdf, filename)
	if err != nil {
		return nil, err
	}

	index := vectorstore.NewIndex(in.cfg.EmbedDim)
	sess := session.New(filename, paper, index)
	docID := artifactName(sess)

	added := 0
	if paper.Abstract != "" {
		n, err := in.IngestText(ctx, sess, paper.Abstract, "abstract:"+docID, "Abstract", nil, "")
		if err != nil {
			return nil, err
		}
		added += n
	}
	for _, sec := range paper.Sections {
		if sec.Content == "" {
			continue
		}
		n, err := in.IngestText(ctx, sess, sec.Content, "section:"+docID, sec.Title, nil, "")
		if err != nil {
			return nil, err
		}
		added += n
	}
	in.log.Info("paper ingested",
		"file", filename, "title", paper.Title, "sections", len(paper.Sections),
		"references", len(paper.References), "chunks", added)

	if err := in.Persist(sess); err != nil {
		return nil, err
	}
	in.store.Set(sess)
	return sess, nil
}

// IngestText chunks one source text and embeds each chunk into the session's
// index. Reference chunks carry the reference identity so retrieval can
// attribute them; paper chunks pass a nil entry. Returns the number of chunks
// actually indexed.
func (in *Ingestor) IngestText(ctx context.Context, sess *session.Session, text, sourceType, sectionTitle string, ref *models.ReferenceEntry, refID string) (int, error) {
	chunks := in.chunker.Chunk(text, sourceType, sectionTitle, in.cfg.ChunkSize, in.cfg.ChunkOverlap, 0)
	if len(chunks) == 0 {
		return 0, nil
	}
	start := sess.ReserveChunkIndexes(len(chunks))

	vectors := make([][]float32, 0, len(chunks))
	metas := make([]models.ChunkMeta, 0, len(chunks))
	for i, chunk := range chunks {
		chunk.ChunkIndex = start + i
		vec, err := in.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			in.log.Warn("embedding failed, skipping chunk",
				"section", sectionTitle, "chunk_index", chunk.ChunkIndex, "error", err)
			continue
		}
		meta := models.ChunkMeta{Chunk: chunk, RefID: refID}
		if ref != nil {
			meta.Title = ref.Title
			meta.Authors = ref.Authors
		}
		vectors = append(vectors, vec)
		metas = append(metas, meta)
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	if err := sess.Index.Add(vectors, metas); err != nil {
		return 0, err
	}
	in.metrics.ChunksIngested(len(vectors))
	return len(vectors), nil
}

// Persist writes the session's paper metadata and vector index artifacts.
func (in *Ingestor) Persist(sess *session.Session) error {
	name := artifactName(sess)
	metaPath := util.SafeJoin(in.cfg.MetadataDir, name+"_metadata.json")
	if err := util.WriteJSONAtomic(metaPath, sess.Paper); err != nil {
		return fmt.Errorf("persist paper metadata: %w", err)
	}
	if err := sess.Index.Save(in.cfg.VectorDir, name); err != nil {
		return fmt.Errorf("persist vector index: %w", err)
	}
	return nil
}

func artifactName(sess *session.Session) string {
	base := strings.TrimSuffix(sess.Filename, ".pdf")
	if base == "" {
		base = sess.ID
	}
	return util.SafeName(base)
}
