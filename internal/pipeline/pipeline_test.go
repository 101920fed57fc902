package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"refind/internal/chunker"
	"refind/internal/config"
	"refind/internal/extractor"
	"refind/internal/metrics"
	"refind/internal/models"
	"refind/internal/providers"
	"refind/internal/session"
	"refind/internal/tokenizer"
	"refind/internal/util"
	"refind/internal/vectorstore"

	"github.com/stretchr/testify/require"
)

const pipelineTEI = `<?xml version="1.0" encoding="UTF-8"?>
<TEI xmlns="http://www.tei-c.org/ns/1.0">
 <teiHeader>
  <fileDesc>
   <titleStmt><title level="a" type="main">A Tiny Paper</title></titleStmt>
   <sourceDesc><biblStruct><analytic>
    <author><persName><forename type="first">Ada</forename><surname>Lovelace</surname></persName></author>
   </analytic><monogr><imprint><date type="published" when="2024"/></imprint></monogr></biblStruct></sourceDesc>
  </fileDesc>
  <profileDesc><abstract><div><p>We study a small thing carefully.</p></div></abstract></profileDesc>
 </teiHeader>
 <text>
  <body>
   <div><head n="1.">Introduction</head><p>alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu</p></div>
  </body>
  <back/>
 </text>
</TEI>`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		EmbedDim:     8,
		UploadDir:    filepath.Join(root, "uploads"),
		MetadataDir:  filepath.Join(root, "metadata"),
		VectorDir:    filepath.Join(root, "vectors"),
		ChunkSize:    5,
		ChunkOverlap: 1,
		TopK:         3,
		Temperature:  0.7,
		MaxTokens:    256,
	}
}

// trackingGenerator records whether the generation gateway was reached.
type trackingGenerator struct {
	called bool
	inner  providers.GenerationGateway
}

func (g *trackingGenerator) Complete(ctx context.Context, sys, query, contextText string, temp float64, maxTokens int) (string, models.TokenUsage, error) {
	g.called = true
	return g.inner.Complete(ctx, sys, query, contextText, temp, maxTokens)
}

// flakyEmbedder fails every second call.
type flakyEmbedder struct {
	dim   int
	calls int
}

func (f *flakyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls%2 == 0 {
		return nil, fmt.Errorf("%w: synthetic failure", util.ErrEmbedding)
	}
	return providers.DeterministicVector(text, f.dim), nil
}

func TestQueryEmptyQuestionRejected(t *testing.T) {
	cfg := testConfig(t)
	store := session.NewStore()
	q := NewQuerier(cfg, providers.NewMock(cfg.EmbedDim), providers.NewMock(cfg.EmbedDim), store, metrics.New())

	_, err := q.Query(context.Background(), "   ", 0)
	require.True(t, errors.Is(err, util.ErrValidation))
}

func TestQueryWithoutSessionNotFound(t *testing.T) {
	cfg := testConfig(t)
	q := NewQuerier(cfg, providers.NewMock(cfg.EmbedDim), providers.NewMock(cfg.EmbedDim), session.NewStore(), metrics.New())

	_, err := q.Query(context.Background(), "what is studied?", 0)
	require.True(t, errors.Is(err, util.ErrNotFound))
}

func TestQueryEmptyIndexNeverReachesGenerator(t *testing.T) {
	cfg := testConfig(t)
	store := session.NewStore()
	store.Set(session.New("empty.pdf", models.Paper{Title: "Empty"}, vectorstore.NewIndex(cfg.EmbedDim)))

	gen := &trackingGenerator{inner: providers.NewMock(cfg.EmbedDim)}
	q := NewQuerier(cfg, providers.NewMock(cfg.EmbedDim), gen, store, metrics.New())

	_, err := q.Query(context.Background(), "what is studied?", 0)
	require.True(t, errors.Is(err, util.ErrNotFound))
	require.False(t, gen.called, "generation must not run when retrieval has nothing to offer")
}

func TestIngestTextAndQuery(t *testing.T) {
	cfg := testConfig(t)
	store := session.NewStore()
	mock := providers.NewMock(cfg.EmbedDim)
	m := metrics.New()

	ch := chunker.New(tokenizer.NewWord())
	in := NewIngestor(cfg, nil, ch, mock, store, m)

	sess := session.New("tiny.pdf", models.Paper{Title: "A Tiny Paper"}, vectorstore.NewIndex(cfg.EmbedDim))
	text := "alpha beta gamma delta epsilon"
	n, err := in.IngestText(context.Background(), sess, text, "paper", "Introduction", nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	store.Set(sess)

	q := NewQuerier(cfg, mock, mock, store, m)
	res, err := q.Query(context.Background(), text, 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Answer)
	require.Equal(t, 1, res.ChunksUsed)
	require.Equal(t, "Introduction", res.Sources[0].Section)
	require.InDelta(t, 1.0, res.Sources[0].Similarity, 1e-6)
	require.Positive(t, res.Usage.TotalTokens)
}

func TestIngestTextSkipsFailedEmbeddings(t *testing.T) {
	cfg := testConfig(t)
	emb := &flakyEmbedder{dim: cfg.EmbedDim}
	ch := chunker.New(tokenizer.NewWord())
	in := NewIngestor(cfg, nil, ch, emb, session.NewStore(), metrics.New())

	sess := session.New("tiny.pdf", models.Paper{}, vectorstore.NewIndex(cfg.EmbedDim))
	words := make([]string, 20)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	n, err := in.IngestText(context.Background(), sess, strings.Join(words, " "), "paper", "Body", nil, "")
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Less(t, n, emb.calls, "some chunks must have been skipped")
	require.Equal(t, n, sess.Index.Len())
}

func TestIngestEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pipelineTEI))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	store := session.NewStore()
	ex := extractor.New(extractor.NewGrobid(srv.URL, 5*time.Second))
	ch := chunker.New(tokenizer.NewWord())
	in := NewIngestor(cfg, ex, ch, providers.NewMock(cfg.EmbedDim), store, metrics.New())

	sess, err := in.Ingest(context.Background(), []byte("%PDF-fake"), "tiny.pdf")
	require.NoError(t, err)
	require.Same(t, sess, store.Current())
	require.Equal(t, "A Tiny Paper", sess.Paper.Title)
	require.Greater(t, sess.Index.Len(), 0)

	_, err = os.Stat(filepath.Join(cfg.MetadataDir, "tiny_metadata.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.VectorDir, "tiny.vec"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.VectorDir, "tiny_metadata.json"))
	require.NoError(t, err)
}

func TestIngestChunkSourceTypesCarryDocID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pipelineTEI))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	store := session.NewStore()
	ex := extractor.New(extractor.NewGrobid(srv.URL, 5*time.Second))
	in := NewIngestor(cfg, ex, chunker.New(tokenizer.NewWord()), providers.NewMock(cfg.EmbedDim), store, metrics.New())

	sess, err := in.Ingest(context.Background(), []byte("%PDF-fake"), "tiny.pdf")
	require.NoError(t, err)

	sourceTypes := make(map[string]bool)
	for _, r := range sess.Index.Search(providers.DeterministicVector("anything", cfg.EmbedDim), sess.Index.Len()) {
		sourceTypes[r.Meta.SourceType] = true
	}
	require.True(t, sourceTypes["abstract:tiny"], "abstract chunks must be labeled abstract:<doc>, got %v", sourceTypes)
	require.True(t, sourceTypes["section:tiny"], "section chunks must be labeled section:<doc>, got %v", sourceTypes)
}

func TestIngestRejectsEmptyUpload(t *testing.T) {
	cfg := testConfig(t)
	in := NewIngestor(cfg, nil, chunker.New(tokenizer.NewWord()), providers.NewMock(cfg.EmbedDim), session.NewStore(), metrics.New())
	_, err := in.Ingest(context.Background(), nil, "x.pdf")
	require.True(t, errors.Is(err, util.ErrValidation))
}
