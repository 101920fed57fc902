package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"refind/internal/chunker"
	"refind/internal/config"
	"refind/internal/extractor"
	"refind/internal/metrics"
	"refind/internal/pipeline"
	"refind/internal/providers"
	"refind/internal/refdiscovery"
	"refind/internal/session"
	"refind/internal/tokenizer"

	"github.com/stretchr/testify/require"
)

const grobidTEI = `<?xml version="1.0" encoding="UTF-8"?>
<TEI xmlns="http://www.tei-c.org/ns/1.0">
 <teiHeader>
  <fileDesc>
   <titleStmt><title level="a" type="main">Handler Test Paper</title></titleStmt>
   <sourceDesc><biblStruct><analytic>
    <author><persName><forename type="first">Grace</forename><surname>Hopper</surname></persName></author>
   </analytic><monogr><imprint><date type="published" when="2023"/></imprint></monogr></biblStruct></sourceDesc>
  </fileDesc>
  <profileDesc><abstract><div><p>An abstract about compilers and testing.</p></div></abstract></profileDesc>
 </teiHeader>
 <text>
  <body>
   <div><head n="1.">Introduction</head><p>one two three four five six seven eight nine ten</p></div>
  </body>
  <back>
   <div type="references"><listBibl>
    <biblStruct><analytic><title level="a" type="main">Cited Work</title>
     <author><persName><forename type="first">Alan</forename><surname>Turing</surname></persName></author>
    </analytic><monogr><imprint><date type="published" when="1950"/></imprint></monogr></biblStruct>
   </listBibl></div>
  </back>
 </text>
</TEI>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	grobid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(grobidTEI))
	}))
	t.Cleanup(grobid.Close)

	root := t.TempDir()
	cfg := config.Config{
		EmbedDim:            8,
		UploadDir:           filepath.Join(root, "uploads"),
		MetadataDir:         filepath.Join(root, "metadata"),
		VectorDir:           filepath.Join(root, "vectors"),
		ChunkSize:           5,
		ChunkOverlap:        1,
		TopK:                3,
		Temperature:         0.7,
		MaxTokens:           256,
		RefFetchTimeoutSec:  2,
		RefFetchConcurrency: 2,
		CORSOrigins:         "*",
	}

	mock := providers.NewMock(cfg.EmbedDim)
	m := metrics.New()
	store := session.NewStore()
	ex := extractor.New(extractor.NewGrobid(grobid.URL, 5*time.Second))
	in := pipeline.NewIngestor(cfg, ex, chunker.New(tokenizer.NewWord()), mock, store, m)
	q := pipeline.NewQuerier(cfg, mock, mock, store, m)

	cache, err := refdiscovery.OpenCache(filepath.Join(root, "refcache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	d := refdiscovery.New(cfg, refdiscovery.NewTracker(cfg.MetadataDir), cache, ex, in, mock, store, m)

	srv := httptest.NewServer(NewServer(cfg, in, q, d, store, m).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func multipartPDF(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadRejectsNonPDF(t *testing.T) {
	srv := newTestServer(t)
	body, ct := multipartPDF(t, "notes.txt", []byte("plain text"))
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaperBeforeUploadNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/paper")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReferencesBeforeUploadEmptyList(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/references")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		References []any `json:"references"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Empty(t, out.References)
}

func TestQueryBeforeUploadNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewBufferString(`{"text":"what?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadThenQueryFlow(t *testing.T) {
	srv := newTestServer(t)

	body, ct := multipartPDF(t, "paper.pdf", []byte("%PDF-fake"))
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paper struct {
		Title      string `json:"title"`
		References []any  `json:"references"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&paper))
	require.Equal(t, "Handler Test Paper", paper.Title)
	require.Len(t, paper.References, 1)

	resp, err = http.Get(srv.URL + "/paper")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/query", "application/json", bytes.NewBufferString(`{"text":"what is this paper about?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer struct {
		Answer   string `json:"answer"`
		Metadata struct {
			ChunksUsed int `json:"chunks_used"`
			Sources    []struct {
				Section string `json:"section"`
			} `json:"sources"`
		} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	require.NotEmpty(t, answer.Answer)
	require.Greater(t, answer.Metadata.ChunksUsed, 0)
	require.NotEmpty(t, answer.Metadata.Sources)
}

func TestQueryEmptyTextBadRequest(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewBufferString(`{"text":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReferenceContentMissingNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/references/unknown-key/content")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueStatusAndHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/references/queue/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var qs struct {
		QueueSize      int  `json:"queue_size"`
		ProcessedCount int  `json:"processed_count"`
		IsProcessing   bool `json:"is_processing"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&qs))
	require.Zero(t, qs.QueueSize)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSHeaderApplied(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
