package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"refind/internal/config"
	"refind/internal/logger"
	"refind/internal/metrics"
	"refind/internal/models"
	"refind/internal/pipeline"
	"refind/internal/refdiscovery"
	"refind/internal/session"
	"refind/internal/util"
)

const maxUploadBytes = 64 << 20

// Server is the HTTP surface over the ingestion and query pipelines.
type Server struct {
	cfg       config.Config
	ingestor  *pipeline.Ingestor
	querier   *pipeline.Querier
	discovery *refdiscovery.Discovery
	store     *session.Store
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewServer(cfg config.Config, in *pipeline.Ingestor, q *pipeline.Querier, d *refdiscovery.Discovery, store *session.Store, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		ingestor:  in,
		querier:   q,
		discovery: d,
		store:     store,
		metrics:   m,
		log:       logger.WithComponent("api"),
	}
}

// Handler builds the route table. Every route is wrapped in the metrics
// middleware under its registered pattern, then in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Middleware(pattern, h))
	}

	route("POST /upload", s.handleUpload)
	route("GET /paper", s.handlePaper)
	route("GET /references", s.handleReferences)
	route("GET /references/status", s.handleReferenceStatus)
	route("GET /references/queue/status", s.handleQueueStatus)
	route("GET /references/{ref}/content", s.handleReferenceContent)
	route("POST /references/search", s.handleReferenceSearch)
	route("POST /query", s.handleQuery)
	route("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.cors(mux)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErr(w, fmt.Errorf("%w: missing file field: %v", util.ErrValidation, err))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		s.writeErr(w, fmt.Errorf("%w: only PDF uploads are accepted, got %q", util.ErrValidation, header.Filename))
		return
	}
	pdf, err := io.ReadAll(file)
	if err != nil {
		s.writeErr(w, fmt.Errorf("%w: read upload: %v", util.ErrValidation, err))
		return
	}

	sess, err := s.ingestor.Ingest(r.Context(), pdf, header.Filename)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if s.cfg.RefDiscoveryEnabled {
		s.discovery.EnqueueAll(sess.Paper.References)
	}
	s.writeJSON(w, http.StatusOK, sess.Paper)
}

func (s *Server) handlePaper(w http.ResponseWriter, r *http.Request) {
	sess := s.store.Current()
	if sess == nil {
		s.writeErr(w, fmt.Errorf("%w: no paper uploaded", util.ErrNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Paper)
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	refs := []models.ReferenceEntry{}
	if sess := s.store.Current(); sess != nil && sess.Paper.References != nil {
		refs = sess.Paper.References
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"references": refs})
}

func (s *Server) handleReferenceStatus(w http.ResponseWriter, r *http.Request) {
	if s.store.Current() == nil {
		s.writeErr(w, fmt.Errorf("%w: no paper uploaded", util.ErrNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"statuses": s.discovery.Status()})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.discovery.QueueStatus())
}

func (s *Server) handleReferenceContent(w http.ResponseWriter, r *http.Request) {
	paper, err := s.discovery.Content(r.PathValue("ref"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paper)
}

func (s *Server) handleReferenceSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, fmt.Errorf("%w: invalid JSON body: %v", util.ErrValidation, err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeErr(w, fmt.Errorf("%w: query is required", util.ErrValidation))
		return
	}
	sources, err := s.discovery.SearchChunks(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": sources})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
		TopK int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, fmt.Errorf("%w: invalid JSON body: %v", util.ErrValidation, err))
		return
	}

	res, err := s.querier.Query(r.Context(), req.Text, req.TopK)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"answer": res.Answer,
		"metadata": map[string]any{
			"chunks_used": res.ChunksUsed,
			"token_usage": res.Usage,
			"sources":     res.Sources,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", "error", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := util.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "error", err)
	} else {
		s.log.Warn("request rejected", "status", status, "error", err)
	}
	msg := err.Error()
	var app *util.AppError
	if errors.As(err, &app) && app.Message != "" {
		msg = app.Message
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// cors applies the configured allowed origins and answers preflights.
func (s *Server) cors(next http.Handler) http.Handler {
	origins := s.cfg.Origins()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOrigin(origins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
