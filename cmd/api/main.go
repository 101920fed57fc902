package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"refind/internal/api"
	"refind/internal/chunker"
	"refind/internal/config"
	"refind/internal/extractor"
	"refind/internal/logger"
	"refind/internal/metrics"
	"refind/internal/pipeline"
	"refind/internal/providers"
	"refind/internal/refdiscovery"
	"refind/internal/session"
	"refind/internal/tokenizer"
	"refind/internal/util"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithComponent("main")

	for _, dir := range []string{cfg.UploadDir, cfg.MetadataDir, cfg.VectorDir} {
		if err := util.EnsureDir(dir); err != nil {
			log.Error("prepare storage directory", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	store := session.NewStore()

	var embedder providers.EmbeddingGateway
	var generator providers.GenerationGateway
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set, using deterministic mock provider")
		mock := providers.NewMock(cfg.EmbedDim)
		embedder, generator = mock, mock
	} else {
		client := providers.NewClient(cfg).WithRetryObserver(m)
		embedder, generator = client, client
	}

	providerTimeout := time.Duration(cfg.ProviderTimeoutSec) * time.Second
	ex := extractor.New(extractor.NewGrobid(cfg.GrobidURL, providerTimeout))
	ch := chunker.New(tokenizer.ForName(cfg.Tokenizer))

	ingestor := pipeline.NewIngestor(cfg, ex, ch, embedder, store, m)
	querier := pipeline.NewQuerier(cfg, embedder, generator, store, m)

	cache, err := refdiscovery.OpenCache(filepath.Join(cfg.MetadataDir, "refcache.db"))
	if err != nil {
		log.Error("open reference cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	discovery := refdiscovery.New(cfg, refdiscovery.NewTracker(cfg.MetadataDir), cache, ex, ingestor, embedder, store, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RefDiscoveryEnabled {
		go discovery.Run(ctx)
	} else {
		log.Info("reference discovery disabled")
	}

	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(cfg, ingestor, querier, discovery, store, m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.APIAddr, "grobid", cfg.GrobidURL, "tokenizer", cfg.Tokenizer)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}
