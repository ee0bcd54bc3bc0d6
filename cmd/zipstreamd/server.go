package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hatch-systems/zipstream"
)

const (
	defaultShutdownGracePeriod = 10 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultReadHeaderTimeout   = 10 * time.Second
)

// serverConfig holds the flags buildRootCommand parses into runServer.
type serverConfig struct {
	ListenAddr string

	S3Region          string
	S3EndpointURL     string
	S3UsePathStyle    bool
	S3MaxAPIAttempts  int
	S3AccessKeyID     string
	S3SecretAccessKey string

	BlobMaxAttempts int

	IdleTimeout         time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	LogLevel            string
}

func runServer(ctx context.Context, cfg *serverConfig) error {
	logger := newLogger(cfg.LogLevel)

	var staticCreds *zipstream.StaticCredentials
	if cfg.S3AccessKeyID != "" {
		staticCreds = &zipstream.StaticCredentials{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}
	}

	s3Client, err := zipstream.NewS3Client(ctx, zipstream.S3ClientConfig{
		Region:         cfg.S3Region,
		EndpointURL:    cfg.S3EndpointURL,
		UsePathStyle:   cfg.S3UsePathStyle,
		MaxAPIAttempts: cfg.S3MaxAPIAttempts,
		Credentials:    staticCreds,
	})
	if err != nil {
		return fmt.Errorf("building S3 client: %w", err)
	}

	backoff := zipstream.DefaultRetryBackoff
	backoff.MaxAttempts = cfg.BlobMaxAttempts
	store := &zipstream.RetryingBlobStore{
		Fetcher: &zipstream.S3RangeFetcher{Client: s3Client},
		Backoff: backoff,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	zipstream.RegisterMetrics(registry)

	h := &archiveHandler{store: store, logger: logger}

	router := mux.NewRouter()
	router.Handle("/archive", h).Methods(http.MethodPost, http.MethodHead)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           requestIDMiddleware(logger)(router),
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
		logger.Info("shutting down", "grace_period", cfg.ShutdownGracePeriod)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// archiveHandler decodes a manifest from the request body and streams the
// resulting archive back. The manifest travels as the POST body rather
// than being fetched from an upstream service, keeping this handler a
// thin adapter over zipstream.NewArchive/Archive.ServeHTTP.
type archiveHandler struct {
	store  zipstream.BlobStore
	logger *slog.Logger
}

const maxManifestBytes = 64 << 20

func (h *archiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", requestIDFromContext(r.Context()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes+1))
	if err != nil {
		logger.Error("reading manifest body", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxManifestBytes {
		http.Error(w, "manifest too large", http.StatusRequestEntityTooLarge)
		return
	}

	manifest, err := zipstream.DecodeManifest(body)
	if err != nil {
		logger.Warn("invalid manifest", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	archive, err := zipstream.NewArchive(manifest, h.store)
	if err != nil {
		logger.Error("building plan", "error", err, "filename", manifest.Filename)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	logger.Info("serving archive", "filename", manifest.Filename, "entries", len(manifest.Entries), "content_length", archive.ContentLength())
	archive.ServeHTTP(w, r)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware stamps every request with a UUID, logged alongside
// every message the handler emits for that request, so a fetch failure in
// the logs can be correlated back to one client request.
func requestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
