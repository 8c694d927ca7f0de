package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadsight/roadsight/internal/api/handlers"
	"github.com/roadsight/roadsight/internal/api/middleware"
	"github.com/roadsight/roadsight/internal/config"
	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/embeddings"
	"github.com/roadsight/roadsight/internal/repository"
	"github.com/roadsight/roadsight/internal/service"
	"github.com/roadsight/roadsight/internal/storage"
)

const queryCacheSize = 256

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg    *config.Config
	db     *pgxpool.Pool
	server *http.Server
}

// NewApp builds and wires all components. It does not start the HTTP server;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	detector, err := detect.NewDetector(ctx, cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	embedder, err := embeddings.NewClient(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	imageStore, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("create image store: %w", err)
	}

	queryCache, err := lru.New[string, []float32](queryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	pipeline := service.NewPipelineService(service.PipelineServiceParams{
		Detector:   detector,
		Embedder:   embedder,
		Records:    repository.NewDamageRecordsRepository(db),
		Vectors:    repository.NewVectorsRepository(db),
		Images:     imageStore,
		QueryCache: queryCache,
	})

	damagesHandler := handlers.NewDamagesHandler(pipeline)
	feedbackHandler := handlers.NewFeedbackHandler(pipeline)
	healthHandler := handlers.NewHealthHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Check)
	mux.HandleFunc("POST /api/detect", damagesHandler.Detect)
	mux.HandleFunc("GET /api/similar/{id}", damagesHandler.Similar)
	mux.HandleFunc("GET /api/search", damagesHandler.Search)
	mux.HandleFunc("POST /api/feedback", feedbackHandler.Submit)
	mux.HandleFunc("GET /api/stats", feedbackHandler.Stats)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	var handler http.Handler = mux
	handler = middleware.MaxBody(cfg.MaxUploadBytes)(handler)
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  2 * time.Minute, // vision model calls are slow; upload reads may interleave with them
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &App{cfg: cfg, db: db, server: server}, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server exited")

	return nil
}
