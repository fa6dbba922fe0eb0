// Package server wires configuration into the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rpattn/driftetl/internal/config"
	"github.com/rpattn/driftetl/internal/db"
	"github.com/rpattn/driftetl/internal/export"
	"github.com/rpattn/driftetl/internal/extract"
	"github.com/rpattn/driftetl/internal/ingestion"
	"github.com/rpattn/driftetl/internal/middleware"
	"github.com/rpattn/driftetl/internal/repository"
	"github.com/rpattn/driftetl/internal/schema"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server owns the HTTP server and the resources behind it.
type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	http    *http.Server
	conn    *db.Connection
	service *ingestion.Service
}

// New builds the services, optionally connects the audit journal, and
// mounts every route.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{cfg: cfg, logger: logger}

	exporter, err := newExporter(ctx, cfg.Export, logger)
	if err != nil {
		return nil, err
	}

	opts := []ingestion.Option{
		ingestion.WithLogger(logger),
		ingestion.WithExporter(exporter),
		ingestion.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		ingestion.WithJobRetention(cfg.Server.JobRetention),
	}
	if cfg.Database.Enabled {
		conn, err := connectJournal(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		srv.conn = conn
		opts = append(opts,
			ingestion.WithSchemaJournal(repository.NewSchemaVersionRepository(conn.Pool)),
			ingestion.WithIngestionLog(repository.NewIngestionLogRepository(conn.Pool)),
		)
	}

	store := schema.NewStore(logger.Named("schema"))
	parser := extract.NewParser(cfg.Parser.Extract(), logger.Named("extract"))
	srv.service = ingestion.NewService(parser, store, opts...)

	restored, err := srv.service.RestoreSchemas(ctx)
	if err != nil {
		srv.Close()
		return nil, err
	}
	if restored > 0 {
		logger.Info("schema store restored from journal", zap.Int("versions", restored))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)
	schema.NewHTTPHandler(store).Register(mux)
	ingestion.NewHTTPHandler(srv.service, exporter).Register(mux)
	export.NewHTTPHandler(exporter, srv.service).Register(mux)

	srv.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.wrap(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) wrap(next http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	limited := middleware.RateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst)(next)
	return corsHandler.Handler(middleware.LoggingMiddleware(s.logger.Named("http"))(limited))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"database": "disabled",
		"stats":    s.service.Stats(),
	}
	code := http.StatusOK
	if s.conn != nil {
		if err := s.conn.Pool.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}
	writeJSON(w, code, status)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}

// Close releases the database pool.
func (s *Server) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func connectJournal(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*db.Connection, error) {
	dbConfig := cfg.DB()
	if err := db.RunMigrations(dbConfig, logger.Named("migrate")); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	conn, err := db.NewConnection(ctx, dbConfig, logger.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func newExporter(ctx context.Context, cfg config.ExportConfig, logger *zap.Logger) (*export.Service, error) {
	opts := []export.Option{export.WithDownloadTokenTTL(cfg.DownloadTokenTTL)}

	switch {
	case cfg.Minio.Enabled:
		sink, err := export.NewMinioSink(cfg.Minio.Sink())
		if err != nil {
			return nil, fmt.Errorf("failed to create minio sink: %w", err)
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare bucket %s: %w", cfg.Minio.Bucket, err)
		}
		logger.Info("exporting artifacts to minio", zap.String("endpoint", cfg.Minio.Endpoint), zap.String("bucket", cfg.Minio.Bucket))
		opts = append(opts, export.WithSink(sink))
	case cfg.Dir != "":
		sink, err := export.NewDirSink(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create export dir sink: %w", err)
		}
		logger.Info("exporting artifacts to directory", zap.String("dir", sink.Dir()))
		opts = append(opts, export.WithSink(sink))
	default:
		logger.Info("artifact storage disabled, outputs are returned inline only")
	}
	return export.NewService(opts...), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
