package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/fileupload/pkg/fileupload"
)

func serveCmd() *cobra.Command {
	var (
		addr           string
		dir            string
		maxFileSize    int64
		maxRequestSize int64
		logJSON        bool
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload daemon",
		Long: `Start the HTTP server.

Routes:
  POST /uploads              allocate an upload slot
  POST /fileupload           upload endpoint (processId + token required)
  GET  /fileupload/progress  WebSocket progress feed (processId required)
  GET  /metrics              Prometheus metrics
  GET  /healthz              liveness probe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logJSON, logLevel)
			return runServe(cmd.Context(), logger, serveOptions{
				addr:           addr,
				dir:            dir,
				maxFileSize:    maxFileSize,
				maxRequestSize: maxRequestSize,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&dir, "dir", "", "Upload spool directory (default: system temp dir)")
	cmd.Flags().Int64Var(&maxFileSize, "max-file-size", fileupload.Unlimited, "Maximum upload file size in bytes (-1: unlimited)")
	cmd.Flags().Int64Var(&maxRequestSize, "max-request-size", fileupload.Unlimited, "Maximum upload request size in bytes (-1: unlimited)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

type serveOptions struct {
	addr           string
	dir            string
	maxFileSize    int64
	maxRequestSize int64
}

func runServe(ctx context.Context, logger *slog.Logger, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scope := fileupload.NewScope(logger)
	defer scope.Close()

	receiver, err := fileupload.NewDiskReceiver(opts.dir, scope.Cleaner())
	if err != nil {
		return err
	}

	metrics := fileupload.NewMetrics(fileupload.MetricsConfig{})

	handler := fileupload.NewHandler(scope, receiver,
		fileupload.WithLogger(logger),
		fileupload.WithMetrics(metrics),
		fileupload.WithTracing("uploadd"),
	)
	handler.Config().SetMaxFileSize(opts.maxFileSize)
	handler.Config().SetMaxRequestSize(opts.maxRequestSize)
	defer handler.Dispose()

	socket := fileupload.NewProgressSocket(scope,
		fileupload.WithSocketLogger(logger))

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/uploads", allocateHandler(handler))
	r.Handle("/fileupload", handler)
	r.Handle("/fileupload/progress", socket)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("upload daemon listening",
			"addr", opts.addr,
			"spool_dir", receiver.Dir())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// allocateHandler mints a fresh process id, authorizes it with the upload
// handler, and returns the URLs the client needs.
func allocateHandler(handler *fileupload.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processID := newProcessID()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"processId":   processID,
			"uploadUrl":   handler.UploadURL(processID),
			"progressUrl": "/fileupload/progress?processId=" + processID,
		})
	}
}

func newProcessID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func newLogger(jsonFormat bool, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
