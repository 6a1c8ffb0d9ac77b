package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/classifier"
	"github.com/example/nandivision/internal/config"
	"github.com/example/nandivision/internal/handlers"
	"github.com/example/nandivision/internal/preview"
	"github.com/example/nandivision/internal/session"
)

var (
	serveAddr          string
	serveClassifierURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP front end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		if serveClassifierURL != "" {
			cfg.ClassifierURL = serveClassifierURL
		}
		return runServer(commandContext(cmd), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "overrides HTTP_ADDR")
	serveCmd.Flags().StringVar(&serveClassifierURL, "classifier-url", "", "overrides CLASSIFIER_URL")
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	catalog, err := breeds.Load(startCtx, breeds.Source{File: cfg.BreedsFile, DatabaseDSN: cfg.BreedsDatabaseDSN}, logger)
	if err != nil {
		return fmt.Errorf("load breed dictionary: %w", err)
	}

	previews, closePreviews, err := initPreviewStore(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePreviews()

	client := classifier.NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
	if err := client.Ping(startCtx); err != nil {
		logger.Warn("classification service not reachable yet", zap.String("url", cfg.ClassifierURL), zap.Error(err))
	}

	registry := session.NewRegistry(session.Dependencies{
		Previews:   previews,
		Classifier: client,
		Catalog:    catalog,
		Logger:     logger,
	}, session.WithIdleTimeout(cfg.SessionIdleTimeout), session.WithMaxSessions(cfg.MaxSessions))
	defer registry.CloseAll(context.Background())

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go registry.Run(janitorCtx, cfg.SessionSweepInterval)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: newRouter(registry, previews, catalog, logger),
	}

	logger.Info("nandivision listening", zap.String("addr", cfg.HTTPAddr), zap.String("classifier_url", cfg.ClassifierURL))
	return serveUntilSignal(server, nil, nil, cfg.ShutdownTimeout, logger)
}

func newRouter(registry *session.Registry, previews preview.Store, catalog *breeds.Catalog, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Sessions: registry,
		Previews: previews,
		Catalog:  catalog,
		Logger:   logger,
	})
	return r
}

func initPreviewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (preview.Store, func(), error) {
	if cfg.PreviewStore != config.PreviewStoreRedis {
		return preview.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("preview store ready", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
	return preview.NewRedisStore(client, cfg.PreviewTTL, logger), func() { client.Close() }, nil
}

// serveUntilSignal serves on listener (or server.Addr when nil) until the
// server fails or a value arrives on stop, then drains in-flight requests
// for at most shutdownTimeout. A nil stop channel listens for SIGINT and
// SIGTERM.
func serveUntilSignal(server *http.Server, listener net.Listener, stop <-chan os.Signal, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if listener == nil {
		l, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
		listener = l
	}
	if stop == nil {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		stop = signals
	}

	served := make(chan error, 1)
	go func() { served <- ignoreServerClosed(server.Serve(listener)) }()

	select {
	case err := <-served:
		return err
	case sig, ok := <-stop:
		reason := "stop channel closed"
		if ok && sig != nil {
			reason = sig.String()
		}
		logger.Info("shutting down", zap.String("reason", reason), zap.Duration("timeout", shutdownTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return <-served
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
