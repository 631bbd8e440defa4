package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collab-project/collab"
	"collab-project/config"
	"collab-project/crdt"
	"collab-project/db"
	"collab-project/handlers"
	"collab-project/history"
	"collab-project/logger"
	"collab-project/metrics"
	"collab-project/registry"
	"collab-project/repository"
	"collab-project/routers"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "collabd",
		Short:         "Collaborative document server with checkpoint history",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Println("collabd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load config
	v, cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Logger.Sync()

	config.Watch(v, func(c *config.Config) {
		if err := logger.SetLevel(c.Log.Level); err != nil {
			logger.Logger.Warn("Ignoring invalid log level", zap.String("level", c.Log.Level))
			return
		}
		logger.Logger.Info("Config reloaded", zap.String("log_level", logger.Level()))
	}, func(err error) {
		logger.Logger.Warn("Ignoring invalid config change", zap.Error(err))
	})

	logger.Logger.Info("Starting collab server...", zap.String("environment", cfg.Environment))

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Error("Failed to open leveldb", zap.Error(err))
		return err
	}
	defer ldb.Close()

	// Initialize repository
	docRepo := repository.NewDocumentRepository(ldb)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	docs := registry.New()
	metrics.RegisterDocumentCount(promRegistry, docs.Count)

	codec := crdt.JSONCodec{}
	engine := history.NewEngine(docs, codec, m, history.Config{
		MaxCheckpoints:  cfg.History.MaxCheckpoints,
		CheckpointEvery: cfg.History.CheckpointEvery,
		MaxSnapshots:    cfg.History.MaxSnapshots,
	})
	hub := collab.NewHub(docs, codec, docRepo, engine, m, cfg.Collab.PersistDebounce)
	engine.SetNotifier(hub)

	// Initialize HTTP handlers
	h := handlers.NewHandler(engine, docRepo, docs)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)
	routers.RegisterCollab(r, hub)
	routers.RegisterMetrics(r, metrics.Handler(promRegistry))

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	hub.Close()
	return nil
}
