package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempograph/tempograph"
	"github.com/tempograph/tempograph/pkg/config"
	"github.com/tempograph/tempograph/pkg/embedder"
	"github.com/tempograph/tempograph/pkg/extract"
	"github.com/tempograph/tempograph/pkg/ingest"
	"github.com/tempograph/tempograph/pkg/logger"
	"github.com/tempograph/tempograph/pkg/resolver"
	"github.com/tempograph/tempograph/pkg/server"
	"github.com/tempograph/tempograph/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tempograph HTTP server",
	Long: `Start the tempograph HTTP server providing REST access to the engine:
episode ingestion, hybrid search, direct node and relationship CRUD, graph
statistics, and health checks.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Server host")
	serveCmd.Flags().Int("port", 0, "Server port")
	serveCmd.Flags().String("store-provider", "", "Store provider (memory, badger, neo4j)")
	serveCmd.Flags().String("store-path", "", "Badger data directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	engine, err := buildEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer engine.Close()

	srv := server.New(cfg, engine)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if provider, _ := cmd.Flags().GetString("store-provider"); provider != "" {
		cfg.Store.Provider = provider
	}
	if path, _ := cmd.Flags().GetString("store-path"); path != "" {
		cfg.Store.Path = path
	}
}

// buildEngine wires the engine from configuration: store backend, embedding
// client, and the extraction client wrapped with retries and, when enabled,
// a circuit breaker.
func buildEngine(cfg *config.Config, log *slog.Logger) (tempograph.Engine, error) {
	graphStore, err := store.New(store.Options{
		Provider: store.Provider(cfg.Store.Provider),
		Path:     cfg.Store.Path,
		URI:      cfg.Store.URI,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
		Database: cfg.Store.Database,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	var embedClient embedder.Client
	switch cfg.Embedding.Provider {
	case "local":
		embedClient = embedder.NewLocalClient(cfg.Embedding.Dimensions)
	default:
		embedClient = embedder.NewOpenAIClient(&embedder.Config{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		})
	}

	var extractor extract.Client = extract.NewOpenAIClient(&extract.Config{
		Model:       cfg.Extraction.Model,
		APIKey:      cfg.Extraction.APIKey,
		BaseURL:     cfg.Extraction.BaseURL,
		Temperature: cfg.Extraction.Temperature,
	})
	extractor = extract.NewRetryClient(extractor, &extract.RetryConfig{
		MaxRetries: cfg.Extraction.MaxRetries,
	})
	if cfg.CircuitBreaker.Enabled {
		extractor = extract.NewCircuitBreakerClient(extractor, extract.BreakerConfig{
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			ReadyToTripRatio: cfg.CircuitBreaker.ReadyToTripRatio,
		}, log)
	}

	return tempograph.NewClient(tempograph.Options{
		Store:     graphStore,
		Extractor: extractor,
		Embedder:  embedClient,
		Resolver: resolver.Config{
			MergeThreshold: cfg.Resolver.MergeThreshold,
			AmbiguityBand:  cfg.Resolver.AmbiguityBand,
			CandidateLimit: cfg.Resolver.CandidateLimit,
		},
		Ingest: ingest.Config{
			MaxConcurrent:  cfg.Ingest.MaxConcurrent,
			ExtractTimeout: time.Duration(cfg.Extraction.TimeoutSec) * time.Second,
		},
		Logger: log,
	})
}
