package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphmill/graphmill/pkg/api"
	"github.com/graphmill/graphmill/pkg/build"
	"github.com/graphmill/graphmill/pkg/builder"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/events"
	"github.com/graphmill/graphmill/pkg/hooks"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/parser"
	"github.com/graphmill/graphmill/pkg/ratelimit"
	"github.com/graphmill/graphmill/pkg/retry"
	"github.com/graphmill/graphmill/pkg/storage"
	"github.com/graphmill/graphmill/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphmill",
	Short: "Graphmill - versioned knowledge graph build server",
	Long: `Graphmill turns source documents into a versioned knowledge graph:
it extracts atomic facts with an LLM, assembles and merges entities and
relationships, and serves the result from Neo4j behind an HTTP API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Graphmill version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)
		logger := log.WithComponent("main")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		client, err := storage.NewClient(ctx, cfg.Neo4j)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		stateStore := storage.NewStateStore(client, types.GraphNameDefault)
		graphStore := storage.NewGraphStore(client, types.GraphNameDefault)
		if err := stateStore.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := stateStore.RecoverIfInterrupted(ctx); err != nil {
			return err
		}
		logger.Info().Msg("Schema ensured and state recovered")

		provider, err := hooks.New(cfg.Hooks)
		if err != nil {
			return err
		}
		if init, ok := provider.(hooks.Initializer); ok {
			if err := init.Init(ctx); err != nil {
				return err
			}
		}

		throttled := buildParser(cfg)
		graphBuilder := builder.New(throttled, builderOptions(cfg))

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		stopEventLog := events.LogEvents(broker, log.WithComponent("events"))
		defer stopEventLog()

		buildService := build.NewService(cfg, stateStore, graphStore, provider, graphBuilder, throttled, broker)
		server := api.NewServer(cfg, stateStore, graphStore, buildService)

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-errCh:
			return err
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the Neo4j constraints and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)

		ctx := cmd.Context()
		client, err := storage.NewClient(ctx, cfg.Neo4j)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		if err := storage.NewStateStore(client, types.GraphNameDefault).EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Schema ensured")
		return nil
	},
}

func initLogging(cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
}

func buildParser(cfg *config.Config) *parser.Throttled {
	chat := llm.NewOpenAIChat(cfg.LLM)
	embeddings := llm.NewOpenAIEmbeddings(cfg.Embeddings)
	tokens := llm.NewTokenCounter()

	return parser.New(
		chat,
		embeddings,
		tokens,
		ratelimit.New(cfg.LLM.RateLimit.RPM, cfg.LLM.RateLimit.TPM),
		ratelimit.New(cfg.Embeddings.RateLimit.RPM, cfg.Embeddings.RateLimit.TPM),
		retryPolicy(cfg.LLM.Retry),
		retryPolicy(cfg.Embeddings.Retry),
		cfg.LLM.Concurrency.MaxInFlight,
		cfg.Embeddings.Concurrency.MaxInFlight,
		parser.Options{
			MaxElementsPerBatch: cfg.LLM.MaxElementsPerBatch,
			MaxTokensPerBatch:   cfg.LLM.MaxTokensPerBatch,
			MaxPendingRequests:  cfg.LLM.MaxPendingRequests,
			SleepBetweenBatches: time.Duration(cfg.LLM.SleepBetweenBatchSec * float64(time.Second)),
		},
	)
}

func retryPolicy(cfg config.Retry) retry.Policy {
	return retry.Policy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: time.Duration(cfg.InitialBackoffSec * float64(time.Second)),
		MaxBackoff:     time.Duration(cfg.MaxBackoffSec * float64(time.Second)),
		Multiplier:     cfg.BackoffMultiplier,
	}
}

func builderOptions(cfg *config.Config) builder.Options {
	return builder.Options{
		EntThreshold:                  cfg.Atom.EntThreshold,
		RelThreshold:                  cfg.Atom.RelThreshold,
		EntityNameWeight:              cfg.Atom.EntityNameWeight,
		EntityLabelWeight:             cfg.Atom.EntityLabelWeight,
		MaxWorkers:                    cfg.Atom.MaxWorkers,
		RequireSameEntityLabel:        cfg.RequireSameEntityLabel(),
		RenameRelationshipByEmbedding: cfg.RenameRelationshipByEmbedding(),
		LabelAllowlist:                cfg.Ontology.EntityLabel.Allowlist,
		LabelAliases:                  cfg.Ontology.EntityLabel.Aliases,
		UnknownLabel:                  cfg.Ontology.EntityLabel.UnknownLabel,
		DropUnknown:                   cfg.Ontology.EntityLabel.DropUnknown,
		RelationFallbackName:          cfg.Output.RelationFallbackName,
		OutputLanguage:                cfg.Output.Language,
		EntityNameMode:                cfg.Output.EntityNameMode,
	}
}
