// Command compass-server runs the clinical trial navigator API: REST session
// management plus the conversational WebSocket.
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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"compass/internal/agent"
	"compass/internal/agent/ports"
	"compass/internal/fda"
	"compass/internal/geo"
	"compass/internal/llm"
	"compass/internal/metrics"
	"compass/internal/report"
	"compass/internal/server"
	"compass/internal/session/filestore"
	"compass/internal/shared/config"
	"compass/internal/shared/logging"
	"compass/internal/trials"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:          "compass-server",
		Short:        "Clinical trial navigator API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to config file (optional)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("Server")

	if cfg.AnthropicAPIKey == "" {
		return errors.New("anthropic API key is required (COMPASS_ANTHROPIC_API_KEY)")
	}

	store := filestore.New(cfg.SessionsDir)
	m := metrics.Default()

	renderer, err := report.NewRenderer()
	if err != nil {
		return fmt.Errorf("build report renderer: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	deps := agent.Collaborators{
		Store:    store,
		Trials:   trials.NewClient(logging.NewComponentLogger("TrialRegistry"), trials.WithHTTPClient(httpClient)),
		Drugs:    fda.NewClient(cfg.OpenFDAAPIKey, logging.NewComponentLogger("FDA"), fda.WithHTTPClient(httpClient)),
		Geocoder: geo.NewClient(logging.NewComponentLogger("Geocoder"), geo.WithHTTPClient(httpClient)),
		Reporter: renderer,
		PDF:      report.NewChromiumPDF(logging.NewComponentLogger("PDF")),
		Logger:   logging.NewComponentLogger("Orchestrator"),
		Metrics:  m,
	}

	policy := agent.Policy{
		Model:                     cfg.Model,
		MaxTokens:                 cfg.MaxTokens,
		Temperature:               cfg.Temperature,
		MaxIterations:             cfg.MaxIterations,
		HeartbeatInterval:         cfg.HeartbeatInterval(),
		CompactionThreshold:       cfg.CompactionThreshold,
		IntakeCompactionThreshold: cfg.IntakeCompactionThreshold,
		CompactionTail:            cfg.CompactionTail,
	}

	newClient := func() ports.StreamingLLMClient {
		return llm.EnsureStreaming(llm.NewAnthropicClient(cfg.Model, llm.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Logger:  logging.NewComponentLogger("Anthropic"),
		}))
	}
	registry := agent.NewRegistry(
		agent.BuildFactory(newClient, policy, deps),
		cfg.OrchestratorIdleTimeout(),
		logging.NewComponentLogger("Registry"),
		m,
	)
	defer registry.Close()

	srv := server.New(store, registry, deps.PDF, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
