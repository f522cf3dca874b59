// Thyme server: website health surveillance through scheduled scans, the
// weekly sweep, the review API and the read endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/thymehq/thyme/pkg/agent"
	"github.com/thymehq/thyme/pkg/api"
	"github.com/thymehq/thyme/pkg/auth"
	"github.com/thymehq/thyme/pkg/config"
	"github.com/thymehq/thyme/pkg/database"
	"github.com/thymehq/thyme/pkg/inventory"
	"github.com/thymehq/thyme/pkg/llm"
	"github.com/thymehq/thyme/pkg/metrics"
	"github.com/thymehq/thyme/pkg/scan"
	"github.com/thymehq/thyme/pkg/services"
	"github.com/thymehq/thyme/pkg/signalbus"
	"github.com/thymehq/thyme/pkg/sources"
	"github.com/thymehq/thyme/pkg/store"
	"github.com/thymehq/thyme/pkg/weekly"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	tuningPath := flag.String("tuning", "thyme.yaml", "Path to tuning file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*tuningPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Starting thyme", "http_port", cfg.HTTPPort, "model", cfg.OpenAIModel)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	stores := store.New(dbClient)
	bus := signalbus.New(stores.Signals, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Source adapters behind the shared token broker.
	broker := auth.NewBroker(stores.Credentials, cfg.GoogleClientID, cfg.GoogleClientSecret)
	ga4 := sources.NewGA4Client(broker, cfg.GA4PropertyID)
	gsc := sources.NewGSCClient(broker, cfg.GSCSiteURL)
	pagespeed := sources.NewPageSpeedClient(cfg.PageSpeedKey)
	hubspot := sources.NewHubSpotClient(cfg.HubSpotToken)
	linker := sources.NewLinkChecker(cfg.SiteOrigin)

	chat := llm.New(cfg.OpenAIKey, cfg.OpenAIModel)

	syncer := inventory.NewSyncer(stores.Pages, hubspot, linker, logger,
		cfg.Tuning.CMSUpdateParallel, cfg.Tuning.InsertChunkSize,
		cfg.Tuning.FormDetectParallel)
	writer := services.NewFindingWriter(stores, bus, logger)
	review := services.NewReviewService(stores, logger)
	sweeper := services.NewSweeper(stores, logger)

	evaluator := agent.NewGuardrailEvaluator(stores.Guardrails, logger)
	tools := agent.NewToolset(ga4, gsc, pagespeed, hubspot, stores.Pages, bus, evaluator)
	investigator := agent.NewInvestigator(chat, tools, writer, stores.Findings,
		logger, cfg.Tuning.MaxToolCalls, cfg.Tuning.MaxAgentDuration)

	scanner := scan.New(stores, broker, ga4, gsc, pagespeed, linker, syncer,
		investigator, sweeper, bus, cfg.Tuning, m, logger)
	weeklyRunner := weekly.New(stores, broker, ga4, gsc, hubspot, linker, chat,
		bus, cfg.Tuning, m, logger)

	server := api.NewServer(stores, dbClient, scanner, weeklyRunner, review,
		cfg.CronSecret, registry, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}
