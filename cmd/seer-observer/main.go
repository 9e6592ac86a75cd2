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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seerstack/seer-observer/internal/api"
	"github.com/seerstack/seer-observer/internal/audit"
	"github.com/seerstack/seer-observer/internal/cache"
	"github.com/seerstack/seer-observer/internal/config"
	"github.com/seerstack/seer-observer/internal/detect"
	"github.com/seerstack/seer-observer/internal/metrics"
	"github.com/seerstack/seer-observer/internal/monitor"
	"github.com/seerstack/seer-observer/internal/registry"
	"github.com/seerstack/seer-observer/internal/repo"
	"github.com/seerstack/seer-observer/internal/services"
	"github.com/seerstack/seer-observer/internal/utils"
	"github.com/seerstack/seer-observer/internal/workflow"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting seer-observer", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		provider := cache.NewMemoryProvider()
		cacheProvider = provider
		defer provider.Close()
	}

	metricsClient := repo.NewMetricsClient(
		cfg.Clients.Metrics.BaseURL,
		cfg.Clients.Metrics.SeriesPath,
		cfg.Clients.Metrics.WindowPath,
		cfg.Clients.Metrics.IngestPath,
		cfg.Clients.Metrics.Timeout,
		cacheProvider,
		cfg.Cache.SeriesTTL,
	)

	store := repo.NewMemoryStore()
	reg := registry.New(store, logger)
	activityLog := audit.NewLog(store, logger)

	ruleEngine, err := workflow.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	var suspects workflow.SuspectSource
	if cfg.Clients.Commits.BaseURL != "" {
		commits := repo.NewCommitsClient(
			cfg.Clients.Commits.BaseURL,
			cfg.Clients.Commits.Path,
			cfg.Clients.Commits.Token,
			cfg.Clients.Commits.Timeout,
		)
		suspects = detect.NewCommitCorrelator(commits, logger)
	}

	clients := workflow.Collaborators{
		CodeSearch: repo.NewCodeSearchClient(cfg.Clients.CodeSearch.BaseURL, cfg.Clients.CodeSearch.Path, cfg.Clients.CodeSearch.Timeout),
		Fixer:      repo.NewFixClient(cfg.Clients.Fix.BaseURL, cfg.Clients.Fix.Path, cfg.Clients.Fix.Timeout),
		PRs:        repo.NewPRClient(cfg.Clients.PR.BaseURL, cfg.Clients.PR.Path, cfg.Clients.PR.Timeout),
		Notifier:   repo.NewNotifyClient(cfg.Clients.Notify.BaseURL, cfg.Clients.Notify.Path, cfg.Clients.Notify.Timeout),
		Suspects:   suspects,
	}
	if cfg.Clients.Ticket.Enabled {
		clients.Ticketer = repo.NewTicketClient(cfg.Clients.Ticket.BaseURL, cfg.Clients.Ticket.Path, cfg.Clients.Ticket.Timeout)
	}

	orchestrator := workflow.NewOrchestrator(store, reg, ruleEngine, clients, activityLog, cfg.Monitor.StepTimeout, logger)

	detector := detect.NewDetector(
		metricsClient,
		cfg.Monitor.Environment,
		cfg.Monitor.BaselineWindow,
		cfg.Monitor.CurrentWindow,
		logger,
	)
	engine := monitor.NewEngine(detector, orchestrator, cfg.Monitor.Interval, logger)

	service := services.NewObserverService(logger, engine, orchestrator, reg, store, activityLog, suspects, metricsClient)
	service.StartMonitoring()

	server := api.NewServer(cfg.Server, api.NewRouter(service, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	service.StopMonitoring()
	orchestrator.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("seer-observer stopped")
}
