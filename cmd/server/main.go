package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-tag/app/api"
	"github.com/lysyi3m/rss-tag/app/cfg"
	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/external"
	"github.com/lysyi3m/rss-tag/app/feed"
	"github.com/lysyi3m/rss-tag/app/metrics"
	"github.com/lysyi3m/rss-tag/app/provider"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogging(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Tag server", "version", appCfg.Version)

	settings, err := tasks.LoadSettings(appCfg.SettingsFile)
	if err != nil {
		return err
	}
	graph, err := tasks.NewGraph(settings.Successors)
	if err != nil {
		return err
	}

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	taskRepo := database.NewTaskRepository(db)
	itemRepo := database.NewItemRepository(db)
	userRepo := database.NewUserRepository(db)
	contentRepo := database.NewContentRepository(db)
	tokenRepo := database.NewTokenRepository(db)

	collector := metrics.NewCollector()
	store := tasks.NewStore(taskRepo, itemRepo, userRepo, graph, settings)

	httpClient := &http.Client{Timeout: time.Duration(appCfg.FetchTimeout) * time.Second}
	rss := provider.NewRSS(contentRepo, httpClient, feed.NewParser(), appCfg.UserAgent,
		time.Duration(appCfg.FetchTimeout)*time.Second)

	registry := tasks.NewRegistry()
	if err := tasks.RegisterDefaultHandlers(registry, itemRepo, contentRepo, map[string]tasks.Provider{
		provider.NameRSS: rss,
	}); err != nil {
		return err
	}

	dispatcher := tasks.NewDispatcher(store, registry, userRepo, settings, appCfg.WorkerCount, collector)
	dispatcher.Start()
	defer dispatcher.Stop()

	externalService := external.NewService(store, taskRepo, itemRepo, settings, collector)
	handler := api.NewHandler(store, userRepo, tokenRepo, taskRepo, externalService)
	server := api.NewServer(handler, appCfg.APIAccessKey, collector.Handler())

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "admin_api", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Dispatcher and database are closed via defer
	return nil
}
