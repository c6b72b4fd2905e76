// MIT License
//
// Copyright (c) 2026 Kolin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"leakfinder/internal/api"
	"leakfinder/internal/api/handlers"
	"leakfinder/internal/banner"
	"leakfinder/internal/cache"
	"leakfinder/internal/config"
	"leakfinder/internal/database"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/enrichment"
	"leakfinder/internal/hibp"
	"leakfinder/internal/reconcile"
	"leakfinder/internal/scan"
	"leakfinder/internal/shodan"
	"leakfinder/internal/threatmap"
	"leakfinder/internal/ticker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", logger.Args("error", err))
	}

	cfg, err := config.New(os.Getenv(config.OverlayEnv), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", logger.Args("error", err))
	}
	logger = logger.WithLevel(parseLogLevel(cfg.String(config.LogLevel)))
	if cfg.String(config.LogLevel) != "debug" && cfg.String(config.LogLevel) != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	breachClient := hibp.NewClientFromConfig(cfg, logger)
	banner.Print(!breachClient.Configured())

	if cfg.OverlayPath() != "" {
		watcher, err := cfg.Watch()
		if err != nil {
			logger.Warn("Config hot reload unavailable", logger.Args("error", err))
		} else {
			defer watcher.Close()
		}
	}

	dbPath := cfg.String(config.SQLitePath)
	db, err := database.NewConnection(&database.Config{Path: dbPath}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", logger.Args("path", dbPath, "error", err))
	}
	defer database.Close(db)

	geoip := enrichment.NewGeoIPEnricher(
		cfg.String(config.GeoIPCityPath),
		cfg.String(config.GeoIPCountryPath),
		cfg.String(config.GeoIPASNPath),
		logger, 0)
	defer geoip.Close()

	pointCache, cacheBackend := newCache(cfg, logger)
	if closer, ok := pointCache.(io.Closer); ok {
		defer closer.Close()
	}

	identities := repositories.NewIdentityRepository(db)
	breaches := repositories.NewBreachRecordRepository(db)
	hosts := repositories.NewHostFindingRepository(db)
	stats := repositories.NewStatsRepository(db, logger)

	registry := threatmap.NewRegistry(logger)
	registry.Register("cloudflare", threatmap.NewCloudflareProviderFromConfig(cfg, logger))
	registry.Register("findings", threatmap.NewFindingsProvider(hosts, logger))
	fetcher := threatmap.NewFetcher(cfg, registry, pointCache, logger)

	scans := scan.NewService(identities,
		breachClient,
		shodan.NewClientFromConfig(cfg, logger),
		reconcile.NewBreachReconciler(breaches, logger),
		reconcile.NewHostReconciler(hosts, geoip, logger),
		logger)

	cleanup := database.NewCleanupService(db, logger,
		cfg.Int(config.HostRetentionDays), time.Hour, cfg.String(config.CleanupTime), cfg.Bool(config.VacuumEnabled))
	cleanup.Start()
	defer cleanup.Stop()

	router := api.NewRouter(api.Handlers{
		Identity: handlers.NewIdentityHandler(identities, breaches, scans, logger),
		Host:     handlers.NewHostHandler(hosts, scans, logger),
		Feeds:    handlers.NewFeedHandler(ticker.NewAggregatorFromConfig(cfg, logger), fetcher),
		System: handlers.NewSystemHandler(db, stats, handlers.SystemInfo{
			DatabasePath:       dbPath,
			CacheBackend:       cacheBackend,
			ThreatmapProviders: registry.Names(),
			GeoIPEnabled:       geoip.IsEnabled(),
			BreachDemoMode:     !breachClient.Configured(),
			Cleanup:            cleanup,
		}, logger),
		Dashboard: handlers.NewDashboardHandler(stats, logger),
	}, logger)

	server := &http.Server{
		Addr:              cfg.String(config.ListenAddr),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// scans wait on upstream APIs with their own timeouts and retries
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("HTTP server listening", logger.Args("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", logger.Args("error", err))
		}
	}()

	waitForShutdown(logger, server)
}

func newCache(cfg *config.Accessor, logger *pterm.Logger) (cache.Cache, string) {
	addr := cfg.String(config.RedisAddr)
	if addr == "" {
		return cache.NewMemoryCache(0), "memory"
	}
	rc, err := cache.NewRedisCache(context.Background(), addr, "leakfinder:")
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", logger.Args("addr", addr, "error", err))
		return cache.NewMemoryCache(0), "memory"
	}
	logger.Info("Using Redis cache", logger.Args("addr", addr))
	return rc, "redis"
}

func parseLogLevel(s string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}

func waitForShutdown(logger *pterm.Logger, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Info("Received shutdown signal", logger.Args("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithCaller().Error("Failed to shutdown server gracefully", logger.Args("error", err))
		} else {
			logger.Info("Server shutdown completed")
		}
	}
}
