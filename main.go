// Aitinerary transcript acquisition service.
//
// Retrieves YouTube transcript text for the itinerary pipeline through a
// tiered fallback chain: direct requests, a rotating pool of scored free
// proxies, then operator-configured manual proxies. Exposes the acquisition
// API and proxy-pool observability over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/joho/godotenv"

	"github.com/rick30-8-2024/Aitinerary/internal/proxy"
	"github.com/rick30-8-2024/Aitinerary/internal/server"
	"github.com/rick30-8-2024/Aitinerary/internal/youtube"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", slog.Any("error", err))
	}

	port := env.Str("PORT", "8000")
	svc := initService()
	svc.Start(context.Background())
	defer svc.Stop()

	slog.Info("starting aitinerary transcript service",
		slog.String("version", version),
		slog.String("port", port),
	)

	e := server.New(svc)

	go func() {
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", slog.Any("error", err))
	}
}

func initService() *youtube.Service {
	var free *proxy.FreeSource
	if env.Bool("USE_FREE_PROXIES", true) {
		free = proxy.NewFreeSource(proxy.FreeSourceConfig{
			ListingURL:      env.Str("FREE_PROXY_LISTING_URL", proxy.DefaultListingURL),
			RefreshInterval: env.Duration("FREE_PROXY_REFRESH_INTERVAL", 5*time.Minute),
			MinPoolSize:     env.Int("FREE_PROXY_MIN_POOL_SIZE", 5),
			ListingTimeout:  env.Duration("FREE_PROXY_TIMEOUT", 10*time.Second),
			Anonymity:       env.Str("FREE_PROXY_ANONYMITY", "elite"),
		})
		slog.Info("free proxy pool enabled")
	}

	manual := proxy.NewManualRegistry(env.List("PROXY_LIST", ""))
	if manual.Len() > 0 {
		slog.Info("manual proxies configured", slog.Int("count", manual.Len()))
	}

	var cache *youtube.Cache
	if env.Bool("TRANSCRIPT_CACHE_ENABLED", true) {
		cache = youtube.NewCache(
			env.Str("REDIS_URL", ""),
			env.Duration("TRANSCRIPT_CACHE_TTL", time.Hour),
			env.Int("TRANSCRIPT_CACHE_MAX_ENTRIES", 1000),
			env.Duration("TRANSCRIPT_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		)
	}

	return youtube.NewService(youtube.Config{
		Pools:            proxy.NewManager(free, manual),
		Cache:            cache,
		MaxManualRetries: env.Int("YOUTUBE_MAX_RETRIES", 3),
		AttemptTimeout:   env.Duration("YOUTUBE_PROXY_TIMEOUT", 30*time.Second),
		DelayMin:         env.Duration("REQUEST_DELAY_MIN", time.Second),
		DelayMax:         env.Duration("REQUEST_DELAY_MAX", 3*time.Second),
		MaxConcurrent:    int64(env.Int("MAX_CONCURRENT_FETCHES", 4)),
		UpstreamRPS:      env.Float("UPSTREAM_RPS", 2),
		HTTPClient: &http.Client{
			Timeout: env.Duration("YOUTUBE_PROXY_TIMEOUT", 30*time.Second),
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	})
}
