package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"calmerge/internal/aggregate"
	"calmerge/internal/clock"
	"calmerge/internal/config"
	"calmerge/internal/feed"
	appLog "calmerge/internal/log"
	"calmerge/internal/spec"
	"calmerge/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	appLog.Info("calmerge starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if l, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(l)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"default_specification", conf.DefaultSpecification,
		"cache_ttl_seconds", conf.CacheTTLSeconds,
		"fetch_timeout_seconds", conf.FetchTimeoutSeconds,
		"max_feeds", conf.MaxFeeds,
		"purge_cron", conf.PurgeCron,
	)

	defaults, err := spec.LoadDefaults(conf.DefaultSpecification)
	if err != nil {
		appLog.Error("failed to load default specification", err, "path", conf.DefaultSpecification)
		os.Exit(1)
	}

	clk := clock.NewSystem()
	cache := feed.NewCache(clk)
	fetcher := feed.NewFetcher(conf.FetchTimeout())
	resolver := spec.NewResolver(defaults, cache, fetcher.Fetch, conf.CacheTTL())
	aggregator := aggregate.New(cache, fetcher.Fetch, clk, conf.CacheTTL(), conf.MaxFeeds)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Periodic removal of expired cache entries.
	var janitor *cron.Cron
	if conf.PurgeCron != "" {
		janitor = cron.New()
		if _, err := janitor.AddFunc(conf.PurgeCron, func() {
			removed := cache.PurgeExpired()
			appLog.Debug("cache purge completed", "removed", removed, "remaining", cache.Len())
		}); err != nil {
			appLog.Error("invalid purge cron expression", err, "purge_cron", conf.PurgeCron)
			os.Exit(1)
		}
		janitor.Start()
		defer janitor.Stop()
	}

	server := web.NewServer(conf, resolver, aggregator, clk)
	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}

	appLog.Info("calmerge exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calmerge/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
