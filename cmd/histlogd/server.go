package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/histlog/internal/core"
	"github.com/tinytelemetry/histlog/internal/httpserver"
	"github.com/tinytelemetry/histlog/internal/logcache"
	"github.com/tinytelemetry/histlog/internal/socketrpc"
)

// runServer starts the history cache with its HTTP API and socket RPC.
func runServer(cfg appConfig) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if fi, err := os.Stat(cfg.LogDir); err != nil || !fi.IsDir() {
		return fmt.Errorf("log-dir %s is not a readable directory", cfg.LogDir)
	}

	// The cache is constructed against a deferred core and must not touch
	// it yet; the binding happens once everything else is resolved. This
	// mirrors the engine embedding, where the core finishes initializing
	// after its caches are wired up.
	deferred := &core.Deferred{}
	cache := logcache.New(deferred, logcache.Config{
		MaxCachedMessages: cfg.MaxCachedMessages,
		UpdateInterval:    cfg.UpdateInterval,
	})
	deferred.Bind(&core.Static{Dir: cfg.LogDir, Log: logger})

	// Build the index once up front so startup errors surface immediately.
	if err := cache.Refresh(); err != nil {
		return fmt.Errorf("initial index scan: %w", err)
	}

	var watcher *logcache.Watcher
	if cfg.WatchEnabled {
		w, err := cache.WatchDirectory()
		if err != nil {
			logger.Printf("histlogd: directory watch disabled: %v", err)
		} else {
			watcher = w
			defer watcher.Stop()
		}
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, cache)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
		logger.Printf("histlogd: API listening on %s", apiServer.Addr())
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, cache)
	if err := sockServer.Start(); err != nil {
		logger.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	g, ctx := errgroup.WithContext(ctx)

	// Keep the index warm so the first query after a quiet period does not
	// pay for the rescan.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := cache.Refresh(); err != nil {
					logger.Printf("histlogd: background refresh: %v", err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	logger.Printf("histlogd: serving history from %s", cfg.LogDir)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
