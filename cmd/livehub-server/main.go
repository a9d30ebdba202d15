package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/liveedge/hub/internal/forward"
	"github.com/liveedge/hub/internal/httpflv"
	"github.com/liveedge/hub/internal/logger"
	"github.com/liveedge/hub/internal/media"
	srv "github.com/liveedge/hub/internal/rtmp/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// run brings up the server from a validated cliConfig. It is the cobra
// command's RunE body, split out so newRootCommand stays flag plumbing.
func run(cfg *cliConfig) error {
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.L().With("component", "cli")

	server := srv.New(srv.Config{
		ListenAddr:        cfg.listenAddr,
		ChunkSize:         uint32(cfg.chunkSize),
		WindowAckSize:     2_500_000, // matches control burst constant
		RecordAll:         cfg.recordAll,
		RecordDir:         cfg.recordDir,
		LogLevel:          cfg.logLevel,
		RelayDestinations: cfg.relayDestinations,
		HookScripts:       cfg.hookScripts,
		HookWebhooks:      cfg.hookWebhooks,
		HookStdioFormat:   cfg.hookStdioFormat,
		HookTimeout:       cfg.hookTimeout,
		HookConcurrency:   cfg.hookConcurrency,
	})

	h := server.Hub()

	if len(cfg.edgeOrigins) > 0 {
		origins := parseEdgeOrigins(cfg.edgeOrigins)
		puller := forward.NewPuller(h, forward.DefaultBackoffPolicy())
		h.SetMissingSourceHook(puller.Hook(func(key media.StreamKey) (string, bool) {
			url, ok := origins[key.App+"/"+key.Stream]
			return url, ok
		}))
	}

	if cfg.hlsDir != "" || cfg.dashDir != "" {
		segs := newSegmentManager(h, cfg.hlsDir, cfg.dashDir)
		h.SetPublishStartHook(segs.onPublishStart)
		h.SetPublishStopHook(segs.onPublishStop)
	}

	var httpSrv *http.Server
	if cfg.httpAddr != "" {
		httpSrv = &http.Server{Addr: cfg.httpAddr, Handler: httpflv.NewHandler(h)}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http front-end stopped", "error", err)
			}
		}()
		log.Info("http front-end listening", "addr", cfg.httpAddr)
	}

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		return err
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Perform shutdown in a separate goroutine in case it blocks; we just wait or force exit on timeout.
	done := make(chan struct{})
	go func() {
		if httpSrv != nil {
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
	return nil
}

// parseEdgeOrigins turns "app/stream=rtmp://..." assignments into a
// lookup map keyed by "app/stream".
func parseEdgeOrigins(assignments []string) map[string]string {
	out := make(map[string]string, len(assignments))
	for _, a := range assignments {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
