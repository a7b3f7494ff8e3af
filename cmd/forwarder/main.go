package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"logon-forwarder/internal/factory"
	"logon-forwarder/internal/handler"
	"logon-forwarder/internal/tls"
	"logon-forwarder/internal/util"
	"logon-forwarder/internal/watcher"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var server *http.Server
	if cfg.Server.Enabled {
		status := handler.NewStatusHandler(f.Watcher(), f, f.App(), util.Named("http"))
		server = &http.Server{
			Addr:         cfg.GetServerAddress(),
			Handler:      handler.NewRouter(status, util.Named("http")),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}
		if cfg.Server.EnableTLS {
			server.TLSConfig = tls.NewManager(tls.Config{
				CertFile: cfg.Server.CertFile,
				KeyFile:  cfg.Server.KeyFile,
				CertDir:  cfg.Server.CertDir,
				Hosts:    []string{cfg.App.MachineName, "localhost", "127.0.0.1", "::1"},
			}, util.Named("http")).TLSConfig()
		}
		startServer(server)
	}

	go startWatcher(ctx, f.Watcher(), cfg.Watcher.StartRetryInterval)

	if cfg.Source.ReplayFile != "" {
		go func() {
			if err := waitRunning(ctx, f.Watcher()); err != nil {
				return
			}
			if err := f.ReplayFile(ctx); err != nil {
				util.Error("Replay failed", util.ErrorField(err))
			}
		}()
	}

	waitForShutdown(ctx, f, server)
}

// startWatcher retries Start on a fixed interval while the audit source is
// unavailable, until ctx is cancelled.
func startWatcher(ctx context.Context, w *watcher.Watcher, retry time.Duration) {
	for {
		err := w.Start(ctx)
		if err == nil || errors.Is(err, watcher.ErrAlreadyRunning) {
			return
		}

		util.Warn("Watcher failed to start, retrying",
			util.ErrorField(err),
			util.Duration("retry_in", retry),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func waitRunning(ctx context.Context, w *watcher.Watcher) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for w.State() != watcher.StateRunning {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func startServer(server *http.Server) {
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Operations server started",
		util.String("address", server.Addr),
		util.Bool("tls_enabled", server.TLSConfig != nil),
	)
}

func waitForShutdown(ctx context.Context, f *factory.Factory, server *http.Server) {
	<-ctx.Done()
	util.Info("Received shutdown signal")

	if err := f.Watcher().Stop(); err != nil {
		util.Warn("Watcher stopped with error", util.ErrorField(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed")
		}
	}
	f.Close()
}
