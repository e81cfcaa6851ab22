package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rubiojr/deliverymap/pkg/logger"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := logger.Setup(cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	logger.SetDebug(cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed: %v", err)
	}
	defer a.Close()

	mux := http.NewServeMux()
	RegisterAPI(mux, a)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown: %v", err)
		}
	}()

	logger.Info("delivery map API on http://%s/api (storage=%s, home region=%s)", cfg.Addr, cfg.Storage, cfg.HomeRegion)
	logger.Debug("data dir %s, cache dir %s, config dir %s", cfg.DataDir, cfg.CacheDir, cfg.ConfigDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("API server error on %s: %v", cfg.Addr, err)
		return
	}
	logger.Info("stopped")
}
