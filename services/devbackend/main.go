package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/convsession/internal/config"
	"github.com/convsession/internal/devserver"
	"github.com/convsession/internal/logger"
)

func main() {
	logger.SetPrefix("devbackend")
	seed := flag.Bool("seed", true, "create the demo users and conversations")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	store := devserver.NewStore()
	tokens := map[string]string{}
	if *seed {
		if err := devserver.Seed(store); err != nil {
			logger.Errorf("seed: %v", err)
			os.Exit(1)
		}
		tokens = devserver.DemoTokens()
		for token, userID := range tokens {
			logger.Infof("demo token %s → user %s", token, userID)
		}
	}
	srv := devserver.New(store, devserver.Options{
		Tokens:         tokens,
		Prefix:         cfg.APIPrefix,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.BridgeRateLimit,
		RateBurst:      cfg.BridgeRateBurst,
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		srv.Run(hubCtx)
	}()

	httpSrv := &http.Server{
		Addr:              cfg.DevBackendAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("dev backend listening on %s", cfg.DevBackendAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("dev backend stopped")
}
