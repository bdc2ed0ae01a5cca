package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/convsession/internal/api"
	"github.com/convsession/internal/bridge"
	"github.com/convsession/internal/config"
	"github.com/convsession/internal/devserver"
	"github.com/convsession/internal/feed"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/metrics"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/notify"
	"github.com/convsession/internal/session"
	"github.com/convsession/internal/startup"
	"github.com/convsession/internal/storage"
	"github.com/convsession/internal/storage/memory"
)

func main() {
	logger.SetPrefix("session")
	dev := flag.Bool("dev", false, "start an in-memory demo backend in-process (no external API required)")
	conversation := flag.String("conversation", "", "conversation to select on start")
	allowRemote := flag.Bool("allow-remote", false, "accept bridge requests from non-local addresses")
	flag.Parse()

	logger.Info("starting session service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if *dev {
		if err := startDevBackend(gctx, g, cfg); err != nil {
			logger.Errorf("dev backend: %v", err)
			os.Exit(1)
		}
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Errorf("session store: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	client := api.NewClient(api.Options{
		BaseURL: cfg.APIBaseURL,
		Prefix:  cfg.APIPrefix,
		Token:   cfg.APIToken,
		Timeout: cfg.RequestTimeout,
	})
	sess := session.New(session.Options{
		UserID:  cfg.UserID,
		Backend: client,
		Store:   store,
		Notify:  notify.NewCenter(notify.DefaultTransientTTL),
		Metrics: metrics.New(),
		Poll: feed.PollerOptions{
			Interval:     cfg.PollInterval,
			RefreshRate:  rate.Limit(cfg.RefreshRatePerSec),
			RefreshBurst: cfg.RefreshBurst,
		},
		StreamURL:        cfg.StreamURL,
		StreamToken:      cfg.APIToken,
		FailureThreshold: cfg.PollFailureThreshold,
	})
	defer sess.Close()

	if *conversation != "" {
		if err := sess.Select(ctx, model.ID(*conversation)); err != nil {
			logger.Errorf("select conversation %s: %v", *conversation, err)
		}
	}

	br := bridge.New(sess, bridge.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.BridgeRateLimit,
		RateBurst:      cfg.BridgeRateBurst,
		AllowRemote:    *allowRemote,
	})
	serve(gctx, g, "bridge", cfg.BridgeAddr, br.Handler())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("session service: %v", err)
		os.Exit(1)
	}
	logger.Info("session service stopped")
}

// openStore выбирает хранилище: Redis при заданном REDIS_URL, иначе память процесса.
func openStore(ctx context.Context, cfg *config.Config) (storage.SessionStore, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("session store: in-memory")
		return memory.New(), func() {}, nil
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second, "")
	if err != nil {
		return nil, nil, err
	}
	logger.Info("session store: redis")
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Errorf("redis close: %v", err)
		}
	}, nil
}

// startDevBackend поднимает демо-бэкенд и направляет на него клиент и поток событий.
func startDevBackend(ctx context.Context, g *errgroup.Group, cfg *config.Config) error {
	store := devserver.NewStore()
	if err := devserver.Seed(store); err != nil {
		return err
	}
	tokens := devserver.DemoTokens()
	srv := devserver.New(store, devserver.Options{
		Tokens:         tokens,
		Prefix:         cfg.APIPrefix,
		AllowedOrigins: "*",
	})
	g.Go(func() error {
		srv.Run(ctx)
		return nil
	})
	serve(ctx, g, "dev backend", cfg.DevBackendAddr, srv.Handler())

	host := cfg.DevBackendAddr
	if h, port, err := net.SplitHostPort(host); err == nil && h == "" {
		host = net.JoinHostPort("127.0.0.1", port)
	}
	cfg.APIBaseURL = "http://" + host
	if cfg.StreamURL == "" {
		cfg.StreamURL = "ws://" + host + "/ws"
	}
	if cfg.APIToken == "" {
		cfg.APIToken, cfg.UserID = "dev-alice", tokens["dev-alice"]
	}
	logger.Infof("dev backend: %s as user %s", cfg.APIBaseURL, cfg.UserID)
	return nil
}

// serve запускает HTTP-сервер в группе и останавливает его при отмене ctx.
func serve(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		logger.Infof("%s listening on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("%s shutdown: %v", name, err)
		}
		logger.Infof("%s stopped", name)
		return nil
	})
}
