package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/maintd/internal/api"
	"github.com/SirClappington/maintd/internal/config"
	"github.com/SirClappington/maintd/internal/jobs"
	"github.com/SirClappington/maintd/internal/logging"
	"github.com/SirClappington/maintd/internal/queue"
	"github.com/SirClappington/maintd/internal/storage"
	"github.com/SirClappington/maintd/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Production())
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, db, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()
	defer db.Close()

	if err := storage.Migrate(db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	q := queue.New(rdb, cfg.Queue)
	refs := token.NewSigner(cfg.JWTSigningKey, cfg.TokenGrace)
	svc := jobs.NewService(store, q, refs, logger.Named("jobs"))

	srv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.NewServer(svc, q, map[string]api.Pinger{
			"postgres": api.PingFunc(db.PingContext),
			"redis":    q,
		}, logger.Named("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("api stopped", zap.Error(err))
	}
}
