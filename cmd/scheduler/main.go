package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/config"
	"github.com/SirClappington/maintd/internal/logging"
	"github.com/SirClappington/maintd/internal/queue"
	"github.com/SirClappington/maintd/internal/storage"
	"github.com/SirClappington/maintd/internal/worker"
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

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	q := queue.New(rdb, cfg.Queue)
	l := storage.NewLeader(db, cfg.LeaderLockID, logger.Named("leader"))
	defer l.Close(context.Background())

	p := worker.NewPromoter(q, l.Check, cfg.PollInterval, cfg.PromoteBatch, logger.Named("promoter"))
	logger.Info("scheduler started", zap.String("queue", cfg.Queue), zap.Duration("interval", cfg.PollInterval))
	if err := p.Run(ctx); err != nil {
		logger.Error("scheduler stopped", zap.Error(err))
	}
}
