package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/jobs"
	"github.com/SirClappington/maintd/internal/queue"
)

type Queue interface {
	Dequeue(ctx context.Context, block time.Duration) (queue.Action, error)
	Retry(ctx context.Context, a queue.Action, delay time.Duration, cause error) error
	DeadLetter(ctx context.Context, a queue.Action, cause error) error
}

type Handler interface {
	HandleAction(ctx context.Context, kind domain.ActionKind, ref string, payload time.Time) (jobs.Outcome, error)
}

type PoolConfig struct {
	Concurrency  int
	MaxAttempts  int
	Block        time.Duration
	ErrorBackoff time.Duration
	Backoff      Backoff
}

// Pool runs consumers that pop ready actions and hand them to a Handler.
type Pool struct {
	q   Queue
	h   Handler
	cfg PoolConfig
	log *zap.Logger
}

func NewPool(q Queue, h Handler, cfg PoolConfig, log *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	return &Pool{q: q, h: h, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		log := p.log.With(zap.Int("consumer", i))
		g.Go(func() error {
			p.consume(ctx, log)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) consume(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		a, err := p.q.Dequeue(ctx, p.cfg.Block)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			sleep(ctx, p.cfg.ErrorBackoff)
			continue
		}
		p.Process(ctx, a, log)
	}
}

// Process runs one action, scheduling a retry or dead-lettering it when the
// handler fails.
func (p *Pool) Process(ctx context.Context, a queue.Action, log *zap.Logger) {
	log = log.With(zap.String("action_id", a.ID), zap.String("kind", string(a.Kind)), zap.Int("attempt", a.Attempt))

	out, err := p.h.HandleAction(ctx, a.Kind, a.Ref, a.Payload)
	if err == nil {
		log.Debug("action done", zap.String("outcome", string(out)))
		return
	}

	// Requeueing must survive shutdown.
	ctx = context.WithoutCancel(ctx)
	next := a.Attempt + 1
	if next >= p.cfg.MaxAttempts {
		log.Error("action exhausted retries", zap.Error(err))
		if dlErr := p.q.DeadLetter(ctx, a, err); dlErr != nil {
			log.Error("dead letter failed", zap.Error(dlErr))
		}
		return
	}
	delay := p.cfg.Backoff.Delay(next)
	log.Warn("action failed, retrying", zap.Error(err), zap.Duration("delay", delay))
	if rErr := p.q.Retry(ctx, a, delay, err); rErr != nil {
		log.Error("retry enqueue failed", zap.Error(rErr))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
