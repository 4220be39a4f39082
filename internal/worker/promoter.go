package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Mover interface {
	MoveDue(ctx context.Context, now time.Time, batch int64) (int, error)
}

// LeaderFunc reports whether this process may promote on the current tick.
type LeaderFunc func(ctx context.Context) (bool, error)

// Promoter periodically moves due actions from the delay set to the ready
// list. Only the leader promotes when several schedulers run.
type Promoter struct {
	m        Mover
	leader   LeaderFunc
	interval time.Duration
	batch    int64
	log      *zap.Logger
	now      func() time.Time
}

const (
	DefaultPromoteInterval       = time.Second
	DefaultPromoteBatch    int64 = 200
)

func NewPromoter(m Mover, leader LeaderFunc, interval time.Duration, batch int64, log *zap.Logger) *Promoter {
	if interval <= 0 {
		interval = DefaultPromoteInterval
	}
	if batch < 1 {
		batch = DefaultPromoteBatch
	}
	return &Promoter{m: m, leader: leader, interval: interval, batch: batch, log: log, now: time.Now}
}

func (p *Promoter) Run(ctx context.Context) error {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			p.Tick(ctx)
		}
	}
}

// Tick promotes until a batch comes back short.
func (p *Promoter) Tick(ctx context.Context) {
	if p.leader != nil {
		ok, err := p.leader(ctx)
		if err != nil {
			p.log.Warn("leader check failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	now := p.now()
	for ctx.Err() == nil {
		n, err := p.m.MoveDue(ctx, now, p.batch)
		if err != nil {
			p.log.Error("promote due actions", zap.Error(err))
			return
		}
		if n > 0 {
			p.log.Debug("promoted actions", zap.Int("count", n))
		}
		if int64(n) < p.batch {
			return
		}
	}
}
