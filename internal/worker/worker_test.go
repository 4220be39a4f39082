package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/jobs"
	"github.com/SirClappington/maintd/internal/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	ready   []queue.Action
	retried []queue.Action
	delays  []time.Duration
	dead    []queue.Action
}

func (f *fakeQueue) Dequeue(ctx context.Context, _ time.Duration) (queue.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		sleep(ctx, time.Millisecond)
		return queue.Action{}, queue.ErrEmpty
	}
	a := f.ready[0]
	f.ready = f.ready[1:]
	return a, nil
}

func (f *fakeQueue) Retry(_ context.Context, a queue.Action, delay time.Duration, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.Attempt++
	f.retried = append(f.retried, a)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeQueue) DeadLetter(_ context.Context, a queue.Action, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, a)
	return nil
}

type fakeHandler struct {
	mu   sync.Mutex
	err  error
	seen []string
	done chan struct{}
}

func (h *fakeHandler) HandleAction(_ context.Context, kind domain.ActionKind, ref string, _ time.Time) (jobs.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, string(kind)+"|"+ref)
	if h.done != nil {
		close(h.done)
		h.done = nil
	}
	if h.err != nil {
		return "", h.err
	}
	return jobs.Applied, nil
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(60))
}

func TestProcessSuccess(t *testing.T) {
	q := &fakeQueue{}
	h := &fakeHandler{}
	p := NewPool(q, h, PoolConfig{MaxAttempts: 3}, zap.NewNop())

	p.Process(context.Background(), queue.Action{ID: "1", Kind: domain.JobStart, Ref: "r"}, zap.NewNop())
	assert.Equal(t, []string{"job_start|r"}, h.seen)
	assert.Empty(t, q.retried)
	assert.Empty(t, q.dead)
}

func TestProcessFailureRetriesWithBackoff(t *testing.T) {
	q := &fakeQueue{}
	h := &fakeHandler{err: errors.New("db down")}
	p := NewPool(q, h, PoolConfig{MaxAttempts: 3, Backoff: Backoff{Initial: time.Second, Max: time.Minute}}, zap.NewNop())

	p.Process(context.Background(), queue.Action{ID: "1", Kind: domain.JobFinish}, zap.NewNop())
	require.Len(t, q.retried, 1)
	assert.Equal(t, time.Second, q.delays[0])

	p.Process(context.Background(), q.retried[0], zap.NewNop())
	require.Len(t, q.retried, 2)
	assert.Equal(t, 2*time.Second, q.delays[1])
	assert.Empty(t, q.dead)
}

func TestProcessDeadLettersAfterMaxAttempts(t *testing.T) {
	q := &fakeQueue{}
	h := &fakeHandler{err: errors.New("db down")}
	p := NewPool(q, h, PoolConfig{MaxAttempts: 3}, zap.NewNop())

	p.Process(context.Background(), queue.Action{ID: "1", Kind: domain.JobStart, Attempt: 2}, zap.NewNop())
	assert.Empty(t, q.retried)
	require.Len(t, q.dead, 1)
	assert.Equal(t, "1", q.dead[0].ID)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	q := &fakeQueue{ready: []queue.Action{{ID: "1", Kind: domain.JobStart, Ref: "a"}}}
	done := make(chan struct{})
	h := &fakeHandler{done: done}
	p := NewPool(q, h, PoolConfig{Concurrency: 2, MaxAttempts: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action was not handled")
	}
	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"job_start|a"}, h.seen)
}

type fakeMover struct {
	calls   int
	batches []int64
	results []int
	err     error
}

func (m *fakeMover) MoveDue(_ context.Context, _ time.Time, batch int64) (int, error) {
	m.calls++
	m.batches = append(m.batches, batch)
	if m.err != nil {
		return 0, m.err
	}
	if len(m.results) == 0 {
		return 0, nil
	}
	n := m.results[0]
	m.results = m.results[1:]
	return n, nil
}

func TestPromoterDrainsFullBatches(t *testing.T) {
	m := &fakeMover{results: []int{10, 10, 3}}
	p := NewPromoter(m, nil, time.Second, 10, zap.NewNop())

	p.Tick(context.Background())
	assert.Equal(t, 3, m.calls)
}

func TestPromoterSkipsWhenNotLeader(t *testing.T) {
	m := &fakeMover{}
	notLeader := func(context.Context) (bool, error) { return false, nil }
	p := NewPromoter(m, notLeader, time.Second, 10, zap.NewNop())

	p.Tick(context.Background())
	assert.Zero(t, m.calls)

	failing := func(context.Context) (bool, error) { return false, errors.New("conn reset") }
	p = NewPromoter(m, failing, time.Second, 10, zap.NewNop())
	p.Tick(context.Background())
	assert.Zero(t, m.calls)
}

func TestPromoterStopsOnError(t *testing.T) {
	m := &fakeMover{err: errors.New("redis down")}
	p := NewPromoter(m, nil, time.Second, 10, zap.NewNop())

	p.Tick(context.Background())
	assert.Equal(t, 1, m.calls)
}

func TestPromoterDefaultsNonPositiveBatch(t *testing.T) {
	for _, batch := range []int64{0, -1} {
		m := &fakeMover{}
		p := NewPromoter(m, nil, 0, batch, zap.NewNop())

		p.Tick(context.Background())
		assert.Equal(t, 1, m.calls)
		assert.Equal(t, []int64{DefaultPromoteBatch}, m.batches)
		assert.Equal(t, DefaultPromoteInterval, p.interval)
	}
}
