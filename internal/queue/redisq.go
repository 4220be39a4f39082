package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/maintd/internal/domain"
)

// ErrEmpty is returned by Dequeue when nothing became ready within the
// blocking window.
var ErrEmpty = errors.New("queue: empty")

// Action is a deferred transition waiting in the delay set or ready list.
type Action struct {
	ID      string            `json:"id"`
	Kind    domain.ActionKind `json:"kind"`
	Ref     string            `json:"ref"`
	Payload time.Time         `json:"payload"`
	RunAt   time.Time         `json:"run_at"`
	Attempt int               `json:"attempt"`
	Error   string            `json:"error,omitempty"`
}

type RedisQ struct {
	rdb  *r.Client
	name string
	now  func() time.Time
}

func New(rdb *r.Client, name string) *RedisQ {
	return &RedisQ{rdb: rdb, name: name, now: time.Now}
}

func (q *RedisQ) delayKey() string { return "delay:" + q.name }
func (q *RedisQ) readyKey() string { return "queue:" + q.name }
func (q *RedisQ) deadKey() string  { return "dead:" + q.name }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// ScheduleAt records that kind should run for the referenced job at the
// given instant. Earlier schedules for the same job are left in place.
func (q *RedisQ) ScheduleAt(ctx context.Context, at time.Time, kind domain.ActionKind, ref string, payload time.Time) error {
	if !kind.Valid() {
		return errors.Errorf("queue: unknown action kind %q", kind)
	}
	a := Action{
		ID:      uuid.NewString(),
		Kind:    kind,
		Ref:     ref,
		Payload: payload,
		RunAt:   at,
	}
	return q.enqueue(ctx, a)
}

func (q *RedisQ) enqueue(ctx context.Context, a Action) error {
	b, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "queue: encode action")
	}
	if a.RunAt.After(q.now()) {
		err = q.rdb.ZAdd(ctx, q.delayKey(), r.Z{Score: score(a.RunAt), Member: string(b)}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.readyKey(), string(b)).Err()
	}
	return errors.Wrapf(err, "queue: enqueue %s", a.Kind)
}

// Dequeue blocks up to block for the next ready action.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (Action, error) {
	res, err := q.rdb.BRPop(ctx, block, q.readyKey()).Result()
	if errors.Is(err, r.Nil) {
		return Action{}, ErrEmpty
	}
	if err != nil {
		return Action{}, errors.Wrap(err, "queue: brpop")
	}
	if len(res) != 2 {
		return Action{}, ErrEmpty
	}
	var a Action
	if err := json.Unmarshal([]byte(res[1]), &a); err != nil {
		return Action{}, errors.Wrap(err, "queue: decode action")
	}
	return a, nil
}

// MoveDue promotes up to batch actions whose run instant is at or before now
// from the delay set to the ready list.
func (q *RedisQ) MoveDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.delayKey(), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, errors.Wrap(err, "queue: range due")
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, q.readyKey(), m)
		pipe.ZRem(ctx, q.delayKey(), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "queue: promote due")
	}
	return len(members), nil
}

// Retry puts a failed action back into the delay set after delay.
func (q *RedisQ) Retry(ctx context.Context, a Action, delay time.Duration, cause error) error {
	a.Attempt++
	a.RunAt = q.now().Add(delay)
	if cause != nil {
		a.Error = cause.Error()
	}
	return q.enqueue(ctx, a)
}

// DeadLetter parks an action that will not be retried.
func (q *RedisQ) DeadLetter(ctx context.Context, a Action, cause error) error {
	if cause != nil {
		a.Error = cause.Error()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "queue: encode action")
	}
	return errors.Wrap(q.rdb.LPush(ctx, q.deadKey(), string(b)).Err(), "queue: dead letter")
}

type Stats struct {
	Delayed int64 `json:"delayed"`
	Ready   int64 `json:"ready"`
	Dead    int64 `json:"dead"`
}

func (q *RedisQ) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayKey())
	ready := pipe.LLen(ctx, q.readyKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, errors.Wrap(err, "queue: stats")
	}
	return Stats{Delayed: delayed.Val(), Ready: ready.Val(), Dead: dead.Val()}, nil
}

// Ping checks the Redis connection.
func (q *RedisQ) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
