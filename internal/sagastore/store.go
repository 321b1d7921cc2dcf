// Package sagastore implements C3, the Saga State Store from spec.md
// §4.3: a Redis-backed key/value store with TTL, per-key locked
// read-modify-write, and append-only call-stack semantics.
//
// Grounded on original_source/apps/sql-insight-engine/src/agentic_sql/
// saga/state_store.py's SETEX-per-key pattern (key "saga:{saga_id}", 1h
// TTL). That Python reference assumes a single process and does no
// locking; this store adds a Redis SET NX advisory lock per key around
// each read-modify-write, generalizing internal/executor/
// checkpoint_store.go's narrow-interface-over-a-mutex idiom from an
// in-process mutex to a distributed one, since C3 must be safe across
// multiple worker processes (see SPEC_FULL.md Open Question 3).
package sagastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("saga record not found")

const keyPrefix = "saga:"

// Store is the Redis-backed implementation of C3.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	lock   lockConfig
}

type lockConfig struct {
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// Option configures a Store, matching the teacher's functional-options
// convention (internal/queue/streams.WithMaxLenApprox etc.).
type Option func(*Store)

// WithTTL overrides the default 1h record TTL from spec.md §3.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLockTuning overrides the advisory lock's TTL/retry/backoff (tests only).
func WithLockTuning(ttl time.Duration, retries int, backoff time.Duration) Option {
	return func(s *Store) { s.lock = lockConfig{ttl: ttl, retries: retries, backoff: backoff} }
}

// New constructs a Store over an existing Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		ttl:    time.Hour,
		lock:   lockConfig{ttl: 5 * time.Second, retries: 50, backoff: 20 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(sagaID string) string { return keyPrefix + sagaID }

// Create persists the initial pending record, per spec.md §4.3's create().
func (s *Store) Create(ctx context.Context, record *saga.Record) error {
	return s.withLock(ctx, record.SagaID, func() error {
		return s.write(ctx, record)
	})
}

// Get loads the current record, returning ErrNotFound once the TTL has
// elapsed (spec.md §4.3: "reads after TTL return NotFound").
func (s *Store) Get(ctx context.Context, sagaID string) (*saga.Record, error) {
	raw, err := s.client.Get(ctx, key(sagaID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, err.Error())
	}
	var record saga.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal saga record %s: %w", sagaID, err)
	}
	return &record, nil
}

// Update applies patch under the per-key lock, implementing spec.md
// §4.3's "all writes are read-modify-write under a per-key lock" and
// "updates are partial — a writer may not clobber fields it did not
// explicitly set".
func (s *Store) Update(ctx context.Context, sagaID string, patch saga.Patch) (*saga.Record, error) {
	var result *saga.Record
	err := s.withLock(ctx, sagaID, func() error {
		record, err := s.Get(ctx, sagaID)
		if err != nil {
			return err
		}
		patch.Apply(record, time.Now())
		if err := s.write(ctx, record); err != nil {
			return err
		}
		result = record
		return nil
	})
	return result, err
}

// Complete writes the completed terminal status with the formatted
// response, per spec.md §4.3's complete().
func (s *Store) Complete(ctx context.Context, sagaID, formattedResponse string) (*saga.Record, error) {
	status := saga.StatusCompleted
	return s.Update(ctx, sagaID, saga.Patch{Status: &status, FormattedResponse: &formattedResponse})
}

// Fail writes the error terminal status with error_message, per spec.md
// §4.3's fail().
func (s *Store) Fail(ctx context.Context, sagaID string, stageErr *sagaerr.StageError, isIrrelevant bool) (*saga.Record, error) {
	status := saga.StatusError
	msg := stageErr.Error()
	return s.Update(ctx, sagaID, saga.Patch{Status: &status, ErrorMessage: &msg, IsIrrelevant: &isIrrelevant})
}

func (s *Store) write(ctx context.Context, record *saga.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal saga record %s: %w", record.SagaID, err)
	}
	ttl := s.ttl
	if !record.IsTerminal() {
		// Non-terminal sagas should not silently vanish mid-flight; the
		// wall-clock deadline (spec.md §5) handles abandoned sagas, the
		// store's own TTL is specifically "TTL ~ 1h after terminal".
		ttl = 0
	}
	if err := s.client.Set(ctx, key(record.SagaID), raw, ttl).Err(); err != nil {
		return sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, err.Error())
	}
	return nil
}

// withLock takes a short-lived Redis SET NX advisory lock on sagaID,
// retrying with backoff, runs fn, then releases the lock. This is the
// per-key serialisation spec.md §4.3 requires across worker processes.
func (s *Store) withLock(ctx context.Context, sagaID string, fn func() error) error {
	lockKey := "lock:" + key(sagaID)
	token := uuid.NewString()

	acquired := false
	for attempt := 0; attempt < s.lock.retries; attempt++ {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.lock.ttl).Result()
		if err != nil {
			return sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, err.Error())
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.lock.backoff):
		}
	}
	if !acquired {
		return sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, "could not acquire saga lock for "+sagaID)
	}
	defer s.releaseLock(ctx, lockKey, token)

	return fn()
}

// releaseLock deletes the lock key only if it still holds our token,
// avoiding releasing a lock another process has since acquired after our
// TTL expired.
func (s *Store) releaseLock(ctx context.Context, lockKey, token string) {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	s.client.Eval(ctx, script, []string{lockKey}, token)
}

// ClaimIdempotency registers a processed bus event, returning false if it
// was already claimed. Generalizes internal/store/store.go's
// `INSERT INTO idempotency_keys ... ON CONFLICT DO NOTHING RETURNING true`
// to a Redis SET NX with a TTL long enough to cover the saga's own
// deadline, used by internal/orchestrator to make stage handlers safe
// under the bus's at-least-once redelivery.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	ok, err := s.client.SetNX(ctx, "idemp:"+scope+":"+key, 1, 24*time.Hour).Result()
	if err != nil {
		return false, sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, err.Error())
	}
	return ok, nil
}

// ReleaseIdempotency drops a claim taken by ClaimIdempotency, letting a
// message that failed mid-handler (as opposed to one that fully
// succeeded) be retried on the next bus redelivery instead of being
// silently skipped for the rest of the claim's TTL.
func (s *Store) ReleaseIdempotency(ctx context.Context, scope, key string) error {
	if err := s.client.Del(ctx, "idemp:"+scope+":"+key).Err(); err != nil {
		return sagaerr.NewStageError("saga_store", sagaerr.ErrStateStoreUnavailable, err.Error())
	}
	return nil
}
