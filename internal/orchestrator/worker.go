// Package orchestrator implements C4, the Saga Orchestrator, from
// spec.md §4.4: a four-topic pipeline (q.initiated, q.generated,
// q.executed, q.terminal) where stage workers consume the first three
// topics (q.generated by both the execute worker and the stage-1 retry
// worker), each pulling a message, loading the saga from C3, running its
// stage, writing updates, and publishing the next-stage message (or
// writing terminal) before acking. q.terminal is only published to.
//
// Grounded on internal/worker/processor.go's Processor: its Start() read
// loop, claim-idempotency-before-work, and publish-before-ack ordering
// are carried over directly; handleRunEnqueued/dispatchBootstrap's single
// run->bootstrap hop generalizes to four named stages, each its own
// worker type sharing this file's driver loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/registry"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/telemetry"
)

// Deps bundles the collaborators every stage worker shares.
type Deps struct {
	Store     *sagastore.Store
	Registry  *registry.Client
	Provider  llm.Provider
	Publisher *streams.Publisher
	Logger    *log.Logger
	Tracer    trace.Tracer
	Metrics   *telemetry.Metrics
	Saga      config.SagaConfig
}

// stageHandler processes one dequeued stage message. Returning an error
// leaves the message unacked so the bus redelivers it.
type stageHandler func(ctx context.Context, payload StagePayload) error

// runLoop is the shared read/claim/handle/ack loop behind every stage
// worker's Start method, matching Processor.Start's claim-idempotency-
// before-work shape: each message is claimed via
// ClaimIdempotency(eventType, event_id) before handle runs, so a message
// the bus redelivers after it was already fully handled and acked (e.g.
// a racing XAUTOCLAIM, or the ack call itself failing after a successful
// handle) does not re-run the stage and append a duplicate call-stack
// entry, per spec.md §8's "applying the stage twice yields identical
// store state". If handle itself fails or panics, the claim is released
// before the message is left unacked, so the bus's own redelivery is
// still the recovery path for a stage that genuinely never completed —
// claiming only blocks reprocessing a message whose work already
// finished.
func runLoop(ctx context.Context, logger *log.Logger, store *sagastore.Store, consumer *streams.Consumer, stream, eventType string, handle stageHandler) error {
	logger.Printf("stage worker starting; consuming stream %s", stream)

	for {
		select {
		case <-ctx.Done():
			logger.Printf("stage worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := consumer.Read(ctx, stream, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			logger.Printf("error reading stream %s: %v", stream, err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			var payload StagePayload
			if err := decodeEnvelope(msg, &payload); err != nil {
				logger.Printf("drop unreadable message %s: %v", msg.ID, err)
				_ = consumer.Ack(ctx, stream, msg.ID)
				continue
			}

			claimed, err := store.ClaimIdempotency(ctx, eventType, msg.Envelope.EventID)
			if err != nil {
				logger.Printf("error claiming idempotency for %s message %s: %v", eventType, msg.ID, err)
				continue // leave unacked; bus will redeliver
			}
			if !claimed {
				logger.Printf("skip %s message %s for saga %s — already processed", eventType, msg.ID, payload.SagaID)
				if err := consumer.Ack(ctx, stream, msg.ID); err != nil {
					logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
				}
				continue
			}

			if err := runHandle(handle, ctx, payload); err != nil {
				logger.Printf("error handling %s message %s for saga %s: %v", eventType, msg.ID, payload.SagaID, err)
				if relErr := store.ReleaseIdempotency(ctx, eventType, msg.Envelope.EventID); relErr != nil {
					logger.Printf("warn: failed to release idempotency claim for message %s: %v", msg.ID, relErr)
				}
				continue // leave unacked; bus will redeliver, and can now reclaim
			}
			if err := consumer.Ack(ctx, stream, msg.ID); err != nil {
				logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// runHandle recovers a panicking handler as an error so its deferred
// ReleaseIdempotency in runLoop still runs, instead of taking the claim
// down with the goroutine and stranding the saga non-terminal forever.
func runHandle(handle stageHandler, ctx context.Context, payload StagePayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage handler panic: %v", r)
		}
	}()
	return handle(ctx, payload)
}

func decodeEnvelope(msg streams.Message, out *StagePayload) error {
	if err := json.Unmarshal(msg.Envelope.Data, out); err != nil {
		return fmt.Errorf("unmarshal stage payload: %w", err)
	}
	if out.SagaID == "" {
		return fmt.Errorf("stage payload missing saga_id")
	}
	return nil
}
