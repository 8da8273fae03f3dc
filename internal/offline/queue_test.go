package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/franciscozunigap/sofinance/internal/errs"
	"github.com/franciscozunigap/sofinance/internal/kv"
	"github.com/franciscozunigap/sofinance/internal/log"
)

type registerPayload struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func newTestQueue() *Queue {
	q := NewQueue(kv.NewMemory())
	var n int
	q.newID = func() string {
		n++
		return fmt.Sprintf("op-%d", n)
	}
	var tick int
	q.now = func() time.Time {
		tick++
		return time.Date(2026, time.September, 15, 10, 0, tick, 0, time.UTC)
	}
	return q
}

func newTestProcessor(q *Queue, config ProcessorConfig) *Processor {
	return NewProcessor(q, config, log.New(log.DefaultConfig()))
}

func TestQueueSaveAndList(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()

	first, err := q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1", Amount: "100"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1", Amount: "200"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 pending operations, got %d", len(ops))
	}
	if ops[0].ID != first.ID || ops[1].ID != second.ID {
		t.Errorf("expected oldest-first ordering, got %s then %s", ops[0].ID, ops[1].ID)
	}
	if ops[0].RetryCount != 0 {
		t.Errorf("new operation should have zero retries, got %d", ops[0].RetryCount)
	}

	var payload registerPayload
	if err := json.Unmarshal(ops[1].Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Amount != "200" {
		t.Errorf("payload amount = %s, want 200", payload.Amount)
	}
}

func TestQueueRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()

	op, _ := q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})
	if err := q.Remove(ctx, op.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected empty queue after remove, got %d entries", len(ops))
	}
}

func TestQueueRecordFailure(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()

	op, _ := q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})
	if err := q.RecordFailure(ctx, op, errors.New("backend down")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	ops, _ := q.Pending(ctx)
	if len(ops) != 1 {
		t.Fatalf("expected operation to stay pending, got %d entries", len(ops))
	}
	if ops[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", ops[0].RetryCount)
	}
	if ops[0].LastError != "backend down" {
		t.Errorf("LastError = %q", ops[0].LastError)
	}
	if ops[0].LastAttempt.IsZero() {
		t.Error("LastAttempt should be recorded")
	}
}

func TestQueueMarkFailedAndRetryFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()

	op, _ := q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})
	if err := q.MarkFailed(ctx, op, errors.New("gave up")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("parked operation should leave the pending set, got %d", len(pending))
	}
	failed, _ := q.Failed(ctx)
	if len(failed) != 1 || failed[0].LastError != "gave up" {
		t.Fatalf("expected one parked operation with cause, got %+v", failed)
	}

	moved, err := q.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if moved != 1 {
		t.Errorf("RetryFailed moved %d, want 1", moved)
	}
	pending, _ = q.Pending(ctx)
	if len(pending) != 1 || pending[0].RetryCount != 0 || pending[0].LastError != "" {
		t.Fatalf("requeued operation should have a fresh retry budget, got %+v", pending)
	}
	failed, _ = q.Failed(ctx)
	if len(failed) != 0 {
		t.Error("failed set should be empty after requeue")
	}
}

func TestProcessorReplaysAndRemoves(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{})

	var replayed []string
	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		var payload registerPayload
		if err := json.Unmarshal(op.Data, &payload); err != nil {
			return err
		}
		replayed = append(replayed, payload.Amount)
		return nil
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1", Amount: "100"})
	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1", Amount: "200"})

	p.Sweep(ctx)

	if len(replayed) != 2 || replayed[0] != "100" || replayed[1] != "200" {
		t.Fatalf("expected oldest-first replay of both operations, got %v", replayed)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("replayed operations should be removed, %d remain", len(pending))
	}
}

func TestProcessorRetryableFailureIncrementsRetry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{})

	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		return fmt.Errorf("write balance: %w", errs.ErrUnavailable)
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})
	p.Sweep(ctx)

	pending, _ := q.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("retryable failure should keep the operation pending, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", pending[0].RetryCount)
	}
	failed, _ := q.Failed(ctx)
	if len(failed) != 0 {
		t.Error("operation should not be parked yet")
	}
}

func TestProcessorNonRetryableFailureParksImmediately(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{})

	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		return fmt.Errorf("write balance: %w", errs.ErrPermissionDenied)
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})
	p.Sweep(ctx)

	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Error("non-retryable failure should leave the pending set")
	}
	failed, _ := q.Failed(ctx)
	if len(failed) != 1 {
		t.Fatalf("expected one parked operation, got %d", len(failed))
	}
}

func TestProcessorExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{MaxRetries: 3, BaseBackoff: time.Second})

	var attempts int
	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		attempts++
		return fmt.Errorf("write balance: %w", errs.ErrUnavailable)
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})

	// Advance the clock past every backoff window between sweeps.
	base := time.Date(2026, time.September, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		p.Sweep(ctx)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 0 {
		t.Error("exhausted operation should leave the pending set")
	}
	failed, _ := q.Failed(ctx)
	if len(failed) != 1 {
		t.Fatalf("expected one parked operation, got %d", len(failed))
	}
	if failed[0].RetryCount != 2 {
		t.Errorf("parked RetryCount = %d, want 2", failed[0].RetryCount)
	}
}

func TestProcessorZeroBudgetRetriesForever(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{MaxRetries: 0, BaseBackoff: time.Second})

	var attempts int
	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		attempts++
		return fmt.Errorf("write balance: %w", errs.ErrUnavailable)
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})

	// Jump a day per sweep so every backoff window has elapsed.
	base := time.Date(2026, time.September, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		p.now = func() time.Time { return base.Add(time.Duration(i) * 24 * time.Hour) }
		p.Sweep(ctx)
	}

	if attempts != 12 {
		t.Errorf("attempts = %d, want 12", attempts)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("operation should stay pending with a zero budget, got %d", len(pending))
	}
	if pending[0].RetryCount != 12 {
		t.Errorf("RetryCount = %d, want 12", pending[0].RetryCount)
	}
	failed, _ := q.Failed(ctx)
	if len(failed) != 0 {
		t.Error("zero budget should never park retryable failures")
	}
}

func TestProcessorBackoffCapsOnLongStreaks(t *testing.T) {
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{BaseBackoff: time.Second})

	fixed := time.Date(2026, time.September, 15, 12, 0, 0, 0, time.UTC)
	op := Operation{RetryCount: 40, LastAttempt: fixed}

	p.now = func() time.Time { return fixed.Add(time.Second) }
	if p.due(op) {
		t.Error("operation fresh off its attempt should not be due")
	}

	maxDelay := time.Second << maxBackoffShift
	p.now = func() time.Time { return fixed.Add(maxDelay + time.Second) }
	if !p.due(op) {
		t.Error("operation past the capped delay should be due")
	}
}

func TestProcessorBackoffSkipsFreshFailures(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{BaseBackoff: time.Minute})

	var attempts int
	p.Register(OpRegisterBalance, func(ctx context.Context, op Operation) error {
		attempts++
		return fmt.Errorf("write balance: %w", errs.ErrUnavailable)
	})

	q.Save(ctx, OpRegisterBalance, registerPayload{UserID: "u1"})

	fixed := time.Date(2026, time.September, 15, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }
	p.now = func() time.Time { return fixed }

	p.Sweep(ctx)
	p.Sweep(ctx)
	if attempts != 1 {
		t.Fatalf("second sweep inside the backoff window should skip, attempts = %d", attempts)
	}

	p.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	p.Sweep(ctx)
	if attempts != 2 {
		t.Errorf("sweep after the backoff window should retry, attempts = %d", attempts)
	}
}

func TestProcessorUnknownTypeParks(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{})

	q.Save(ctx, "mystery", registerPayload{UserID: "u1"})
	p.Sweep(ctx)

	failed, _ := q.Failed(ctx)
	if len(failed) != 1 {
		t.Fatalf("operation without a handler should be parked, got %d", len(failed))
	}
}

func TestProcessorStartStop(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue()
	p := newTestProcessor(q, ProcessorConfig{PollInterval: time.Hour})

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsRunning() {
		t.Error("processor should report running after Start")
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Error("processor should report stopped after Stop")
	}
}
