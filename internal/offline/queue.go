// Package offline persists writes that could not reach the backend and
// replays them opportunistically. Only operations whose failure classified
// as retryable belong here; give-up cases are parked separately so a
// permanently broken operation cannot occupy the sweep forever.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/franciscozunigap/sofinance/internal/kv"
)

// Operation types replayed by the processor.
const OpRegisterBalance = "register_balance"

const (
	pendingPrefix = "sofinance_queue:"
	failedPrefix  = "sofinance_queue_failed:"
)

// Operation is one queued write.
type Operation struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retry_count"`
	LastAttempt time.Time       `json:"last_attempt,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Decode unmarshals the operation payload into v.
func (o Operation) Decode(v any) error {
	return json.Unmarshal(o.Data, v)
}

// Queue persists pending operations in local storage.
type Queue struct {
	storage kv.Storage
	now     func() time.Time
	newID   func() string
}

func NewQueue(storage kv.Storage) *Queue {
	return &Queue{storage: storage, now: time.Now, newID: uuid.NewString}
}

// Save appends a new pending operation with a zero retry count.
func (q *Queue) Save(ctx context.Context, opType string, data any) (Operation, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Operation{}, fmt.Errorf("encode pending operation: %w", err)
	}
	op := Operation{
		ID:        q.newID(),
		Type:      opType,
		Data:      raw,
		Timestamp: q.now(),
	}
	if err := q.put(ctx, pendingPrefix, op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Pending lists queued operations oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Operation, error) {
	return q.list(ctx, pendingPrefix)
}

// Failed lists operations that exhausted their retries.
func (q *Queue) Failed(ctx context.Context) ([]Operation, error) {
	return q.list(ctx, failedPrefix)
}

// Remove drops a pending operation, normally after a successful replay.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.storage.RemoveItem(ctx, pendingPrefix+id)
}

// RecordFailure bumps the retry count and stores the error for the next
// sweep's backoff decision.
func (q *Queue) RecordFailure(ctx context.Context, op Operation, cause error) error {
	op.RetryCount++
	op.LastAttempt = q.now()
	op.LastError = cause.Error()
	return q.put(ctx, pendingPrefix, op)
}

// MarkFailed removes the operation from the pending set and parks it in the
// failed set for inspection.
func (q *Queue) MarkFailed(ctx context.Context, op Operation, cause error) error {
	op.LastAttempt = q.now()
	op.LastError = cause.Error()
	if err := q.put(ctx, failedPrefix, op); err != nil {
		return err
	}
	return q.storage.RemoveItem(ctx, pendingPrefix+op.ID)
}

// RetryFailed moves every parked operation back to the pending set with a
// fresh retry budget.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	ops, err := q.list(ctx, failedPrefix)
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		op.RetryCount = 0
		op.LastError = ""
		op.LastAttempt = time.Time{}
		if err := q.put(ctx, pendingPrefix, op); err != nil {
			return 0, err
		}
		if err := q.storage.RemoveItem(ctx, failedPrefix+op.ID); err != nil {
			return 0, err
		}
	}
	return len(ops), nil
}

func (q *Queue) put(ctx context.Context, prefix string, op Operation) error {
	stored, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return q.storage.SetItem(ctx, prefix+op.ID, string(stored))
}

func (q *Queue) list(ctx context.Context, prefix string) ([]Operation, error) {
	keys, err := q.storage.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}
	values, err := q.storage.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load queue entries: %w", err)
	}
	ops := make([]Operation, 0, len(values))
	for key, stored := range values {
		var op Operation
		if err := json.Unmarshal([]byte(stored), &op); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", key, err)
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Timestamp.Before(ops[j].Timestamp) })
	return ops, nil
}
