// Package syncq provides the durable sync queue for offline mutations.
package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/store"
)

// KV is the durable storage the queue snapshots itself into. The store's
// key-value area satisfies it.
type KV interface {
	GetValue(key string) (string, bool, error)
	SetValue(key, value string) error
}

// Replayer replays a single queued mutation against the remote store.
// A nil return removes the item from the queue.
type Replayer interface {
	Replay(ctx context.Context, item models.QueueItem) error
}

// Queue is a durable, ordered staging area for not-yet-confirmed mutations.
// The whole queue is serialized as one document on every mutation; queue sizes
// stay small in realistic offline windows.
type Queue struct {
	kv KV

	mu      sync.Mutex
	items   []models.QueueItem
	entropy *rand.Rand

	draining int32
}

// New creates a Queue backed by the given key-value storage. Call Load before
// first use to restore the persisted snapshot.
func New(kv KV) *Queue {
	return &Queue{
		kv:      kv,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load restores the queue from its persisted snapshot. Safe to call on a
// fresh install (empty queue).
func (q *Queue) Load() error {
	raw, ok, err := q.kv.GetValue(store.KeySyncQueue)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "load queue snapshot", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var items []models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "decode queue snapshot", err)
	}

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
	return nil
}

// Enqueue assigns a queue-entry id and timestamp, appends the item, and
// persists the whole queue. Queue changes are not broadcast as change events.
func (q *Queue) Enqueue(entity models.EntityType, action models.Action, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode queue payload", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := models.QueueItem{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy).String(),
		EntityType: entity,
		Action:     action,
		Payload:    data,
		EnqueuedAt: time.Now().Unix(),
		RetryCount: 0,
	}
	q.items = append(q.items, item)

	if err := q.persistLocked(); err != nil {
		// Roll the append back so memory matches durable state.
		q.items = q.items[:len(q.items)-1]
		return err
	}

	logging.Debug("enqueued mutation", map[string]any{
		"queue_id": item.ID,
		"entity":   string(entity),
		"action":   string(action),
		"size":     len(q.items),
	})
	return nil
}

// DrainResult reports what one drain pass did.
type DrainResult struct {
	Ran       bool // false when another drain was already in flight
	Processed int
	Succeeded int
	Failed    int
	Abandoned int
	Remaining int
}

// Drain replays pending items in order. Reentrant-safe: a Drain arriving while
// one is in progress is a no-op, not queued for later. Items that succeed are
// removed; failures increment the retry count; items reaching the retry
// ceiling are abandoned (removed, logged, never surfaced as a blocking error).
func (q *Queue) Drain(ctx context.Context, replayer Replayer) DrainResult {
	if !atomic.CompareAndSwapInt32(&q.draining, 0, 1) {
		return DrainResult{Ran: false}
	}
	defer atomic.StoreInt32(&q.draining, 0)

	q.mu.Lock()
	snapshot := make([]models.QueueItem, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	result := DrainResult{Ran: true}
	if len(snapshot) == 0 {
		return result
	}

	succeeded := make(map[string]bool)
	failed := make(map[string]bool)

	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}
		result.Processed++

		if err := replayer.Replay(ctx, item); err != nil {
			failed[item.ID] = true
			result.Failed++
			logging.Warn("queue item replay failed", map[string]any{
				"queue_id": item.ID,
				"entity":   string(item.EntityType),
				"action":   string(item.Action),
				"retry":    item.RetryCount + 1,
				"error":    err.Error(),
			})
			continue
		}
		succeeded[item.ID] = true
		result.Succeeded++
	}

	q.mu.Lock()
	kept := q.items[:0]
	for _, item := range q.items {
		if succeeded[item.ID] {
			continue
		}
		if failed[item.ID] {
			item.RetryCount++
			if item.RetryCount >= models.MaxQueueRetries {
				result.Abandoned++
				logging.ErrorWithCode("queue item abandoned after retry ceiling",
					string(apperrors.ErrQueueAbandoned), nil, map[string]any{
						"queue_id": item.ID,
						"entity":   string(item.EntityType),
						"action":   string(item.Action),
					})
				continue
			}
		}
		kept = append(kept, item)
	}
	q.items = kept
	result.Remaining = len(kept)

	if err := q.persistLocked(); err != nil {
		logging.Error("failed to persist queue after drain", err)
	}
	q.mu.Unlock()

	if err := q.kv.SetValue(store.KeyLastSyncTime, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logging.Error("failed to record last sync time", err)
	}

	return result
}

// Items returns a copy of the current queue contents in order.
func (q *Queue) Items() []models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.QueueItem, len(q.items))
	copy(items, q.items)
	return items
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending item and persists the empty queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	return q.persistLocked()
}

// persistLocked serializes the whole queue as one unit. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(q.items)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "encode queue snapshot", err)
	}
	if err := q.kv.SetValue(store.KeySyncQueue, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist,
			fmt.Sprintf("persist queue snapshot (%d items)", len(q.items)), err)
	}
	return nil
}
