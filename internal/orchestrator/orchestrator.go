// Package orchestrator coordinates local-first writes, queue replay, cloud
// pulls and cross-device notifications.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/realtime"
	"github.com/mariek/littlefeed/internal/store"
	"github.com/mariek/littlefeed/internal/syncq"
	"github.com/mariek/littlefeed/internal/transport"
)

// Transport is the remote store surface the orchestrator replays against.
// *transport.Client satisfies it; tests substitute fakes.
type Transport interface {
	CreateFeeding(ctx context.Context, f *models.FeedingEvent) error
	UpdateFeeding(ctx context.Context, f *models.FeedingEvent) error
	DeleteFeeding(ctx context.Context, id string) error
	ListFeedings(ctx context.Context, since time.Time, limit int) ([]*models.FeedingEvent, int, error)

	CreateDiaper(ctx context.Context, d *models.DiaperEvent) error
	UpdateDiaper(ctx context.Context, d *models.DiaperEvent) error
	DeleteDiaper(ctx context.Context, id string) error
	ListDiapers(ctx context.Context, since time.Time, limit int) ([]*models.DiaperEvent, int, error)

	Health(ctx context.Context) error
}

// Channel is the real-time push surface. *realtime.Channel satisfies it.
type Channel interface {
	Connect(ctx context.Context)
	Close()
	Send(msgType string, data map[string]any)
	Subscribe(fn realtime.MessageListener) int
	SetStatusListener(fn realtime.StatusListener)
	State() realtime.State
}

// Options wires an Orchestrator. Store, Queue and Transport are required;
// Channel may be nil for pull-only use.
type Options struct {
	Store     *store.Store
	Queue     *syncq.Queue
	Transport Transport
	Channel   Channel

	// PullWindow is the "recent N" fetched per entity type (default 20).
	PullWindow int
	// ProbeInterval spaces /health connectivity probes (default 30s).
	ProbeInterval time.Duration
	// PullInterval spaces periodic full pulls while online (default 5m).
	PullInterval time.Duration
}

// Orchestrator glues the local store, the durable queue, the remote transport
// and the real-time channel into the convergence loop.
type Orchestrator struct {
	store     *store.Store
	queue     *syncq.Queue
	transport Transport
	channel   Channel

	pullWindow    int
	probeInterval time.Duration
	pullInterval  time.Duration

	online  int32
	syncing int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// spawn runs fn on a tracked goroutine with a bounded context. After Stop, no
// new background work starts.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		fn(ctx)
	}()
}

// New creates an Orchestrator. Call Start for the background loop, or drive
// Drain/SyncFromCloud explicitly.
func New(opts Options) *Orchestrator {
	if opts.PullWindow <= 0 {
		opts.PullWindow = 20
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.PullInterval <= 0 {
		opts.PullInterval = 5 * time.Minute
	}
	o := &Orchestrator{
		store:         opts.Store,
		queue:         opts.Queue,
		transport:     opts.Transport,
		channel:       opts.Channel,
		pullWindow:    opts.PullWindow,
		probeInterval: opts.ProbeInterval,
		pullInterval:  opts.PullInterval,
	}
	if o.channel != nil {
		o.channel.Subscribe(o.onMessage)
	}
	return o
}

// Online reports the result of the most recent connectivity probe.
func (o *Orchestrator) Online() bool {
	return atomic.LoadInt32(&o.online) == 1
}

// deletePayload is the queue payload for delete actions; only the record id
// survives the local delete.
type deletePayload struct {
	ID string `json:"id"`
}

// AddFeeding writes locally, stages the create for replay, and kicks the
// background confirmation path. The returned error reflects only the local
// write; network state never fails an add.
func (o *Orchestrator) AddFeeding(amount int, at time.Time, color string) (*models.FeedingEvent, error) {
	rec, err := o.store.InsertFeeding(amount, at, color)
	if err != nil {
		return nil, err
	}
	o.stage(models.EntityFeeding, models.ActionCreate, rec)
	return rec, nil
}

// UpdateFeeding updates the local record and stages the update for replay.
func (o *Orchestrator) UpdateFeeding(id string, amount int, at time.Time, color string) (*models.FeedingEvent, error) {
	ok, err := o.store.UpdateFeeding(id, amount, at, color)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("feeding %s not found", id))
	}
	rec, err := o.store.GetFeeding(id)
	if err != nil {
		return nil, err
	}
	o.stage(models.EntityFeeding, models.ActionUpdate, rec)
	return rec, nil
}

// DeleteFeeding removes the local record and stages the delete for replay.
func (o *Orchestrator) DeleteFeeding(id string) error {
	ok, err := o.store.DeleteFeeding(id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("feeding %s not found", id))
	}
	o.stage(models.EntityFeeding, models.ActionDelete, deletePayload{ID: id})
	return nil
}

// AddDiaper writes locally and stages the create for replay.
func (o *Orchestrator) AddDiaper(at time.Time, note, color string) (*models.DiaperEvent, error) {
	rec, err := o.store.InsertDiaper(at, note, color)
	if err != nil {
		return nil, err
	}
	o.stage(models.EntityDiaper, models.ActionCreate, rec)
	return rec, nil
}

// UpdateDiaper updates the local record and stages the update for replay.
func (o *Orchestrator) UpdateDiaper(id string, at time.Time, note, color string) (*models.DiaperEvent, error) {
	ok, err := o.store.UpdateDiaper(id, at, note, color)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("diaper %s not found", id))
	}
	rec, err := o.store.GetDiaper(id)
	if err != nil {
		return nil, err
	}
	o.stage(models.EntityDiaper, models.ActionUpdate, rec)
	return rec, nil
}

// DeleteDiaper removes the local record and stages the delete for replay.
func (o *Orchestrator) DeleteDiaper(id string) error {
	ok, err := o.store.DeleteDiaper(id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.ErrRecordNotFound, fmt.Sprintf("diaper %s not found", id))
	}
	o.stage(models.EntityDiaper, models.ActionDelete, deletePayload{ID: id})
	return nil
}

// stage enqueues the mutation and, when online, triggers a background drain
// plus a best-effort cross-device notification. Enqueue failure is logged,
// never surfaced: the local-first write already succeeded and the next full
// pull can still reconcile.
func (o *Orchestrator) stage(entity models.EntityType, action models.Action, payload any) {
	if err := o.queue.Enqueue(entity, action, payload); err != nil {
		logging.Error("failed to stage mutation for sync", err, map[string]any{
			"entity": string(entity),
			"action": string(action),
		})
	}

	if !o.Online() {
		return
	}

	o.spawn(func(ctx context.Context) { o.Drain(ctx) })
	o.notifyPeers(entity)
}

// notifyPeers announces over the real-time channel that peers should pull.
// Best-effort: a disconnected channel drops the message silently.
func (o *Orchestrator) notifyPeers(entity models.EntityType) {
	if o.channel == nil {
		return
	}
	o.channel.Send(models.MessageTypeSyncRequest, map[string]any{
		"entity": string(entity),
	})
}

// Drain replays the queue through this orchestrator. Reentrant-safe via the
// queue's own guard. When anything was confirmed remotely, peers are told to
// pull.
func (o *Orchestrator) Drain(ctx context.Context) syncq.DrainResult {
	res := o.queue.Drain(ctx, o)
	if res.Ran && res.Succeeded > 0 {
		o.notifyPeers("")
	}
	return res
}

// Replay replays one queued mutation against the remote store. Satisfies
// syncq.Replayer. A nil return confirms the mutation; transport.ErrNotFound on
// update falls back to create, and on delete counts as already-deleted.
func (o *Orchestrator) Replay(ctx context.Context, item models.QueueItem) error {
	var err error
	switch item.EntityType {
	case models.EntityFeeding:
		err = o.replayFeeding(ctx, item)
	case models.EntityDiaper:
		err = o.replayDiaper(ctx, item)
	default:
		// Unknown entity types cannot succeed on retry either; drop them.
		logging.Warn("dropping queue item with unknown entity type", map[string]any{
			"queue_id": item.ID,
			"entity":   string(item.EntityType),
		})
		return nil
	}

	if err != nil && item.RetryCount+1 >= models.MaxQueueRetries {
		// The queue is about to abandon this item; leave a durable trace on
		// the record itself so a status surface can show it.
		o.markError(item)
	}
	return err
}

func (o *Orchestrator) replayFeeding(ctx context.Context, item models.QueueItem) error {
	switch item.Action {
	case models.ActionCreate, models.ActionUpdate:
		var rec models.FeedingEvent
		if err := json.Unmarshal(item.Payload, &rec); err != nil {
			logging.Warn("dropping undecodable feeding queue item", map[string]any{
				"queue_id": item.ID, "error": err.Error(),
			})
			return nil
		}
		var err error
		if item.Action == models.ActionCreate {
			err = o.transport.CreateFeeding(ctx, &rec)
		} else {
			err = o.transport.UpdateFeeding(ctx, &rec)
			if errors.Is(err, transport.ErrNotFound) {
				// The create never made it; self-heal with the same payload.
				err = o.transport.CreateFeeding(ctx, &rec)
			}
		}
		if err != nil {
			return err
		}
		if serr := o.store.SetFeedingStatus(rec.ID, models.SyncSynced); serr != nil {
			logging.Error("confirmed feeding could not be marked synced", serr,
				map[string]any{"id": rec.ID})
		}
		return nil

	case models.ActionDelete:
		var p deletePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return nil
		}
		err := o.transport.DeleteFeeding(ctx, p.ID)
		if errors.Is(err, transport.ErrNotFound) {
			return nil
		}
		return err

	default:
		return nil
	}
}

func (o *Orchestrator) replayDiaper(ctx context.Context, item models.QueueItem) error {
	switch item.Action {
	case models.ActionCreate, models.ActionUpdate:
		var rec models.DiaperEvent
		if err := json.Unmarshal(item.Payload, &rec); err != nil {
			logging.Warn("dropping undecodable diaper queue item", map[string]any{
				"queue_id": item.ID, "error": err.Error(),
			})
			return nil
		}
		var err error
		if item.Action == models.ActionCreate {
			err = o.transport.CreateDiaper(ctx, &rec)
		} else {
			err = o.transport.UpdateDiaper(ctx, &rec)
			if errors.Is(err, transport.ErrNotFound) {
				err = o.transport.CreateDiaper(ctx, &rec)
			}
		}
		if err != nil {
			return err
		}
		if serr := o.store.SetDiaperStatus(rec.ID, models.SyncSynced); serr != nil {
			logging.Error("confirmed diaper could not be marked synced", serr,
				map[string]any{"id": rec.ID})
		}
		return nil

	case models.ActionDelete:
		var p deletePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return nil
		}
		err := o.transport.DeleteDiaper(ctx, p.ID)
		if errors.Is(err, transport.ErrNotFound) {
			return nil
		}
		return err

	default:
		return nil
	}
}

// markError flags the record behind an abandoned queue item.
func (o *Orchestrator) markError(item models.QueueItem) {
	if item.Action == models.ActionDelete {
		return // the local row is already gone
	}
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(item.Payload, &probe) != nil || probe.ID == "" {
		return
	}
	var err error
	switch item.EntityType {
	case models.EntityFeeding:
		err = o.store.SetFeedingStatus(probe.ID, models.SyncError)
	case models.EntityDiaper:
		err = o.store.SetDiaperStatus(probe.ID, models.SyncError)
	}
	if err != nil {
		logging.Error("could not mark abandoned record", err, map[string]any{"id": probe.ID})
	}
}
