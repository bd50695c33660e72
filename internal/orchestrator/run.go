package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/realtime"
	"github.com/mariek/littlefeed/internal/store"
)

// Start launches the background loop: connectivity probes, drain on
// connectivity regained, periodic pulls, and the real-time connection.
// Idempotent per Stop; a second Start replaces the previous loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stopped = false
	// Add under the mutex: a racing Stop cannot reach wg.Wait before the
	// loop goroutine is tracked.
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(runCtx)
}

// Stop halts the background loop and closes the real-time channel. Pending
// queue items stay durable for the next Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.stopped = true
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	if o.channel != nil {
		o.channel.Close()
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	o.Probe(ctx)
	if o.Online() {
		o.onConnectivityRegained(ctx, true)
	}

	probeTicker := time.NewTicker(o.probeInterval)
	defer probeTicker.Stop()
	pullTicker := time.NewTicker(o.pullInterval)
	defer pullTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probeTicker.C:
			wasOnline := o.Online()
			o.Probe(ctx)
			if !wasOnline && o.Online() {
				o.onConnectivityRegained(ctx, false)
			}
		case <-pullTicker.C:
			if o.Online() {
				o.SyncFromCloud(ctx)
			}
		}
	}
}

// Probe checks /health once, flips the online flag, and returns the probe
// error so interactive callers can report reachability.
func (o *Orchestrator) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := o.transport.Health(probeCtx)
	if err != nil {
		if o.setOnline(false) {
			logging.Info("connectivity lost")
		}
		return err
	}
	if o.setOnline(true) {
		logging.Info("connectivity regained")
	}
	return nil
}

// onConnectivityRegained drains staged mutations, connects the real-time
// channel, and pulls. On process start the full pull is skipped when this
// device already caught up once; triggered pulls always run.
func (o *Orchestrator) onConnectivityRegained(ctx context.Context, startup bool) {
	if o.channel != nil {
		o.channel.Connect(ctx)
	}
	o.Drain(ctx)

	if startup {
		done, _, err := o.store.GetValue(store.KeyFirstSyncDone)
		if err == nil && done == "true" {
			logging.Debug("skipping startup pull, first sync already completed")
			return
		}
	}
	o.SyncFromCloud(ctx)
}

// onMessage reacts to real-time notifications from other devices. The channel
// already filtered this device's own echoes; every change-ish message is just
// a pull trigger, never applied as data.
func (o *Orchestrator) onMessage(msg models.Message) {
	switch {
	case msg.Type == models.MessageTypeConnected:
		return
	case msg.Type == models.MessageTypeSyncRequest,
		strings.HasPrefix(msg.Type, "feeding."),
		strings.HasPrefix(msg.Type, "diaper."):
		o.spawn(func(ctx context.Context) { o.SyncFromCloud(ctx) })
	default:
		logging.Debug("ignoring real-time message", map[string]any{"type": msg.Type})
	}
}

// Status is a point-in-time snapshot for status surfaces.
type Status struct {
	Online       bool
	Channel      realtime.State
	QueueSize    int
	LastSyncTime string
	Feedings     map[models.SyncStatus]int
	Diapers      map[models.SyncStatus]int
}

// CurrentStatus assembles the sync status snapshot.
func (o *Orchestrator) CurrentStatus() (*Status, error) {
	st := &Status{
		Online:    o.Online(),
		Channel:   realtime.StateDisconnected,
		QueueSize: o.queue.Size(),
	}
	if o.channel != nil {
		st.Channel = o.channel.State()
	}
	if last, ok, err := o.store.GetValue(store.KeyLastSyncTime); err == nil && ok {
		st.LastSyncTime = last
	}

	var err error
	if st.Feedings, err = o.store.CountByStatus(models.EntityFeeding); err != nil {
		return nil, err
	}
	if st.Diapers, err = o.store.CountByStatus(models.EntityDiaper); err != nil {
		return nil, err
	}
	return st, nil
}

// setOnline returns true when the flag actually flipped.
func (o *Orchestrator) setOnline(online bool) bool {
	if online {
		return atomic.CompareAndSwapInt32(&o.online, 0, 1)
	}
	return atomic.CompareAndSwapInt32(&o.online, 1, 0)
}
