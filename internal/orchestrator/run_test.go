package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/realtime"
)

func (f *fixture) deliver(msg models.Message) {
	f.channel.mu.Lock()
	fns := append([]realtime.MessageListener(nil), f.channel.listeners...)
	f.channel.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func TestSyncRequestMessageTriggersPull(t *testing.T) {
	f := newFixture(t)
	f.transport.feedings["r1"] = remoteFeeding("r1", 130, time.Now())

	f.deliver(models.Message{
		Type:     models.MessageTypeSyncRequest,
		DeviceID: "device-b",
	})
	f.orch.wg.Wait()

	got, err := f.store.GetFeeding("r1")
	if err != nil || got == nil {
		t.Fatalf("pull was not triggered, record missing: %v", err)
	}
}

func TestConnectionEstablishedMessageIgnored(t *testing.T) {
	f := newFixture(t)
	f.transport.feedings["r1"] = remoteFeeding("r1", 130, time.Now())

	f.deliver(models.Message{Type: models.MessageTypeConnected, DeviceID: "device-b"})
	f.orch.wg.Wait()

	if got, _ := f.store.GetFeeding("r1"); got != nil {
		t.Error("handshake message triggered a pull")
	}
}

func TestStartDrainsAndPullsWhenOnline(t *testing.T) {
	f := newFixture(t)
	f.transport.feedings["r1"] = remoteFeeding("r1", 140, time.Now())
	rec, _ := f.orch.AddFeeding(75, time.Now(), "")

	f.orch.probeInterval = 10 * time.Millisecond
	f.orch.pullInterval = time.Hour
	f.orch.Start(context.Background())
	defer f.orch.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		local, _ := f.store.GetFeeding(rec.ID)
		pulled, _ := f.store.GetFeeding("r1")
		if local != nil && local.SyncStatus == models.SyncSynced && pulled != nil {
			if f.channel.State() != realtime.StateConnected {
				t.Error("real-time channel not connected after going online")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("startup never drained and pulled")
}

func TestStartupSkipsPullWhenAlreadyCaughtUp(t *testing.T) {
	f := newFixture(t)
	// Device already completed a first sync in an earlier run.
	f.orch.SyncFromCloud(context.Background())
	f.transport.feedings["late"] = remoteFeeding("late", 55, time.Now())

	f.orch.probeInterval = time.Hour
	f.orch.pullInterval = time.Hour
	f.orch.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	f.orch.Stop()

	if got, _ := f.store.GetFeeding("late"); got != nil {
		t.Error("startup performed a redundant full pull")
	}
}

func TestRepeatedStartStopCycles(t *testing.T) {
	f := newFixture(t)
	f.orch.probeInterval = time.Hour
	f.orch.pullInterval = time.Hour

	// Stop must always observe the loop goroutine Start launched, even when
	// the two calls land back to back.
	for i := 0; i < 25; i++ {
		f.orch.Start(context.Background())
		f.orch.Stop()
	}
}

func TestCurrentStatusSnapshot(t *testing.T) {
	f := newFixture(t)
	f.orch.AddFeeding(85, time.Now(), "")
	f.orch.SyncFromCloud(context.Background())

	st, err := f.orch.CurrentStatus()
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}
	if st.Online {
		t.Error("online = true before any successful probe")
	}
	if st.QueueSize != 1 {
		t.Errorf("queue size = %d, want 1", st.QueueSize)
	}
	if st.Feedings[models.SyncPending] != 1 {
		t.Errorf("pending feedings = %d, want 1", st.Feedings[models.SyncPending])
	}
	if st.LastSyncTime == "" {
		t.Error("last sync time missing after a completed pull")
	}
}
