// Package store provides unit tests for the change-event bus.
package store

import (
	"testing"
	"time"

	"github.com/mariek/littlefeed/internal/models"
)

// TestBusFanOut tests that every listener receives every event.
func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	var a, b []string
	bus.Subscribe(func(e models.ChangeEvent) { a = append(a, e.Type) })
	bus.Subscribe(func(e models.ChangeEvent) { b = append(b, e.Type) })

	bus.Emit(models.ChangeEvent{Type: models.EventFeedingAdded})
	bus.Emit(models.ChangeEvent{Type: models.EventFeedingDeleted})

	for _, got := range [][]string{a, b} {
		if len(got) != 2 || got[0] != models.EventFeedingAdded || got[1] != models.EventFeedingDeleted {
			t.Errorf("listener missed events: %v", got)
		}
	}
}

// TestBusEmitSynchronous tests that fan-out completes before Emit returns.
func TestBusEmitSynchronous(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(func(models.ChangeEvent) { delivered = true })

	bus.Emit(models.ChangeEvent{Type: models.EventDiaperAdded})
	if !delivered {
		t.Error("expected synchronous delivery before Emit returned")
	}
}

// TestBusUnsubscribe tests listener removal.
func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	token := bus.Subscribe(func(models.ChangeEvent) { count++ })
	bus.Emit(models.ChangeEvent{Type: models.EventFeedingAdded})

	bus.Unsubscribe(token)
	bus.Emit(models.ChangeEvent{Type: models.EventFeedingAdded})

	if count != 1 {
		t.Errorf("expected 1 delivery after unsubscribe, got %d", count)
	}
	if bus.Len() != 0 {
		t.Errorf("expected empty bus, got %d listeners", bus.Len())
	}

	// Unknown token is ignored.
	bus.Unsubscribe(9999)
}

// TestBusPanicIsolation tests that one faulty listener does not prevent
// the others from being notified.
func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(func(models.ChangeEvent) { panic("listener fault") })
	notified := false
	bus.Subscribe(func(models.ChangeEvent) { notified = true })

	bus.Emit(models.ChangeEvent{Type: models.EventFeedingUpdated})
	if !notified {
		t.Error("second listener not notified after first panicked")
	}
}

// TestBusStampsTimestamp tests the default event timestamp.
func TestBusStampsTimestamp(t *testing.T) {
	bus := NewBus()

	var got models.ChangeEvent
	bus.Subscribe(func(e models.ChangeEvent) { got = e })

	before := time.Now().Unix()
	bus.Emit(models.ChangeEvent{Type: models.EventFeedingAdded})

	if got.Timestamp < before {
		t.Errorf("expected stamped timestamp, got %d", got.Timestamp)
	}
}

// TestStoreEmitsChangeEvents tests the store's write paths emit events with
// the affected record's id and fields.
func TestStoreEmitsChangeEvents(t *testing.T) {
	s := newTestStore(t)

	var events []models.ChangeEvent
	s.Subscribe(func(e models.ChangeEvent) { events = append(events, e) })

	record, err := s.InsertFeeding(110, time.Now(), "teal")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.UpdateFeeding(record.ID, 115, time.Now(), "teal")
	s.DeleteFeeding(record.ID)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantTypes := []string{models.EventFeedingAdded, models.EventFeedingUpdated, models.EventFeedingDeleted}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
		if events[i].RecordID != record.ID {
			t.Errorf("event %d: wrong record id %s", i, events[i].RecordID)
		}
	}
	if events[0].Fields["amount"] != 110 {
		t.Errorf("added event missing fields: %v", events[0].Fields)
	}
}
