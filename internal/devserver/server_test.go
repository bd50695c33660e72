package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mariek/littlefeed/internal/config"
	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/transport"
)

func newTestServer(t *testing.T, secret string) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.ServerConfig{JWTSecret: secret})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func TestHealthNeedsNoAuth(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	client := transport.New(ts.URL, "", time.Second)
	err := client.CreateFeeding(context.Background(), &models.FeedingEvent{ID: "f1", Amount: 100})
	if !apperrors.Is(err, apperrors.ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
}

func TestAPIAcceptsIssuedToken(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	token, err := NewToken("secret", "user-1")
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	client := transport.New(ts.URL, token, time.Second)
	if err := client.CreateFeeding(context.Background(), &models.FeedingEvent{ID: "f1", Amount: 100, Time: time.Now().Unix()}); err != nil {
		t.Fatalf("create with valid token: %v", err)
	}
}

func TestAPIRejectsForgedToken(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	forged, err := NewToken("other-secret", "user-1")
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	client := transport.New(ts.URL, forged, time.Second)
	err = client.CreateFeeding(context.Background(), &models.FeedingEvent{ID: "f1", Amount: 100})
	if !apperrors.Is(err, apperrors.ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
}

func TestBottleLifecycle(t *testing.T) {
	_, ts := newTestServer(t, "")
	client := transport.New(ts.URL, "", time.Second)
	ctx := context.Background()
	at := time.Now().Truncate(time.Second)

	rec := &models.FeedingEvent{ID: "f1", Amount: 120, Time: at.Unix(), Color: "blue"}
	if err := client.CreateFeeding(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Replayed create for the same id is a retry, not a conflict.
	if err := client.CreateFeeding(ctx, rec); err != nil {
		t.Fatalf("replayed create: %v", err)
	}

	rec.Amount = 150
	if err := client.UpdateFeeding(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	list, total, err := client.ListFeedings(ctx, time.Time{}, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("list = %d records (total %d), want 1", len(list), total)
	}
	if list[0].Amount != 150 || list[0].Time != at.Unix() {
		t.Errorf("listed record = %+v, want updated values", list[0])
	}

	if err := client.DeleteFeeding(ctx, "f1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.DeleteFeeding(ctx, "f1"); !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestUpdateMissingBottleIs404(t *testing.T) {
	_, ts := newTestServer(t, "")
	client := transport.New(ts.URL, "", time.Second)

	err := client.UpdateFeeding(context.Background(), &models.FeedingEvent{ID: "ghost", Amount: 10})
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListHonorsWindow(t *testing.T) {
	_, ts := newTestServer(t, "")
	client := transport.New(ts.URL, "", time.Second)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		rec := &models.DiaperEvent{
			ID:   "d" + string(rune('0'+i)),
			Time: base.Add(time.Duration(i) * time.Minute).Unix(),
			Note: "n",
		}
		if err := client.CreateDiaper(ctx, rec); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	list, total, err := client.ListDiapers(ctx, time.Time{}, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(list) != 3 {
		t.Fatalf("window = %d records, want 3", len(list))
	}
	// Most recent first.
	if list[0].Time < list[1].Time || list[1].Time < list[2].Time {
		t.Errorf("window not newest-first: %d, %d, %d", list[0].Time, list[1].Time, list[2].Time)
	}
}

func TestServerCloseStopsHub(t *testing.T) {
	s := New(config.ServerConfig{})

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned; hub loop still running")
	}
}
