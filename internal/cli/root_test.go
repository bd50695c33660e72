package cli

import (
	"testing"
	"time"

	"github.com/mariek/littlefeed/internal/config"
)

func TestRealtimeURLDerivation(t *testing.T) {
	tests := []struct {
		server   string
		explicit string
		want     string
	}{
		{"http://localhost:8093", "", "ws://localhost:8093/realtime"},
		{"https://sync.example.com/", "", "wss://sync.example.com/realtime"},
		{"http://localhost:8093", "ws://other:9000/rt", "ws://other:9000/rt"},
	}
	for _, tt := range tests {
		cfg := &config.Config{ServerURL: tt.server, RealtimeURL: tt.explicit}
		if got := realtimeURL(cfg); got != tt.want {
			t.Errorf("realtimeURL(%q, %q) = %q, want %q", tt.server, tt.explicit, got, tt.want)
		}
	}
}

func TestParseWhen(t *testing.T) {
	if _, err := parseWhen("not a time"); err == nil {
		t.Error("garbage accepted")
	}

	got, err := parseWhen("2026-03-01T08:30:00Z")
	if err != nil {
		t.Fatalf("RFC3339: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("parsed %v", got)
	}

	hm, err := parseWhen("14:45")
	if err != nil {
		t.Fatalf("HH:MM: %v", err)
	}
	if hm.Hour() != 14 || hm.Minute() != 45 {
		t.Errorf("HH:MM parsed to %v", hm)
	}
	if hm.YearDay() != time.Now().YearDay() {
		t.Errorf("HH:MM not anchored to today: %v", hm)
	}

	now, err := parseWhen("")
	if err != nil {
		t.Fatalf("empty: %v", err)
	}
	if time.Since(now) > time.Minute {
		t.Errorf("empty input not near now: %v", now)
	}
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"serve", "add", "list", "sync", "status"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q missing: %v", name, err)
		}
	}
	for _, name := range []string{"feeding", "diaper"} {
		cmd, _, err := root.Find([]string{"add", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("add %q missing: %v", name, err)
		}
	}
}
