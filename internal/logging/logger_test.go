// Package logging provides unit tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
)

// TestLoggerWritesJSON tests that entries are valid JSON with expected fields.
func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("queue drained", map[string]any{"processed": 3})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected INFO level, got %s", entry.Level)
	}
	if entry.Message != "queue drained" {
		t.Errorf("unexpected message %q", entry.Message)
	}
	if entry.Context["processed"] != float64(3) {
		t.Errorf("context not preserved: %v", entry.Context)
	}
}

// TestLoggerLevelFiltering tests that entries below the minimum level are dropped.
func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("noise")
	l.Info("noise")
	if buf.Len() != 0 {
		t.Errorf("expected no output below min level, got %q", buf.String())
	}

	l.Warn("kept")
	if buf.Len() == 0 {
		t.Error("expected warn entry to be written")
	}
}

// TestLoggerError tests error and code fields.
func TestLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.ErrorWithCode("drain failed", "SYNC_FAILED", stderrors.New("remote down"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry.Error != "remote down" {
		t.Errorf("expected error field, got %q", entry.Error)
	}
	if entry.Code != "SYNC_FAILED" {
		t.Errorf("expected code field, got %q", entry.Code)
	}
}

// TestLoggerMergesContext tests multiple context maps merge into one.
func TestLoggerMergesContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("merged", map[string]any{"a": "1"}, map[string]any{"b": "2"})

	out := buf.String()
	if !strings.Contains(out, `"a":"1"`) || !strings.Contains(out, `"b":"2"`) {
		t.Errorf("context maps not merged: %s", out)
	}
}
