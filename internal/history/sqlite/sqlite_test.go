package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/katsctl/internal/history"
)

func TestSQLiteSink_FileRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	events := []history.Event{
		{Type: history.EventCacheStart, OccurredAt: base, Process: "redis", PID: 100, Outcome: history.OutcomeOK},
		{Type: history.EventStart, OccurredAt: base.Add(time.Second), Process: "kats", PID: 200, Outcome: history.OutcomeOK, TradeMode: "PAPER"},
		{Type: history.EventStop, OccurredAt: base.Add(2 * time.Second), Process: "kats", PID: 200, Outcome: "TERMINATION", Detail: "pid 200 survived"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	got, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != history.EventStop || got[0].Detail != "pid 200 survived" {
		t.Fatalf("newest event first expected, got %+v", got[0])
	}
	if got[1].TradeMode != "PAPER" || got[2].Process != "redis" {
		t.Fatalf("unexpected ordering or fields: %+v", got)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, history.Event{Type: history.EventRestart, OccurredAt: time.Now(), Process: "kats", Outcome: history.OutcomeOK}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	got, err := sink.Recent(ctx, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("recent: %v %+v", err, got)
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Process: "kats"}); err == nil {
		t.Fatalf("expected error with cancelled context")
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
