package eventlog //nolint:testpackage // white-box tests alongside the package

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordAndQuery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	logger, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = logger.Close() }()

	ctx := context.Background()
	rows := []struct {
		evType, agent string
		wave          int
	}{
		{"gate_transition", "", 1},
		{"alert", "qa", 1},
		{"alert", "frontend-1", 2},
		{"escalation", "", 2},
	}
	for _, r := range rows {
		if err := logger.Record(ctx, r.evType, r.agent, r.wave, `{"n":1}`); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	reader, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer func() { _ = reader.Close() }()

	all, err := reader.Query(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Query all = %d rows", len(all))
	}
	// Newest first.
	if all[0].Type != "escalation" {
		t.Errorf("first row = %q, want escalation", all[0].Type)
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}

	alerts, err := reader.Query(ctx, QueryOpts{EventType: "alert"})
	if err != nil || len(alerts) != 2 {
		t.Fatalf("alert filter = %d rows, err %v", len(alerts), err)
	}

	wave2, err := reader.Query(ctx, QueryOpts{Wave: 2, Limit: 1})
	if err != nil || len(wave2) != 1 {
		t.Fatalf("wave filter = %d rows, err %v", len(wave2), err)
	}

	byAgent, err := reader.Query(ctx, QueryOpts{Agent: "qa"})
	if err != nil || len(byAgent) != 1 || byAgent[0].Agent != "qa" {
		t.Fatalf("agent filter = %+v, err %v", byAgent, err)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	if err := l.Record(context.Background(), "x", "", 0, ""); err != nil {
		t.Errorf("nil Logger Record: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil Logger Close: %v", err)
	}
}

func TestNewReaderMissingDB(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.db"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("NewReader missing = %v", err)
	}
}
