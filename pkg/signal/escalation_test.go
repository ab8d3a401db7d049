package signal //nolint:testpackage // white-box tests need unexported fields

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublishEscalationAtMostOne(t *testing.T) {
	b := newTestBus(t)

	first := Escalation{
		Wave:    1,
		Reason:  ReasonMergeConflict,
		Summary: "conflict merging feature/fe-dev",
		ConflictingFiles: []string{
			"src/a.ts",
		},
	}
	published, err := b.PublishEscalation(first)
	if err != nil {
		t.Fatalf("PublishEscalation: %v", err)
	}
	if !published {
		t.Fatal("first escalation not published")
	}

	e, err := b.ActiveEscalation(1)
	if err != nil {
		t.Fatalf("ActiveEscalation: %v", err)
	}
	if e == nil || e.Reason != ReasonMergeConflict {
		t.Fatalf("ActiveEscalation = %+v", e)
	}
	if e.ID == "" || e.CreatedAt == "" {
		t.Error("escalation missing generated ID or timestamp")
	}

	// A second escalation for the same wave must not replace the active one.
	published, err = b.PublishEscalation(Escalation{Wave: 1, Reason: ReasonMaxRetries})
	if err != nil {
		t.Fatalf("second PublishEscalation: %v", err)
	}
	if published {
		t.Error("second escalation published while first still active")
	}
	e, _ = b.ActiveEscalation(1)
	if e.Reason != ReasonMergeConflict {
		t.Errorf("active escalation replaced: reason = %q", e.Reason)
	}

	// A different wave is independent.
	published, err = b.PublishEscalation(Escalation{Wave: 2, Reason: ReasonMaxRetries, Summary: "retries exhausted"})
	if err != nil || !published {
		t.Fatalf("wave 2 escalation = %v, %v", published, err)
	}
}

func TestAcknowledgeEscalation(t *testing.T) {
	b := newTestBus(t)

	if _, err := b.PublishEscalation(Escalation{Wave: 3, Reason: ReasonMaxRetries, Summary: "x"}); err != nil {
		t.Fatalf("PublishEscalation: %v", err)
	}

	if err := b.AcknowledgeEscalation(3); err != nil {
		t.Fatalf("AcknowledgeEscalation: %v", err)
	}

	// Record gone from the root, present in the archive.
	if e, _ := b.ActiveEscalation(3); e != nil {
		t.Error("escalation still active after ack")
	}
	entries, err := os.ReadDir(filepath.Join(b.root, ArchiveDir))
	if err != nil || len(entries) == 0 {
		t.Fatalf("archive after ack: %v entries, err %v", len(entries), err)
	}

	// Double-ack is an operator mistake and is reported.
	if err := b.AcknowledgeEscalation(3); err == nil {
		t.Error("second ack succeeded, want error")
	}

	// After ack, a new escalation may be published for the wave.
	published, err := b.PublishEscalation(Escalation{Wave: 3, Reason: ReasonMergeConflict, Summary: "y"})
	if err != nil || !published {
		t.Errorf("re-escalation after ack = %v, %v", published, err)
	}
}

func TestEscalationAge(t *testing.T) {
	b := newTestBus(t)
	published := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return published }

	if age := b.EscalationAge(1, published); age != 0 {
		t.Errorf("age with no escalation = %s, want 0", age)
	}

	if _, err := b.PublishEscalation(Escalation{Wave: 1, Reason: ReasonMaxRetries}); err != nil {
		t.Fatalf("PublishEscalation: %v", err)
	}
	if age := b.EscalationAge(1, published.Add(90*time.Second)); age != 90*time.Second {
		t.Errorf("age = %s, want 90s", age)
	}
}
