//nolint:testpackage // white-box tests exercise unexported internals
package wave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tide/pkg/config"
	"tide/pkg/notify"
	"tide/pkg/signal"
	"tide/pkg/worktree"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureNotifier) count(evType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == evType {
			n++
		}
	}
	return n
}

// fakeSyncer stands in for the worktree sync checkpoint. On success it
// publishes the sync-complete signal the way the real syncer does.
type fakeSyncer struct {
	bus   *signal.Bus
	gate  int
	calls int
	err   error
}

func (f *fakeSyncer) Sync(_ context.Context, wave int) error {
	f.calls++
	if f.err != nil {
		// The real syncer publishes the escalation before surfacing a
		// conflict.
		var conflict *worktree.ConflictError
		if errors.As(f.err, &conflict) {
			_, _ = f.bus.PublishEscalation(signal.Escalation{
				Wave:             wave,
				Reason:           signal.ReasonMergeConflict,
				ConflictingFiles: conflict.Files,
			})
		}
		return f.err
	}
	return f.bus.Publish(signal.GateRef(wave, f.gate, worktree.OutcomeSyncComplete), nil)
}

func testRoster() config.Roster {
	return config.Roster{
		Agents: []config.Agent{
			{Name: "frontend-1", Contributor: true},
			{Name: "backend-1", Contributor: true},
			{Name: "qa"},
			{Name: "fix-agent"},
		},
		QAAgent:  "qa",
		FixAgent: "fix-agent",
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *signal.Bus, *captureNotifier, *fakeSyncer) {
	t.Helper()
	bus := signal.New(t.TempDir())
	notifier := &captureNotifier{}
	syncer := &fakeSyncer{bus: bus, gate: GateDevelop}
	cfg := Config{
		MaxRetries: 3,
		Waves:      1,
		Budget:     Budget{Ceiling: 100, WarnPct: 80, CriticalPct: 95},
	}
	o := NewOrchestrator(bus, testRoster(), cfg, syncer, notifier, nil)
	return o, bus, notifier, syncer
}

func tick(t *testing.T, o *Orchestrator) bool {
	t.Helper()
	done, err := o.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return done
}

func TestWaveStartPublishesAssignments(t *testing.T) {
	o, bus, notifier, _ := newTestOrchestrator(t)

	tick(t, o)

	for _, agent := range []string{"frontend-1", "backend-1"} {
		sig, err := bus.Observe(signal.AgentRef(agent, signal.KindAssignment))
		if err != nil || sig == nil {
			t.Errorf("no assignment for %s (err=%v)", agent, err)
		}
	}
	if notifier.count(notify.EventWaveStart) != 1 {
		t.Errorf("wave_start notifications = %d, want 1", notifier.count(notify.EventWaveStart))
	}

	// Second tick must not re-announce or re-assign.
	tick(t, o)
	if notifier.count(notify.EventWaveStart) != 1 {
		t.Errorf("wave_start notified again on second tick")
	}
}

func TestSyncRunsWhenAllContributorsComplete(t *testing.T) {
	o, bus, notifier, syncer := newTestOrchestrator(t)

	if err := bus.Publish(signal.AgentRef("frontend-1", signal.KindComplete), nil); err != nil {
		t.Fatal(err)
	}
	tick(t, o)
	if syncer.calls != 0 {
		t.Fatalf("sync ran with only one contributor complete")
	}

	if err := bus.Publish(signal.AgentRef("backend-1", signal.KindComplete), nil); err != nil {
		t.Fatal(err)
	}
	tick(t, o)
	if syncer.calls != 1 {
		t.Fatalf("sync calls = %d, want 1", syncer.calls)
	}
	if sig, _ := bus.Observe(signal.AgentRef("frontend-1", signal.KindComplete)); sig != nil {
		t.Error("contributor complete signal not consumed after sync")
	}
	if notifier.count(notify.EventSync) != 1 {
		t.Errorf("sync notifications = %d, want 1", notifier.count(notify.EventSync))
	}

	// sync-complete is on disk now; further ticks must not re-sync.
	tick(t, o)
	if syncer.calls != 1 {
		t.Errorf("sync re-ran after success, calls = %d", syncer.calls)
	}
}

func TestSyncConflictEscalatesWave(t *testing.T) {
	o, bus, notifier, syncer := newTestOrchestrator(t)
	syncer.err = &worktree.ConflictError{
		Files:        []string{"src/a.ts"},
		SourceBranch: "agent/frontend-1",
		TargetBranch: "main",
		Wave:         1,
	}
	for _, agent := range []string{"frontend-1", "backend-1"} {
		if err := bus.Publish(signal.AgentRef(agent, signal.KindComplete), nil); err != nil {
			t.Fatal(err)
		}
	}
	done := tick(t, o)

	if o.Wave(1).Status.Kind != StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", o.Wave(1).Status)
	}
	if !done {
		t.Error("escalated wave must count as terminal")
	}
	if notifier.count(notify.EventEscalation) == 0 {
		t.Error("no escalation notification")
	}
	esc, err := bus.ActiveEscalation(1)
	if err != nil || esc == nil {
		t.Fatalf("no active escalation record (err=%v)", err)
	}
	if len(esc.ConflictingFiles) != 1 || esc.ConflictingFiles[0] != "src/a.ts" {
		t.Errorf("ConflictingFiles = %v", esc.ConflictingFiles)
	}
}

func TestRejectionBelowCeilingTriggersRetry(t *testing.T) {
	o, bus, notifier, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 2, "feedback": "tests missing"}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusRetry || w.Status.Retry != 3 {
		t.Errorf("status = %s, want RETRY_3", w.Status)
	}

	retrySig, err := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeRetry))
	if err != nil || retrySig == nil {
		t.Fatalf("no retry-trigger signal (err=%v)", err)
	}
	if fix, _ := bus.Observe(signal.AgentRef("fix-agent", signal.KindAssignment)); fix == nil {
		t.Error("no fix-agent assignment")
	}
	if rej, _ := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeRejected)); rej != nil {
		t.Error("rejection signal not archived")
	}
	if notifier.count(notify.EventRetry) != 1 {
		t.Errorf("retry notifications = %d, want 1", notifier.count(notify.EventRetry))
	}
}

func TestRejectionAtCeilingEscalates(t *testing.T) {
	o, bus, notifier, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 3}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	if o.Wave(1).Status.Kind != StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", o.Wave(1).Status)
	}
	esc, err := bus.ActiveEscalation(1)
	if err != nil || esc == nil {
		t.Fatalf("no escalation record (err=%v)", err)
	}
	if esc.Reason != signal.ReasonMaxRetries {
		t.Errorf("reason = %s, want %s", esc.Reason, signal.ReasonMaxRetries)
	}
	if len(esc.Rejection) == 0 {
		t.Error("escalation does not embed the rejection payload")
	}
	if retrySig, _ := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeRetry)); retrySig != nil {
		t.Error("retry-trigger signal written despite escalation")
	}
	if notifier.count(notify.EventEscalation) != 1 {
		t.Errorf("escalation notifications = %d, want 1", notifier.count(notify.EventEscalation))
	}
}

func TestFixCompleteReArmsQA(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 1}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)
	if o.Wave(1).Status.Kind != StatusRetry {
		t.Fatalf("status = %s, want RETRY_2", o.Wave(1).Status)
	}

	if err := bus.Publish(signal.AgentRef("fix-agent", signal.KindComplete), nil); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusPending {
		t.Errorf("status = %s, want PENDING after fix", w.Status)
	}
	if w.Retries != 2 {
		t.Errorf("Retries = %d, want high-water 2 preserved", w.Retries)
	}
	if sig, _ := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeRetry)); sig != nil {
		t.Error("retry-trigger not cleared by fix-complete")
	}
	if sig, _ := bus.Observe(signal.AgentRef("fix-agent", signal.KindComplete)); sig != nil {
		t.Error("fix-complete signal not consumed")
	}
	if sig, _ := bus.Observe(signal.AgentRef("qa", signal.KindAssignment)); sig == nil {
		t.Error("QA not re-armed")
	}
}

func TestRetryCounterIsMonotonic(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)

	// First rejection, then fix, then a second rejection whose payload
	// carries no count. The counter must build on the high-water mark,
	// not restart at 1.
	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 1}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)
	if err := bus.Publish(signal.AgentRef("fix-agent", signal.KindComplete), nil); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusRetry || w.Status.Retry != 3 {
		t.Errorf("status = %s, want RETRY_3", w.Status)
	}
}

func TestApprovalRecordsCostAndBudget(t *testing.T) {
	o, bus, notifier, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeApproved),
		map[string]any{"cost": 85.0}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusQAApproved {
		t.Errorf("status = %s, want QA_APPROVED", w.Status)
	}
	if w.Spend != 85.0 {
		t.Errorf("Spend = %g, want 85", w.Spend)
	}
	if notifier.count(notify.EventQAResult) != 1 {
		t.Errorf("qa_result notifications = %d, want 1", notifier.count(notify.EventQAResult))
	}
	if notifier.count(notify.EventBudgetWarn) != 1 {
		t.Errorf("budget_warning notifications = %d, want 1", notifier.count(notify.EventBudgetWarn))
	}
	if notifier.count(notify.EventBudgetCritical) != 0 {
		t.Error("budget critical fired below the threshold")
	}

	// Re-ticking with the approval still on disk must not double-count.
	tick(t, o)
	if w.Spend != 85.0 {
		t.Errorf("Spend after re-tick = %g, want 85", w.Spend)
	}
	if notifier.count(notify.EventBudgetWarn) != 1 {
		t.Error("budget warning re-fired without a new threshold crossing")
	}
}

func TestRejectionWinsOverSimultaneousApproval(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeApproved),
		map[string]any{"cost": 10.0}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 1}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusRetry {
		t.Errorf("status = %s, want RETRY_2 (rejection wins)", w.Status)
	}
	if w.Spend != 0 {
		t.Errorf("Spend = %g, want 0 when rejection wins the tick", w.Spend)
	}
	if sig, _ := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeApproved)); sig != nil {
		t.Error("stale approval survived the rejection")
	}
}

func TestMergeApprovalDeploys(t *testing.T) {
	o, bus, notifier, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeApproved),
		map[string]any{"cost": 5.0}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	// Merge approval present but wave only just approved: deploy happens
	// on the next tick once no higher priority fires.
	if err := bus.Publish(signal.GateRef(1, GateMerge, OutcomeApproved), nil); err != nil {
		t.Fatal(err)
	}
	done := tick(t, o)

	w := o.Wave(1)
	if w.Status.Kind != StatusDeployed {
		t.Errorf("status = %s, want DEPLOYED", w.Status)
	}
	if !done {
		t.Error("Tick not done with the only wave deployed")
	}
	if sig, _ := bus.Observe(signal.GateRef(1, GateMerge, OutcomeDeployed)); sig == nil {
		t.Error("deployed marker not published")
	}
	if notifier.count(notify.EventDeploy) != 1 {
		t.Errorf("deploy notifications = %d, want 1", notifier.count(notify.EventDeploy))
	}
}

func TestKillSwitchFreezesAllTransitions(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 1}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Halt("manual stop"); err != nil {
		t.Fatal(err)
	}

	_, err := o.Tick(context.Background())
	if err != signal.ErrHalted {
		t.Fatalf("Tick error = %v, want ErrHalted", err)
	}
	if o.Wave(1).Status.Kind != StatusPending {
		t.Errorf("status = %s, wave state changed on a halted tick", o.Wave(1).Status)
	}
	if sig, _ := bus.Observe(signal.GateRef(1, GateDevelop, OutcomeRetry)); sig != nil {
		t.Error("retry-trigger written while halted")
	}

	// Resuming picks the rejection back up.
	if err := bus.Resume(); err != nil {
		t.Fatal(err)
	}
	tick(t, o)
	if o.Wave(1).Status.Kind != StatusRetry {
		t.Errorf("status = %s after resume, want RETRY_2", o.Wave(1).Status)
	}
}

func TestReconstructionAfterRestart(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)

	if err := bus.Publish(signal.GateRef(1, GateDevelop, OutcomeRejected),
		map[string]any{"rejection_count": 1}); err != nil {
		t.Fatal(err)
	}
	tick(t, o)

	// A fresh orchestrator over the same root must land on the same state
	// from disk alone.
	rebuilt := NewOrchestrator(bus, testRoster(), Config{MaxRetries: 3, Waves: 1}, &fakeSyncer{bus: bus, gate: GateDevelop}, nil, nil)
	done, err := rebuilt.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if done {
		t.Error("rebuilt orchestrator reported done with a retry pending")
	}
	w := rebuilt.Wave(1)
	if w.Status.Kind != StatusRetry || w.Status.Retry != 2 {
		t.Errorf("rebuilt status = %s, want RETRY_2", w.Status)
	}
}

func TestRunReturnsWhenHalted(t *testing.T) {
	o, bus, _, _ := newTestOrchestrator(t)
	if err := bus.Halt("drill"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Run(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run did not return promptly on kill switch")
	}
}

// slowSyncer holds the sync step open and records whether two sync calls
// ever ran at the same time. The transient error keeps the contributor
// complete signals in place so every tick re-enters the sync path.
type slowSyncer struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (s *slowSyncer) Sync(_ context.Context, _ int) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(10 * time.Millisecond)
	s.inFlight.Add(-1)
	return errors.New("trunk still settling")
}

func TestConcurrentTicksNeverInterleave(t *testing.T) {
	bus := signal.New(t.TempDir())
	syncer := &slowSyncer{}
	o := NewOrchestrator(bus, testRoster(), Config{Waves: 1}, syncer, nil, nil)

	for _, agent := range []string{"frontend-1", "backend-1"} {
		if err := bus.Publish(signal.AgentRef(agent, signal.KindComplete), nil); err != nil {
			t.Fatal(err)
		}
	}

	// The filesystem watcher and the fallback poll both drive Tick; model
	// them as two goroutines hammering it.
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				if _, err := o.Tick(context.Background()); err != nil {
					t.Errorf("Tick: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if syncer.overlap.Load() {
		t.Error("two ticks ran the sync step at the same time")
	}
}
