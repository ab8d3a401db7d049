package wave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tide/pkg/config"
	"tide/pkg/eventlog"
	"tide/pkg/notify"
	"tide/pkg/signal"
	"tide/pkg/worktree"
)

// Syncer runs the post-development worktree sync checkpoint for a wave.
// *worktree.Syncer is the production implementation.
type Syncer interface {
	Sync(ctx context.Context, wave int) error
}

// Config holds orchestrator parameters.
type Config struct {
	// MaxRetries bounds the QA rejection sub-loop per wave.
	MaxRetries int

	// VerdictGate is the gate index QA verdict signals are keyed to;
	// MergeGate is the final gate whose approval deploys the wave.
	VerdictGate int
	MergeGate   int

	// Waves is the number of waves to drive, ids 1..Waves.
	Waves int

	Budget Budget
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxRetries == 0 {
		out.MaxRetries = config.DefaultMaxRetries
	}
	if out.VerdictGate == 0 {
		out.VerdictGate = GateDevelop
	}
	if out.MergeGate == 0 {
		out.MergeGate = GateMerge
	}
	if out.Waves == 0 {
		out.Waves = 1
	}
	return out
}

// Orchestrator drives every wave through the gate sequence. All durable
// state lives on the signal bus; the Orchestrator itself can be discarded
// and rebuilt at any point.
type Orchestrator struct {
	bus      *signal.Bus
	roster   config.Roster
	cfg      Config
	syncer   Syncer
	notifier notify.Notifier
	events   *eventlog.Logger

	// mu serializes ticks. The fsnotify fast path and the fallback poll
	// both drive Tick; only one pass may touch wave state at a time.
	mu      sync.Mutex
	waves   map[int]*Wave
	started map[int]bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewOrchestrator creates an Orchestrator. notifier may be nil; events may
// be nil.
func NewOrchestrator(bus *signal.Bus, roster config.Roster, cfg Config, syncer Syncer, notifier notify.Notifier, events *eventlog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		bus:      bus,
		roster:   roster,
		cfg:      cfg.withDefaults(),
		syncer:   syncer,
		notifier: notifier,
		events:   events,
		waves:    make(map[int]*Wave),
		started:  make(map[int]bool),
		nowFunc:  time.Now,
	}
}

// Wave returns the orchestrator's record for a wave id, creating it on
// first use.
func (o *Orchestrator) Wave(id int) *Wave {
	w, ok := o.waves[id]
	if !ok {
		w = &Wave{ID: id}
		o.waves[id] = w
	}
	return w
}

// Tick runs one poll pass over every wave. It returns done=true when all
// waves are terminal, and signal.ErrHalted without touching any wave state
// when the kill switch is engaged. Tick is safe for concurrent callers;
// ticks never interleave.
func (o *Orchestrator) Tick(ctx context.Context) (done bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Kill-switch precedence: checked before any wave is evaluated, so no
	// state transitions happen on a halted tick.
	if o.bus.Halted() {
		return false, signal.ErrHalted
	}

	done = true
	for id := 1; id <= o.cfg.Waves; id++ {
		w := o.Wave(id)
		if err := o.tickWave(ctx, w); err != nil {
			return false, err
		}
		if !w.Status.Terminal() {
			done = false
		}
	}
	return done, nil
}

// Run ticks until every wave is terminal, the kill switch engages, or the
// context is cancelled. A halt is a clean return, not an error: the waves
// keep their on-disk state and a later run resumes them.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := o.Tick(ctx)
		if errors.Is(err, signal.ErrHalted) {
			_ = o.events.Record(ctx, "halted", "", 0, "")
			return nil
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tickWave reconciles one wave: re-derive status from disk, run the sync
// precondition, then apply the transition priorities (first match wins).
func (o *Orchestrator) tickWave(ctx context.Context, w *Wave) error {
	prev := w.Status

	st, err := StatusFromDisk(o.bus, w.ID, o.cfg.VerdictGate, o.cfg.MergeGate)
	if err != nil {
		return err
	}
	if st.Kind == StatusRetry && st.Retry < w.Retries {
		st.Retry = w.Retries
	}
	if st.Kind == StatusRetry && st.Retry > w.Retries {
		w.Retries = st.Retry
	}
	w.Status = st

	if w.Status != prev {
		_ = o.events.Record(ctx, "status_change", "", w.ID,
			fmt.Sprintf(`{"from":%q,"to":%q}`, prev, w.Status))
	}
	if w.Status.Terminal() {
		return nil
	}

	if err := o.startWave(ctx, w); err != nil {
		return err
	}

	if err := o.maybeSync(ctx, w); err != nil {
		return err
	}
	if w.Status.Terminal() {
		return nil
	}

	// Priority 1: fix complete.
	if w.Status.Kind == StatusRetry {
		sig, err := o.bus.Observe(signal.AgentRef(o.roster.FixAgent, signal.KindComplete))
		if err != nil {
			return err
		}
		if sig != nil {
			return o.handleFixComplete(ctx, w)
		}
	}

	// Priority 2: QA rejection. Evaluated before approval, so when both
	// verdicts are present the rejection wins.
	rejected, err := o.bus.Observe(signal.GateRef(w.ID, o.cfg.VerdictGate, OutcomeRejected))
	if err != nil {
		return err
	}
	if rejected != nil {
		return o.handleRejection(ctx, w, rejected)
	}

	// Priority 3: first QA approval.
	approved, err := o.bus.Observe(signal.GateRef(w.ID, o.cfg.VerdictGate, OutcomeApproved))
	if err != nil {
		return err
	}
	if approved != nil && !w.costRecorded {
		return o.handleApproval(ctx, w, approved)
	}

	// Priority 4: final merge approval while QA approved.
	if w.Status.Kind == StatusQAApproved {
		mergeOK, err := o.bus.Observe(signal.GateRef(w.ID, o.cfg.MergeGate, OutcomeApproved))
		if err != nil {
			return err
		}
		if mergeOK != nil {
			return o.handleDeploy(ctx, w)
		}
	}
	return nil
}

// startWave publishes the contributor assignment signals once per wave.
func (o *Orchestrator) startWave(ctx context.Context, w *Wave) error {
	if o.started[w.ID] || w.Status.Kind != StatusPending {
		return nil
	}
	o.started[w.ID] = true

	for _, agent := range o.roster.Contributors() {
		ref := signal.AgentRef(agent, signal.KindAssignment)
		existing, err := o.bus.Observe(ref)
		if err != nil {
			return err
		}
		if existing != nil {
			// A prior run already assigned this wave. Resumed, not restarted.
			continue
		}
		if err := o.bus.Publish(ref, map[string]any{"wave": w.ID}); err != nil {
			return err
		}
	}

	o.notify(ctx, notify.EventWaveStart, w.ID,
		fmt.Sprintf("wave %d started with %d contributors", w.ID, len(o.roster.Contributors())))
	_ = o.events.Record(ctx, "wave_start", "", w.ID, "")
	return nil
}

// maybeSync runs the worktree sync checkpoint when every contributor has
// published development-complete and sync has not yet succeeded this wave.
// Sync is a precondition gate: the verdict priorities only ever see a wave
// whose trunk already carries the merged work.
func (o *Orchestrator) maybeSync(ctx context.Context, w *Wave) error {
	synced, err := o.bus.Observe(signal.GateRef(w.ID, o.cfg.VerdictGate, worktree.OutcomeSyncComplete))
	if err != nil {
		return err
	}
	if synced != nil {
		return nil
	}

	for _, agent := range o.roster.Contributors() {
		sig, err := o.bus.Observe(signal.AgentRef(agent, signal.KindComplete))
		if err != nil {
			return err
		}
		if sig == nil {
			return nil
		}
	}

	if err := o.syncer.Sync(ctx, w.ID); err != nil {
		var conflict *worktree.ConflictError
		if errors.As(err, &conflict) {
			w.Status = Status{Kind: StatusEscalated}
			o.notify(ctx, notify.EventEscalation, w.ID,
				fmt.Sprintf("merge conflict merging %s: %d conflicting files, human intervention required",
					conflict.SourceBranch, len(conflict.Files)))
			return nil
		}
		// Transient sync failure: leave the complete signals in place and
		// try again next tick.
		_ = o.events.Record(ctx, "sync_failed", "", w.ID, err.Error())
		return nil
	}

	// Acknowledge the contributor signals so a later wave's completions
	// are unambiguous.
	for _, agent := range o.roster.Contributors() {
		if err := o.bus.Consume(signal.AgentRef(agent, signal.KindComplete)); err != nil {
			return err
		}
	}
	o.notify(ctx, notify.EventSync, w.ID, fmt.Sprintf("wave %d synced to trunk, QA worktree reset", w.ID))
	return nil
}

// handleFixComplete clears the retry sub-loop state and re-arms QA.
func (o *Orchestrator) handleFixComplete(ctx context.Context, w *Wave) error {
	if err := o.bus.Archive(signal.GateRef(w.ID, o.cfg.VerdictGate, OutcomeRetry)); err != nil {
		return err
	}
	if err := o.bus.Consume(signal.AgentRef(o.roster.FixAgent, signal.KindComplete)); err != nil {
		return err
	}
	if err := o.bus.Consume(signal.AgentRef(o.roster.QAAgent, signal.KindComplete)); err != nil {
		return err
	}
	if err := o.bus.Publish(signal.AgentRef(o.roster.QAAgent, signal.KindAssignment),
		map[string]any{"wave": w.ID, "retry": w.Retries}); err != nil {
		return err
	}

	w.Status = Status{Kind: StatusPending}
	o.notify(ctx, notify.EventGateTransition, w.ID,
		fmt.Sprintf("fix applied on retry %d, QA re-armed", w.Retries))
	_ = o.events.Record(ctx, "fix_complete", o.roster.FixAgent, w.ID, "")
	return nil
}

// handleRejection applies the retry/escalation policy to a QA rejection.
func (o *Orchestrator) handleRejection(ctx context.Context, w *Wave, sig *signal.Signal) error {
	var p rejectionPayload
	_ = json.Unmarshal(sig.Payload, &p)
	count := p.RejectionCount
	if count < w.Retries {
		count = w.Retries
	}

	ref := signal.GateRef(w.ID, o.cfg.VerdictGate, OutcomeRejected)

	if count >= o.cfg.MaxRetries {
		published, err := o.bus.PublishEscalation(signal.Escalation{
			Wave:      w.ID,
			Reason:    signal.ReasonMaxRetries,
			Summary:   fmt.Sprintf("wave %d exhausted %d QA retries", w.ID, o.cfg.MaxRetries),
			Rejection: sig.Payload,
		})
		if err != nil {
			return err
		}
		if err := o.bus.Archive(ref); err != nil {
			return err
		}

		w.Status = Status{Kind: StatusEscalated}
		if published {
			o.notify(ctx, notify.EventEscalation, w.ID,
				fmt.Sprintf("wave %d escalated: QA rejected %d times (max %d)", w.ID, count, o.cfg.MaxRetries))
			_ = o.events.Record(ctx, "escalation", "", w.ID, `{"reason":"max_retries"}`)
		}
		return nil
	}

	next := count + 1
	w.Retries = next

	if err := o.bus.Archive(ref); err != nil {
		return err
	}
	// A rejection invalidates any outcome already recorded at or past the
	// verdict gate, including a simultaneous approval.
	if err := o.bus.ConsumeGateOutcomes(w.ID, o.cfg.VerdictGate); err != nil {
		return err
	}
	// QA's own completion depended on the now-invalid development state.
	if err := o.bus.Consume(signal.AgentRef(o.roster.QAAgent, signal.KindComplete)); err != nil {
		return err
	}
	if err := o.bus.Publish(signal.GateRef(w.ID, o.cfg.VerdictGate, OutcomeRetry),
		retryPayload{Retry: next, RejectionCount: next, Rejection: sig.Payload}); err != nil {
		return err
	}
	if err := o.bus.Publish(signal.AgentRef(o.roster.FixAgent, signal.KindAssignment),
		map[string]any{"wave": w.ID, "retry": next, "rejection": sig.Payload}); err != nil {
		return err
	}

	w.Status = Status{Kind: StatusRetry, Retry: next}
	o.notify(ctx, notify.EventRetry, w.ID,
		fmt.Sprintf("QA rejected wave %d, retry %d of %d", w.ID, next, o.cfg.MaxRetries))
	_ = o.events.Record(ctx, "retry", "", w.ID, fmt.Sprintf(`{"retry":%d}`, next))
	return nil
}

// handleApproval records the first QA approval: cost accounting plus the
// budget threshold checks. The approval signal stays on disk as the
// QA_APPROVED reconstruction marker.
func (o *Orchestrator) handleApproval(ctx context.Context, w *Wave, sig *signal.Signal) error {
	var p approvalPayload
	_ = json.Unmarshal(sig.Payload, &p)

	w.Spend += p.Cost
	w.costRecorded = true
	w.Status = Status{Kind: StatusQAApproved}

	o.notify(ctx, notify.EventQAResult, w.ID,
		fmt.Sprintf("wave %d QA approved, %s", w.ID, o.cfg.Budget.Describe(w.Spend)))
	_ = o.events.Record(ctx, "qa_approved", o.roster.QAAgent, w.ID,
		fmt.Sprintf(`{"cost":%g,"spend":%g}`, p.Cost, w.Spend))

	if lvl := o.cfg.Budget.Level(w.Spend); lvl > w.budgetNotified {
		w.budgetNotified = lvl
		evType := notify.EventBudgetWarn
		if lvl == BudgetCritical {
			evType = notify.EventBudgetCritical
		}
		o.notify(ctx, evType, w.ID,
			fmt.Sprintf("wave %d budget: %s", w.ID, o.cfg.Budget.Describe(w.Spend)))
	}
	return nil
}

// handleDeploy moves an approved wave to its terminal deployed state.
func (o *Orchestrator) handleDeploy(ctx context.Context, w *Wave) error {
	if err := o.bus.Publish(signal.GateRef(w.ID, o.cfg.MergeGate, OutcomeDeployed),
		map[string]any{"deployed_at": o.nowFunc().UTC().Format(signal.TimeLayout)}); err != nil {
		return err
	}
	if err := o.bus.Archive(signal.GateRef(w.ID, o.cfg.MergeGate, OutcomeApproved)); err != nil {
		return err
	}

	w.Status = Status{Kind: StatusDeployed}
	o.notify(ctx, notify.EventDeploy, w.ID, fmt.Sprintf("wave %d deployed", w.ID))
	_ = o.events.Record(ctx, "deployed", "", w.ID, "")
	return nil
}

// notify delivers a best-effort notification; failures are logged to the
// event log and otherwise ignored.
func (o *Orchestrator) notify(ctx context.Context, evType string, waveID int, summary string) {
	ev := notify.NewEvent(evType, waveID, summary)
	if err := o.notifier.Notify(ctx, ev); err != nil {
		_ = o.events.Record(ctx, "notify_failed", "", waveID, err.Error())
	}
}
