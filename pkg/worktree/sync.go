package worktree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tide/pkg/eventlog"
	"tide/pkg/signal"
)

// Sync outcome names used in gate signals.
const (
	OutcomeSyncComplete = "sync-complete"
	OutcomeSyncFailed   = "sync-failed"
)

// RemediationChecklist is the fixed, human-actionable recovery procedure
// attached to every merge-conflict escalation.
var RemediationChecklist = []string{
	"open the trunk checkout and run 'git status' to review the aborted merge",
	"merge the listed source branch manually and resolve each conflicting file",
	"commit the resolution on the trunk branch",
	"acknowledge the escalation with 'tide ack --wave <N>'",
	"re-run 'tide sync --wave <N>' to resume the pipeline",
}

// ConflictError is returned when a trunk merge hits unmerged paths. The
// merge has already been aborted and the escalation published by the time
// the caller sees it.
type ConflictError struct {
	Files        []string
	SourceBranch string
	TargetBranch string
	Wave         int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict on wave %d merging %s into %s: %s",
		e.Wave, e.SourceBranch, e.TargetBranch, strings.Join(e.Files, ", "))
}

// SyncConfig holds Syncer parameters.
type SyncConfig struct {
	// Repo is the trunk checkout the contributor branches merge into.
	Repo string

	// Trunk is the shared integration branch.
	Trunk string

	// Contributors are the contributing agents in merge order.
	Contributors []string

	// QAAgent's worktree is reset to trunk after a successful sync.
	QAAgent string

	// Gate is the pipeline gate index the sync outcome signal is keyed to.
	Gate int
}

// Syncer performs the post-development sync checkpoint: commit each
// contributor worktree, merge their branches into trunk in roster order,
// and hand the result to QA. Each step is idempotent, so a crashed sync is
// safe to re-run from the top.
type Syncer struct {
	git     GitRunner
	bus     *signal.Bus
	manager *Manager
	cfg     SyncConfig
	events  *eventlog.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewSyncer creates a Syncer. events may be nil.
func NewSyncer(git GitRunner, bus *signal.Bus, manager *Manager, cfg SyncConfig, events *eventlog.Logger) *Syncer {
	return &Syncer{
		git:     git,
		bus:     bus,
		manager: manager,
		cfg:     cfg,
		events:  events,
		nowFunc: time.Now,
	}
}

// Sync runs the full checkpoint for wave. On success a sync-complete signal
// is published; on any failure a sync-failed signal is published so the
// orchestrator reacts without polling git state. A *ConflictError means an
// escalation was also published; any other error is transient and may be
// retried.
func (s *Syncer) Sync(ctx context.Context, wave int) error {
	if err := s.commitOutstanding(ctx, wave); err != nil {
		s.publishOutcome(wave, OutcomeSyncFailed, err.Error())
		return err
	}

	for _, agent := range s.cfg.Contributors {
		if err := s.mergeContributor(ctx, wave, agent); err != nil {
			s.publishOutcome(wave, OutcomeSyncFailed, err.Error())
			return err
		}
	}

	if err := s.resetQAWorktree(ctx); err != nil {
		s.publishOutcome(wave, OutcomeSyncFailed, err.Error())
		return err
	}

	s.publishOutcome(wave, OutcomeSyncComplete, "")
	_ = s.events.Record(ctx, "sync_complete", "", wave, "")
	return nil
}

// commitOutstanding commits uncommitted changes in every contributor
// worktree. A clean worktree is skipped, which is what makes the step
// re-runnable.
func (s *Syncer) commitOutstanding(ctx context.Context, wave int) error {
	for _, agent := range s.cfg.Contributors {
		wt := s.manager.PathFor(agent)

		status, _, err := s.git.Run(ctx, wt, "status", "--porcelain")
		if err != nil {
			return fmt.Errorf("status for %s: %w", agent, err)
		}
		if strings.TrimSpace(status) == "" {
			continue
		}

		if _, _, err := s.git.Run(ctx, wt, "add", "-A"); err != nil {
			return fmt.Errorf("stage changes for %s: %w", agent, err)
		}
		msg := fmt.Sprintf("wave %d checkpoint: %s", wave, agent)
		if _, _, err := s.git.Run(ctx, wt, "commit", "-m", msg); err != nil {
			return fmt.Errorf("commit changes for %s: %w", agent, err)
		}
	}
	return nil
}

// mergeContributor merges one contributor branch into trunk. On unmerged
// paths the merge is aborted and an escalation published; the worktree is
// left in its pre-merge state. Merge failures without unmerged paths are
// transient.
func (s *Syncer) mergeContributor(ctx context.Context, wave int, agent string) error {
	branch := BranchFor(agent)
	msg := fmt.Sprintf("merge %s for wave %d", branch, wave)

	_, _, mergeErr := s.git.Run(ctx, s.cfg.Repo, "merge", "--no-ff", branch, "-m", msg)
	if mergeErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("sync cancelled: %w", ctx.Err())
	}

	files := s.unmergedPaths(ctx)
	if len(files) == 0 {
		// No conflict markers — a transient failure (missing branch,
		// locked index). Do not escalate.
		return fmt.Errorf("merge %s into %s: %w", branch, s.cfg.Trunk, mergeErr)
	}

	// Conflict: abort first so the tree is never left half-merged, then
	// escalate. Never auto-resolve.
	_, _, _ = s.git.Run(ctx, s.cfg.Repo, "merge", "--abort")

	conflict := &ConflictError{
		Files:        files,
		SourceBranch: branch,
		TargetBranch: s.cfg.Trunk,
		Wave:         wave,
	}
	published, err := s.bus.PublishEscalation(signal.Escalation{
		Wave:             wave,
		Reason:           signal.ReasonMergeConflict,
		Summary:          fmt.Sprintf("merge conflict: %s into %s", branch, s.cfg.Trunk),
		ConflictingFiles: files,
		SourceBranch:     branch,
		TargetBranch:     s.cfg.Trunk,
		Remediation:      RemediationChecklist,
	})
	if err != nil {
		_ = s.events.Record(ctx, "escalation_publish_failed", agent, wave, err.Error())
	} else if published {
		_ = s.events.Record(ctx, "escalation", agent, wave,
			fmt.Sprintf(`{"reason":"merge_conflict","files":%d}`, len(files)))
	}
	return conflict
}

// unmergedPaths lists paths with conflict markers in the trunk checkout.
func (s *Syncer) unmergedPaths(ctx context.Context) []string {
	out, _, err := s.git.Run(ctx, s.cfg.Repo, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

// resetQAWorktree fast-forwards the QA worktree to the freshly merged
// trunk. Worktrees share the object store, so a hard reset is enough.
func (s *Syncer) resetQAWorktree(ctx context.Context) error {
	if s.cfg.QAAgent == "" {
		return nil
	}
	qaWT := s.manager.PathFor(s.cfg.QAAgent)
	if _, _, err := s.git.Run(ctx, qaWT, "reset", "--hard", s.cfg.Trunk); err != nil {
		return fmt.Errorf("reset QA worktree to %s: %w", s.cfg.Trunk, err)
	}
	return nil
}

// publishOutcome writes the sync outcome signal, replacing any stale
// opposite outcome from an earlier attempt.
func (s *Syncer) publishOutcome(wave int, outcome, detail string) {
	other := OutcomeSyncFailed
	if outcome == OutcomeSyncFailed {
		other = OutcomeSyncComplete
	}
	_ = s.bus.Consume(signal.GateRef(wave, s.cfg.Gate, other))

	payload := map[string]any{"trunk": s.cfg.Trunk, "contributors": s.cfg.Contributors}
	if detail != "" {
		payload["detail"] = detail
	}
	_ = s.bus.Publish(signal.GateRef(wave, s.cfg.Gate, outcome), payload)
}
