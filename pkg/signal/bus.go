package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrHalted is returned by Publish when the kill switch is engaged.
var ErrHalted = errors.New("signal bus halted: kill switch engaged")

// Bus publishes, observes, and consumes signal files under a project root.
// It holds no state beyond the root path: two Bus values over the same root
// are interchangeable, and a Bus survives process crashes trivially because
// everything lives on disk.
type Bus struct {
	root string

	// onMalformed, if set, is told about unreadable or unparsable signal
	// files. Malformed input is a normal operating condition, never an error.
	onMalformed func(path string, err error)

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Bus rooted at the given project directory.
func New(root string) *Bus {
	return &Bus{root: root, nowFunc: time.Now}
}

// Root returns the project root this bus operates under.
func (b *Bus) Root() string { return b.root }

// OnMalformed registers a hook invoked whenever a signal file exists but
// cannot be decoded. The bus still reports such signals as absent.
func (b *Bus) OnMalformed(fn func(path string, err error)) { b.onMalformed = fn }

// Path returns the absolute path of the signal file for ref.
func (b *Bus) Path(ref Ref) string {
	return filepath.Join(b.root, ref.Filename())
}

// Publish writes a new signal record for ref with the given payload.
// The write is atomic (temp file + rename) so a concurrent reader never
// observes a partial record. Publishing while the kill switch is engaged
// fails with ErrHalted.
func (b *Bus) Publish(ref Ref, payload any) error {
	if !ref.Valid() {
		return fmt.Errorf("publish: invalid signal ref %+v", ref)
	}
	if b.Halted() {
		return ErrHalted
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", ref.Filename(), err)
		}
		raw = data
	}

	sig := Signal{
		Kind:      ref.kind,
		Agent:     ref.agent,
		Wave:      ref.wave,
		Gate:      ref.gate,
		Outcome:   ref.outcome,
		Timestamp: b.nowFunc().UTC().Format(TimeLayout),
		Payload:   raw,
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal %s: %w", ref.Filename(), err)
	}

	if err := writeAtomic(b.Path(ref), data, 0o644); err != nil {
		return fmt.Errorf("publish %s: %w", ref.Filename(), err)
	}
	return nil
}

// Observe is a non-blocking check for the signal identified by ref.
// It returns (nil, nil) when the signal is absent, and also when the file
// exists but is empty, truncated, binary, or otherwise unparsable — a
// malformed record is indistinguishable from an absent one to callers.
func (b *Bus) Observe(ref Ref) (*Signal, error) {
	return b.readSignal(b.Path(ref))
}

// readSignal loads and decodes one signal file, absorbing malformed input.
func (b *Bus) readSignal(path string) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		// Unreadable counts as malformed, not as a fault.
		b.reportMalformed(path, err)
		return nil, nil
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		b.reportMalformed(path, err)
		return nil, nil
	}
	if sig.Kind == "" && sig.Timestamp == "" {
		// Parsable JSON that is not a signal envelope (e.g. "{}" or "[1,2]"
		// decoded into zero values) is treated the same as garbage.
		b.reportMalformed(path, errors.New("not a signal envelope"))
		return nil, nil
	}
	sig.Raw = data
	return &sig, nil
}

func (b *Bus) reportMalformed(path string, err error) {
	if b.onMalformed != nil {
		b.onMalformed(path, err)
	}
}

// Consume deletes the signal for ref, acknowledging it. Consuming an absent
// signal is not an error — another component may have consumed it between
// observe and consume, and that is normal protocol advancement.
func (b *Bus) Consume(ref Ref) error {
	err := os.Remove(b.Path(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("consume %s: %w", ref.Filename(), err)
	}
	return nil
}

// ConsumeGateOutcomes deletes every gate-outcome signal for the wave whose
// gate index is at or past minGate. A rejection invalidates downstream gate
// results, so the orchestrator clears them in one sweep.
func (b *Bus) ConsumeGateOutcomes(wave, minGate int) error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("read signal dir: %w", err)
	}
	for _, entry := range entries {
		ref, ok := ParseFilename(entry.Name())
		if !ok || ref.escalation || ref.agent != "" {
			continue
		}
		if ref.wave != wave || ref.gate < minGate {
			continue
		}
		if err := b.Consume(ref); err != nil {
			return err
		}
	}
	return nil
}

// Archive moves the signal for ref into archive/ with a UTC timestamp
// suffix. The archive is append-only: an existing archived copy is never
// overwritten. Archiving an absent signal is a no-op.
func (b *Bus) Archive(ref Ref) error {
	src := b.Path(ref)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive %s: %w", ref.Filename(), err)
	}

	dir := filepath.Join(b.root, ArchiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	stamp := b.nowFunc().UTC().Format("20060102-150405")
	base := strings.TrimSuffix(ref.Filename(), ".json")
	dst := filepath.Join(dir, fmt.Sprintf("%s-%s.json", base, stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s-%s.%d.json", base, stamp, i))
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archive %s: %w", ref.Filename(), err)
	}
	return nil
}

// List returns every decodable signal currently present under the root,
// ordered by filename. Malformed files are skipped.
func (b *Bus) List() ([]Signal, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("read signal dir: %w", err)
	}

	var out []Signal
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseFilename(entry.Name()); !ok {
			continue
		}
		sig, err := b.readSignal(filepath.Join(b.root, entry.Name()))
		if err != nil || sig == nil {
			continue
		}
		out = append(out, *sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// --- Kill switch ---

// Halted reports whether the kill-switch record exists. Every coordination
// loop must call this at least once per tick.
func (b *Bus) Halted() bool {
	_, err := os.Stat(filepath.Join(b.root, KillSwitchFile))
	return err == nil
}

// Halt engages the kill switch. The reason is written as the file content
// for operators; readers only check existence.
func (b *Bus) Halt(reason string) error {
	content := fmt.Sprintf("%s %s\n", b.nowFunc().UTC().Format(TimeLayout), reason)
	if err := writeAtomic(filepath.Join(b.root, KillSwitchFile), []byte(content), 0o644); err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	return nil
}

// Resume clears the kill switch. Clearing an absent kill switch is a no-op.
func (b *Bus) Resume() error {
	err := os.Remove(filepath.Join(b.root, KillSwitchFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear kill switch: %w", err)
	}
	return nil
}

// WriteAtomic exposes the bus write primitive for sibling packages that
// maintain overwrite-in-place records (heartbeats) with the same
// no-torn-reads guarantee.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, data, perm)
}

// writeAtomic writes data to a temporary file in the target directory and
// renames it over path. A crash mid-write leaves at worst a stray temp
// file, never a partial record at path.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
