package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// startupLog provides step-by-step startup progress output.
type startupLog struct {
	w  io.Writer
	mu sync.Mutex
}

// newStartupLog creates a startup logger that writes to w.
func newStartupLog(w io.Writer) *startupLog {
	return &startupLog{w: w}
}

// Step prints a completed step with a checkmark.
func (s *startupLog) Step(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "✓ %s\n", msg)
}

// StepTimed prints a completed step with a checkmark and duration.
func (s *startupLog) StepTimed(msg string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "✓ %s (%ds)\n", msg, int(d.Seconds()))
}

// Skip prints a step that was not needed.
func (s *startupLog) Skip(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "- %s\n", msg)
}
