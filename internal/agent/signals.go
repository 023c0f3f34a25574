package agent

import "sync"

// Signals are a task's three interrupt primitives: a one-shot cancel
// event, a one-shot skip event and a user-insert queue. All methods are
// idempotent and safe under concurrent set/observe; they may be raised
// from any goroutine (control endpoints, the scheduler) while the task's
// loop polls them at suspension points. Cancel dominates skip.
type Signals struct {
	mu           sync.Mutex
	cancelled    bool
	cancelReason string
	cancelCh     chan struct{}

	skip       bool
	skipReason string

	inserts []string
}

// NewSignals builds an unraised signal set.
func NewSignals() *Signals {
	return &Signals{cancelCh: make(chan struct{})}
}

// Cancel raises the one-shot cancel event. The first reason wins.
func (s *Signals) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.cancelReason = reason
	close(s.cancelCh)
}

// Cancelled reports the cancel event and its reason.
func (s *Signals) Cancelled() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelReason, s.cancelled
}

// CancelChan is closed when cancel is raised. In-flight HTTP requests
// hang their context cancellation off this channel.
func (s *Signals) CancelChan() <-chan struct{} { return s.cancelCh }

// RequestSkip raises the skip event consumed at the next tool-call
// boundary.
func (s *Signals) RequestSkip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skip {
		return
	}
	s.skip = true
	s.skipReason = reason
}

// TakeSkip consumes the skip event, clearing it.
func (s *Signals) TakeSkip() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.skip {
		return "", false
	}
	s.skip = false
	reason := s.skipReason
	s.skipReason = ""
	return reason, true
}

// Insert queues a user message merged into the working history at the
// next iteration boundary. Arrival order is preserved.
func (s *Signals) Insert(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, text)
}

// DrainInserts takes the queued inserts in arrival order.
func (s *Signals) DrainInserts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inserts
	s.inserts = nil
	return out
}
