package visual

import (
	"sync"

	log "log/slog"
)

// Slot is the single-slot mailbox between the tool layer and the turn
// controller. A tool drops a request in during the answer; the
// controller takes it once playback finishes. Holds at most one
// request; a later Set replaces an unconsumed one (last write wins).
type Slot struct {
	mu  sync.Mutex
	req Request
}

func NewSlot() *Slot {
	return &Slot{}
}

// Set stores the request, returning true when it replaced a pending
// one.
func (s *Slot) Set(req Request) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced = s.req != nil
	if replaced {
		log.Warn("handoff slot overwritten",
			"dropped", s.req.Kind().String(), "kept", req.Kind().String())
	}
	s.req = req
	return replaced
}

// TakeAndClear atomically removes and returns the pending request.
func (s *Slot) TakeAndClear() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.req
	s.req = nil
	return req, req != nil
}

// Pending reports whether a request is waiting without consuming it.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req != nil
}
