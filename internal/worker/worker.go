// Package worker spawns and supervises the external vision processes. A
// worker writes successive frames to a well-known path and may emit
// tag-prefixed JSON records on stdout; the supervisor turns those into
// typed events and owns the terminate-then-kill teardown.
package worker

import (
	"time"

	"github.com/google/uuid"
)

// LaunchSpec is the command/args/env needed to start a worker process.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Status is the lifecycle of one spawned process.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopRequested
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopRequested:
		return "stop-requested"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handle identifies one spawned worker process.
type Handle struct {
	ID        uuid.UUID
	Kind      string
	PID       int
	StartedAt time.Time

	sup  *Supervisor
	proc process
	// deliberate is set before a stop so the exit handler knows the
	// death was requested and must not trigger a restart.
	deliberate bool
	status     Status
}

// Status returns the handle's lifecycle state.
func (h *Handle) Status() Status {
	if h == nil {
		return StatusStopped
	}
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	return h.status
}

// Clock abstracts time for the kill-escalation deadline so teardown is
// testable without real processes.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the stoppable deadline returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// process is the controllable side of a spawned worker. The os/exec
// implementation lives in proc.go; tests substitute a fake.
type process interface {
	PID() int
	Terminate() error
	Kill() error
}
