package worker

import (
	"bufio"
	"io"
	"sync"
	"time"

	log "log/slog"

	"github.com/google/uuid"
)

// EventHandler receives structured events parsed from a worker's stdout.
type EventHandler func(h *Handle, ev Event)

// ExitHandler is called once when a visual worker's process has exited,
// with the error from Wait (nil on clean exit).
type ExitHandler func(h *Handle, err error)

// Supervisor owns every external worker process. At most one visual
// worker exists at a time; named persistent workers (the mesh listener)
// are restarted after unexpected exits.
type Supervisor struct {
	clock    Clock
	launcher launcher
	grace    time.Duration
	backoff  time.Duration

	onEvent EventHandler
	onExit  ExitHandler

	mu         sync.Mutex
	visual     *Handle
	persistent map[string]*Handle
	closed     bool
}

func NewSupervisor(grace, backoff time.Duration) *Supervisor {
	if grace <= 0 {
		grace = time.Second
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Supervisor{
		clock:      realClock{},
		launcher:   execLauncher{},
		grace:      grace,
		backoff:    backoff,
		persistent: make(map[string]*Handle),
	}
}

func (s *Supervisor) OnEvent(fn EventHandler) { s.onEvent = fn }
func (s *Supervisor) OnExit(fn ExitHandler)   { s.onExit = fn }

// Visual returns the current visual-mode handle, nil if none.
func (s *Supervisor) Visual() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visual
}

// Spawn starts a visual worker. Any previous visual worker is stopped
// first; starting a new mode implicitly ends the old one.
func (s *Supervisor) Spawn(kind string, spec LaunchSpec) (*Handle, error) {
	s.mu.Lock()
	prev := s.visual
	s.visual = nil
	s.mu.Unlock()

	if prev != nil {
		s.Stop(prev)
	}

	h, err := s.launch(kind, spec, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.visual = h
	s.mu.Unlock()

	log.Info("worker spawned", "kind", kind, "pid", h.PID)
	return h, nil
}

// SpawnPersistent starts a named non-visual worker that is restarted
// after the backoff if it dies without a deliberate stop.
func (s *Supervisor) SpawnPersistent(name string, spec LaunchSpec) (*Handle, error) {
	s.mu.Lock()
	prev := s.persistent[name]
	delete(s.persistent, name)
	s.mu.Unlock()

	if prev != nil {
		s.Stop(prev)
	}

	h, err := s.launch(name, spec, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.persistent[name] = h
	s.mu.Unlock()

	log.Info("persistent worker spawned", "name", name, "pid", h.PID)
	return h, nil
}

// Stop requests a graceful terminate and escalates to kill after the
// grace period. Stopping an already-stopped handle is a no-op.
func (s *Supervisor) Stop(h *Handle) {
	if h == nil {
		return
	}

	s.mu.Lock()
	if h.status == StatusStopped || h.status == StatusStopRequested {
		s.mu.Unlock()
		return
	}
	// Mark deliberate before signaling so a concurrent exit handler
	// cannot race us into a restart.
	h.deliberate = true
	h.status = StatusStopRequested
	proc := h.proc
	s.mu.Unlock()

	log.Debug("terminating worker", "kind", h.Kind, "pid", h.PID)
	if err := proc.Terminate(); err != nil {
		log.Warn("terminate failed, killing", "kind", h.Kind, "err", err)
		_ = proc.Kill()
		return
	}

	s.clock.AfterFunc(s.grace, func() {
		s.mu.Lock()
		stopped := h.status == StatusStopped
		s.mu.Unlock()
		if !stopped {
			log.Warn("worker ignored terminate, killing", "kind", h.Kind, "pid", h.PID)
			_ = proc.Kill()
		}
	})
}

// Shutdown stops everything; used on daemon exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*Handle, 0, len(s.persistent)+1)
	if s.visual != nil {
		handles = append(handles, s.visual)
	}
	for _, h := range s.persistent {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.Stop(h)
	}
}

func (s *Supervisor) launch(kind string, spec LaunchSpec, persistent bool) (*Handle, error) {
	run, err := s.launcher.Launch(spec)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:        uuid.New(),
		Kind:      kind,
		PID:       run.proc.PID(),
		StartedAt: time.Now(),
		sup:       s,
		proc:      run.proc,
		status:    StatusStarting,
	}

	go s.scanStdout(h, run.stdout)
	go s.scanStderr(h, run.stderr)
	go s.awaitExit(h, run.done, spec, persistent)

	// Scanners are attached; promote unless the process already died.
	s.mu.Lock()
	if h.status == StatusStarting {
		h.status = StatusRunning
	}
	s.mu.Unlock()

	return h, nil
}

func (s *Supervisor) scanStdout(h *Handle, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		ev, ok, err := ParseEventLine(line)
		if !ok {
			log.Debug("worker stdout", "kind", h.Kind, "line", line)
			continue
		}
		if err != nil {
			log.Warn("malformed worker event", "kind", h.Kind, "err", err, "line", line)
			continue
		}
		log.Info("worker event", "kind", h.Kind, "event", ev.EventName())
		if s.onEvent != nil {
			s.onEvent(h, ev)
		}
	}
	// Keep draining if the scanner gave up (oversized line); a blocked
	// pipe would stall the process's exit path.
	io.Copy(io.Discard, r)
}

func (s *Supervisor) scanStderr(h *Handle, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		log.Debug("worker stderr", "kind", h.Kind, "line", sc.Text())
	}
	io.Copy(io.Discard, r)
}

func (s *Supervisor) awaitExit(h *Handle, done <-chan error, spec LaunchSpec, persistent bool) {
	err := <-done

	s.mu.Lock()
	h.status = StatusStopped
	deliberate := h.deliberate
	closed := s.closed
	if s.visual == h {
		s.visual = nil
	}
	if persistent && s.persistent[h.Kind] == h {
		delete(s.persistent, h.Kind)
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn("worker exited", "kind", h.Kind, "pid", h.PID, "err", err)
	} else {
		log.Info("worker exited", "kind", h.Kind, "pid", h.PID)
	}

	if persistent && !deliberate && !closed {
		log.Info("restarting persistent worker", "name", h.Kind, "backoff", s.backoff)
		s.clock.AfterFunc(s.backoff, func() {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if _, err := s.SpawnPersistent(h.Kind, spec); err != nil {
				log.Error("persistent worker restart failed", "name", h.Kind, "err", err)
			}
		})
		return
	}

	if !persistent && s.onExit != nil {
		s.onExit(h, err)
	}
}
