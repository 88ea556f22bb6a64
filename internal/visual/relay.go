package visual

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "log/slog"
)

// Sink receives the frames the relay forwards; in production it is the
// display client.
type Sink interface {
	ShowFrame(path, color string)
}

// Relay polls a worker's frame file and pushes it to the display sink.
// The push happens on every tick the file exists: the display caches by
// path, so skipping "unchanged" frames would suppress legitimate
// re-renders of a same-sized but newer image. Change detection only
// gates logging.
type Relay struct {
	sink Sink

	mu      sync.Mutex
	cancel  chan struct{}
	running bool
}

func NewRelay(sink Sink) *Relay {
	return &Relay{sink: sink}
}

// Start begins the poll loop. A running loop is replaced.
func (r *Relay) Start(framePath string, cadence time.Duration, color string) {
	r.mu.Lock()
	if r.running {
		close(r.cancel)
	}
	cancel := make(chan struct{})
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	log.Info("frame relay started", "path", framePath, "cadence", cadence)
	go r.loop(framePath, cadence, color, cancel)
}

// Stop ends the loop and removes every known temp frame file so a stale
// frame from this session can never show up in the next one.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.running {
		close(r.cancel)
		r.running = false
	}
	r.mu.Unlock()

	CleanFrameFiles()
}

// Running reports whether a poll loop is active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Relay) loop(framePath string, cadence time.Duration, color string, cancel <-chan struct{}) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	last := fingerprint{}
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			info, err := os.Stat(framePath)
			if err != nil {
				// Worker has not written its first frame yet.
				continue
			}

			r.sink.ShowFrame(framePath, color)

			fp := readFingerprint(framePath, info.Size())
			if fp != last {
				log.Debug("frame advanced", "path", framePath, "gen", fp.gen, "size", fp.size)
				last = fp
			}
		}
	}
}

type fingerprint struct {
	gen  int64
	size int64
}

// readFingerprint prefers the monotonic generation counter a worker may
// write alongside the frame; size is the fallback for workers that do
// not write one.
func readFingerprint(framePath string, size int64) fingerprint {
	data, err := os.ReadFile(framePath + ".gen")
	if err == nil {
		if gen, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			return fingerprint{gen: gen}
		}
	}
	return fingerprint{size: size}
}

// CleanFrameFiles removes the temp frame files of every mode kind.
func CleanFrameFiles() {
	for _, k := range Kinds() {
		path := k.FramePath()
		if err := os.Remove(path); err == nil {
			log.Debug("removed stale frame", "path", path)
		}
		_ = os.Remove(path + ".gen")
	}
}
