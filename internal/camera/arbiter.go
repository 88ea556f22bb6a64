// Package camera serializes access to the single camera device. The
// driver does not tolerate two concurrent opens, so every camera-touching
// operation runs under a lease handed out by the Arbiter in strict FIFO
// order.
package camera

import (
	"context"
	"sync"

	log "log/slog"
)

// Lease is an exclusive-ownership ticket. It is only valid until passed
// back to Release.
type Lease struct {
	seq      uint64
	released bool
}

type waiter struct {
	grant chan *Lease
}

// Arbiter admits one in-flight camera operation at a time. Queued
// acquires are granted in submission order.
type Arbiter struct {
	mu    sync.Mutex
	busy  bool
	seq   uint64
	queue []*waiter
}

func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Acquire blocks until the camera is free or ctx is done.
func (a *Arbiter) Acquire(ctx context.Context) (*Lease, error) {
	a.mu.Lock()
	if !a.busy {
		a.busy = true
		a.seq++
		l := &Lease{seq: a.seq}
		a.mu.Unlock()
		return l, nil
	}

	w := &waiter{grant: make(chan *Lease, 1)}
	a.queue = append(a.queue, w)
	a.mu.Unlock()

	select {
	case l := <-w.grant:
		return l, nil
	case <-ctx.Done():
		a.mu.Lock()
		for i, q := range a.queue {
			if q == w {
				a.queue = append(a.queue[:i], a.queue[i+1:]...)
				a.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		a.mu.Unlock()
		// The grant was already in flight; hand it straight back so the
		// queue keeps moving.
		l := <-w.grant
		a.Release(l)
		return nil, ctx.Err()
	}
}

// Release returns the camera. Releasing an already-released lease is a
// no-op.
func (a *Arbiter) Release(l *Lease) {
	if l == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if l.released {
		return
	}
	l.released = true

	if len(a.queue) > 0 {
		next := a.queue[0]
		a.queue = a.queue[1:]
		a.seq++
		next.grant <- &Lease{seq: a.seq}
		return
	}
	a.busy = false
}

// RunExclusive runs op under a lease. The operation's own error goes to
// the caller; the queue advances regardless.
func (a *Arbiter) RunExclusive(ctx context.Context, name string, op func(context.Context) error) error {
	lease, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	defer a.Release(lease)

	log.Debug("camera operation starting", "op", name)
	err = op(ctx)
	if err != nil {
		log.Warn("camera operation failed", "op", name, "err", err)
	}
	return err
}
