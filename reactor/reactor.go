// Package reactor provides the dispatch goroutine that executes posted
// work items in order, and tracks the blocking goroutines (a
// Connection's handshake, read pump and write pump) started through Go.
// Sends are posted onto the reactor; a disconnect closes the socket on
// the goroutine that requests it.
package reactor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Start when the reactor's goroutine
// is already active.
var ErrAlreadyRunning = errors.New("reactor: already running")

// ErrNotRunning is returned by Post when no goroutine is draining work.
var ErrNotRunning = errors.New("reactor: not running")

// workQueueSize bounds how much work can be queued before Post blocks
// the caller. The framework's posted work (sends, disconnects) is
// expected to complete quickly, so a generous buffer absorbs bursts
// without requiring an unbounded channel.
const workQueueSize = 4096

// Reactor owns one goroutine that serially executes posted work items,
// plus any goroutines started with Go; Stop joins all of them. Every
// Connection of a peer shares that peer's Reactor (see
// netpeer.Base.NewConnection).
type Reactor struct {
	log *logrus.Entry

	mu      sync.Mutex
	work    chan func()
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// New returns a stopped Reactor. Call Start before Post.
func New(log *logrus.Entry) *Reactor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reactor{log: log}
}

// Start spawns the dispatch goroutine. It fails with ErrAlreadyRunning
// if called while already started.
func (r *Reactor) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	r.work = make(chan func(), workQueueSize)
	r.cancel = cancel
	r.group = group
	r.running = true

	group.Go(func() error {
		r.dispatch(ctx)
		return nil
	})

	return nil
}

// Stop requests shutdown, drains no further work, and joins the
// dispatch goroutine. Safe to call multiple times and safe to call on
// a Reactor that was never started.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}

	cancel := r.cancel
	group := r.group
	r.running = false
	r.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// Post schedules work to run on the reactor goroutine. It fails with
// ErrNotRunning if the reactor is stopped.
func (r *Reactor) Post(work func()) error {
	r.mu.Lock()
	running := r.running
	ch := r.work
	r.mu.Unlock()

	if !running {
		return ErrNotRunning
	}

	select {
	case ch <- work:
		return nil
	default:
		// Queue is saturated; fall back to a blocking send so a burst
		// of sends never silently drops work.
		ch <- work
		return nil
	}
}

// Go runs fn on a goroutine tracked by the reactor's lifecycle, so Stop
// waits for it to return. Use this for a Connection's blocking
// handshake/read/write pumps, which cannot be expressed as a single
// non-blocking Post the way a true async I/O reactor would dispatch
// them. Post remains the right call for short, non-blocking work.
func (r *Reactor) Go(fn func()) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	group := r.group
	r.mu.Unlock()

	group.Go(func() error {
		fn()
		return nil
	})
	return nil
}

func (r *Reactor) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-r.work:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.WithField("panic", rec).Error("reactor: posted work panicked")
					}
				}()
				w()
			}()
		}
	}
}
