// Package schedule owns the periodic callbacks of a session so they can be
// cancelled, and waited for, before the resources they touch are released.
package schedule

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

var (
	ErrDuplicate = errors.New("callback already registered")
	ErrClosed    = errors.New("registry closed")
)

type handle struct {
	stop chan struct{}
	done chan struct{}
}

// Registry runs named callbacks on their own tickers.
type Registry struct {
	clock timeutil.Clock
	logf  monitoring.Logf

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// NewRegistry returns an empty registry. A nil clock uses the real clock.
func NewRegistry(clock timeutil.Clock, logf monitoring.Logf) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Registry{clock: clock, logf: monitoring.OrDiscard(logf), handles: make(map[string]*handle)}
}

// Every runs fn every interval until the callback is cancelled. Calls of
// one callback never overlap. A panic in fn is logged and cancels only that
// callback.
func (r *Registry) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("schedule: interval must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.handles[name]; ok {
		return ErrDuplicate
	}

	h := &handle{stop: make(chan struct{}), done: make(chan struct{})}
	r.handles[name] = h
	ticker := r.clock.NewTicker(interval)
	go r.run(name, h, ticker, fn)
	return nil
}

func (r *Registry) run(name string, h *handle, ticker timeutil.Ticker, fn func()) {
	defer close(h.done)
	defer ticker.Stop()
	defer func() {
		if p := recover(); p != nil {
			r.logf("callback %s panicked: %v", name, p)
		}
	}()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C():
			select {
			case <-h.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Cancel stops the named callback and waits for any running call to
// finish. It reports whether the callback existed.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	h, ok := r.handles[name]
	delete(r.handles, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	close(h.stop)
	<-h.done
	return true
}

// CancelAll stops every callback, waits for them, and refuses new ones.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*handle)
	r.mu.Unlock()

	for _, h := range handles {
		close(h.stop)
	}
	for _, h := range handles {
		<-h.done
	}
}

// Names returns the registered callbacks, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for name := range r.handles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
