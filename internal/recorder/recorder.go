// Package recorder keeps a bounded in-memory history of signal samples and
// mirrors ticks to rotating CSV files.
package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/fsutil"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

const (
	// DefaultCapacity is the ring size when Options.Capacity is zero.
	DefaultCapacity = 1000
	// DefaultRotation is the file age at which a sink starts a new file.
	DefaultRotation = 5 * time.Minute

	LogPrefix      = "log"
	AutoSavePrefix = "auto_save"
)

// Options configures a Recorder.
type Options struct {
	Dir      string
	Capacity int
	Rotation time.Duration
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	Logf     monitoring.Logf
}

// Recorder owns the history ring and two independent sinks: the user log,
// started and stopped on request, and the auto-save log of table points.
// A failing sink is closed and logged; the other sink and the ring keep
// going.
type Recorder struct {
	logf monitoring.Logf

	mu      sync.Mutex
	ring    *Ring[Entry]
	user    *RotatingSink
	auto    *RotatingSink
	lastErr map[string]error
}

// New returns a recorder with both sinks closed.
func New(opts Options) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Rotation == 0 {
		opts.Rotation = DefaultRotation
	}
	sink := func(prefix string, layout Layout) *RotatingSink {
		return NewRotatingSink(SinkOptions{
			Dir:         opts.Dir,
			Prefix:      prefix,
			Layout:      layout,
			RotateEvery: opts.Rotation,
			FS:          opts.FS,
			Clock:       opts.Clock,
		})
	}
	return &Recorder{
		logf:    monitoring.OrDiscard(opts.Logf),
		ring:    NewRing[Entry](opts.Capacity),
		user:    sink(LogPrefix, SignalLayout),
		auto:    sink(AutoSavePrefix, TableLayout),
		lastErr: make(map[string]error),
	}
}

// StartLog opens the user log and returns its path.
func (r *Recorder) StartLog() (string, error) {
	if err := r.user.Open(); err != nil {
		return "", err
	}
	r.logf("logging to %s", r.user.Path())
	return r.user.Path(), nil
}

// StopLog closes the user log.
func (r *Recorder) StopLog() error { return r.user.Close() }

// EnableAutoSave opens the auto-save log.
func (r *Recorder) EnableAutoSave() error {
	if err := r.auto.Open(); err != nil {
		return err
	}
	r.logf("auto-saving to %s", r.auto.Path())
	return nil
}

// DisableAutoSave closes the auto-save log.
func (r *Recorder) DisableAutoSave() error { return r.auto.Close() }

// Record pushes the tick's entries into the ring and writes the tick to every
// open sink.
func (r *Recorder) Record(t Tick) {
	r.mu.Lock()
	for _, e := range t.Entries {
		r.ring.Push(e)
	}
	r.mu.Unlock()

	r.feed(LogPrefix, r.user, func(s *RotatingSink) error { return s.Write(t) })
	r.feed(AutoSavePrefix, r.auto, func(s *RotatingSink) error { return s.Write(t) })
}

// CheckRotation rotates any sink whose file has reached its age limit.
func (r *Recorder) CheckRotation() {
	rotate := func(s *RotatingSink) error {
		rotated, err := s.RotateIfDue()
		if rotated {
			r.logf("rotated to %s", s.Path())
		}
		return err
	}
	r.feed(LogPrefix, r.user, rotate)
	r.feed(AutoSavePrefix, r.auto, rotate)
}

func (r *Recorder) feed(name string, s *RotatingSink, fn func(*RotatingSink) error) {
	if !s.Active() {
		return
	}
	err := fn(s)
	if err == nil || errors.Is(err, errSinkClosed) {
		// Closed by StopLog or DisableAutoSave after the Active check.
		return
	}
	r.logf("%s sink stopped: %v", name, err)
	s.Close()
	r.mu.Lock()
	r.lastErr[name] = err
	r.mu.Unlock()
}

// SinkError returns the error that last stopped the named sink.
func (r *Recorder) SinkError(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr[name]
}

// Entries returns the ring contents oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring.Items()
}

// ClearHistory empties the ring.
func (r *Recorder) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring.Clear()
}

func (r *Recorder) LogActive() bool      { return r.user.Active() }
func (r *Recorder) AutoSaveActive() bool { return r.auto.Active() }
func (r *Recorder) LogPath() string      { return r.user.Path() }
func (r *Recorder) AutoSavePath() string { return r.auto.Path() }

// Close closes both sinks.
func (r *Recorder) Close() error {
	return errors.Join(r.user.Close(), r.auto.Close())
}
