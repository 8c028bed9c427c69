// Package acquisition polls the configured signals on a timer and feeds the
// readings to the store, alert evaluator, grid table and recorder.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/alerts"
	"github.com/banshee-data/obdwatch/internal/grid"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/recorder"
	"github.com/banshee-data/obdwatch/internal/signals"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

var (
	ErrRunning     = errors.New("acquisition already running")
	ErrBadInterval = errors.New("poll interval must be positive")
)

// Querier reads one signal. *obdlink.Link satisfies it.
type Querier interface {
	Query(ctx context.Context, name string) (signals.Value, string, error)
}

// Options wires a Loop to its collaborators. Store and Querier are
// required; the others may be nil.
type Options struct {
	Signals []string
	Querier Querier
	Store   *signals.Store

	Alerts   *alerts.Evaluator
	Table    *grid.Table
	Recorder *recorder.Recorder

	// Grid operating point. ValueSignal, when set and read this tick, is
	// stored as the measured cell value; otherwise the fallback model is used.
	PrimarySignal   string
	SecondarySignal string
	ValueSignal     string

	// OnTransition runs on the loop goroutine for every alert level change.
	OnTransition func(alerts.Transition)
	// OnTick is posted through Dispatcher after every tick.
	OnTick     func(TickResult)
	Dispatcher Dispatcher

	Clock timeutil.Clock
	Logf  monitoring.Logf
}

// TickResult summarizes one poll of every signal.
type TickResult struct {
	At          time.Time
	Read        int
	Failed      int
	Transitions []alerts.Transition
	Point       *recorder.TablePoint
	// Populated is true when the tick visited a grid cell for the first time.
	Populated bool
}

// Loop is the acquisition worker. It is the only writer of the store, the
// alert state, the table and the recorder while it runs.
type Loop struct {
	opts  Options
	clock timeutil.Clock
	logf  monitoring.Logf

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped loop.
func New(opts Options) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{opts: opts, clock: clock, logf: monitoring.OrDiscard(opts.Logf)}
}

// Start polls immediately and then every interval on a new goroutine.
func (l *Loop) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrBadInterval
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, interval, l.done)
	return nil
}

// Stop asks the worker to exit and waits until it has. It returns at the
// latest after the signal being queried when Stop was called completes.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the worker is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

func (l *Loop) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// Tick polls every signal once. A failed query is logged and skipped.
func (l *Loop) Tick(ctx context.Context) TickResult {
	res := TickResult{At: l.clock.Now()}
	numeric := make(map[string]float64, len(l.opts.Signals))
	var entries []recorder.Entry

	for _, name := range l.opts.Signals {
		if ctx.Err() != nil {
			return res
		}
		v, unit, err := l.opts.Querier.Query(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return res
			}
			res.Failed++
			l.logf("read %s: %v", name, err)
			continue
		}
		res.Read++
		l.opts.Store.Update(name, v, unit, res.At)
		entries = append(entries, recorder.Entry{Timestamp: res.At, SignalID: name, Value: v, Unit: unit})
		if f, ok := v.Float(); ok {
			numeric[name] = f
		}

		if l.opts.Alerts == nil {
			continue
		}
		if tr, changed := l.opts.Alerts.Evaluate(name, v, unit, res.At); changed {
			res.Transitions = append(res.Transitions, tr)
			if l.opts.OnTransition != nil {
				l.opts.OnTransition(tr)
			}
		}
	}

	l.recordPoint(&res, numeric)

	if l.opts.Recorder != nil {
		l.opts.Recorder.Record(recorder.Tick{At: res.At, Entries: entries, Point: res.Point})
	}
	if l.opts.Dispatcher != nil && l.opts.OnTick != nil {
		onTick, snapshot := l.opts.OnTick, res
		if !l.opts.Dispatcher.Post(func() { onTick(snapshot) }) {
			l.logf("display queue full, dropped tick update")
		}
	}
	return res
}

func (l *Loop) recordPoint(res *TickResult, numeric map[string]float64) {
	if l.opts.Table == nil {
		return
	}
	p, okP := numeric[l.opts.PrimarySignal]
	s, okS := numeric[l.opts.SecondarySignal]
	if !okP || !okS {
		return
	}
	var measured *float64
	if v, ok := numeric[l.opts.ValueSignal]; ok && l.opts.ValueSignal != "" {
		measured = &v
	}
	rr := l.opts.Table.Record(p, s, measured)
	res.Point = &recorder.TablePoint{Primary: p, Secondary: s, Value: rr.Cell.Value}
	res.Populated = rr.Populated
}
