package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/obdwatch/internal/alerts"
	"github.com/banshee-data/obdwatch/internal/bridge"
	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/fsutil"
	"github.com/banshee-data/obdwatch/internal/grid"
	"github.com/banshee-data/obdwatch/internal/obdlink"
	"github.com/banshee-data/obdwatch/internal/recorder"
	"github.com/banshee-data/obdwatch/internal/signals"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// scriptQuerier returns successive values per signal, repeating the last.
type scriptQuerier struct {
	mu     sync.Mutex
	values map[string][]signals.Value
	units  map[string]string
	fail   map[string]error
	calls  map[string]int
	block  chan struct{}
}

func (q *scriptQuerier) Query(ctx context.Context, name string) (signals.Value, string, error) {
	if q.block != nil {
		select {
		case <-q.block:
		case <-ctx.Done():
			return signals.Value{}, "", ctx.Err()
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls == nil {
		q.calls = make(map[string]int)
	}
	n := q.calls[name]
	q.calls[name]++
	if err := q.fail[name]; err != nil {
		return signals.Value{}, "", err
	}
	seq := q.values[name]
	if len(seq) == 0 {
		return signals.Value{}, "", failure.Query("query "+name, errors.New("no data"))
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], q.units[name], nil
}

func nums(vs ...float64) []signals.Value {
	out := make([]signals.Value, len(vs))
	for i, v := range vs {
		out[i] = signals.Number(v)
	}
	return out
}

// inline runs posted functions on the caller's goroutine.
type inline struct{}

func (inline) Post(fn func()) bool { fn(); return true }

type fixture struct {
	loop     *Loop
	store    *signals.Store
	eval     *alerts.Evaluator
	table    *grid.Table
	rec      *recorder.Recorder
	clock    *timeutil.MockClock
	ticks    chan TickResult
	changes  []alerts.Transition
	changeMu sync.Mutex
}

func newFixture(q Querier, names ...string) *fixture {
	f := &fixture{
		store: signals.NewStore(),
		eval:  alerts.NewEvaluator([]alerts.Rule{{SignalID: "RPM", Warning: 6000, Critical: 7000}}, alerts.Options{}),
		clock: timeutil.NewMockClock(epoch),
		ticks: make(chan TickResult, 16),
	}
	f.table = grid.NewTable(grid.DefaultPrimaryAxis(), grid.DefaultSecondaryAxis(), grid.Options{
		Model: grid.DefaultFallback(),
		Clock: f.clock,
	})
	f.rec = recorder.New(recorder.Options{Dir: "/logs", Capacity: 100, FS: fsutil.NewMemoryFileSystem(), Clock: f.clock})
	f.loop = New(Options{
		Signals:         names,
		Querier:         q,
		Store:           f.store,
		Alerts:          f.eval,
		Table:           f.table,
		Recorder:        f.rec,
		PrimarySignal:   "RPM",
		SecondarySignal: "INTAKE_PRESSURE",
		OnTransition: func(tr alerts.Transition) {
			f.changeMu.Lock()
			f.changes = append(f.changes, tr)
			f.changeMu.Unlock()
		},
		OnTick:     func(r TickResult) { f.ticks <- r },
		Dispatcher: inline{},
		Clock:      f.clock,
	})
	return f
}

func (f *fixture) nextTick(t *testing.T) TickResult {
	t.Helper()
	select {
	case r := <-f.ticks:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a tick")
		return TickResult{}
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	q := &scriptQuerier{
		values: map[string][]signals.Value{
			"RPM":             nums(3200),
			"INTAKE_PRESSURE": nums(95),
		},
		units: map[string]string{"RPM": "rpm", "INTAKE_PRESSURE": "kPa"},
		fail:  map[string]error{"SPEED": failure.Query("query SPEED", errors.New("NO DATA"))},
	}
	f := newFixture(q, "RPM", "SPEED", "INTAKE_PRESSURE")

	res := f.loop.Tick(context.Background())
	if res.Read != 2 || res.Failed != 1 {
		t.Fatalf("Read/Failed = %d/%d, want 2/1", res.Read, res.Failed)
	}
	if _, ok := f.store.Get("SPEED"); ok {
		t.Error("failed signal stored")
	}
	if v, ok := f.store.Numeric("INTAKE_PRESSURE"); !ok || v != 95 {
		t.Errorf("INTAKE_PRESSURE = %v, %v; signal after the failure was not read", v, ok)
	}
	if res.Point == nil || res.Point.Primary != 3200 || res.Point.Secondary != 95 {
		t.Fatalf("Point = %+v", res.Point)
	}
	if !res.Populated {
		t.Error("first visit not reported as populated")
	}
	cell, _ := f.table.Cell(f.table.Resolve(3200, 95))
	if !cell.Visited || cell.Value != res.Point.Value {
		t.Errorf("cell = %+v, point value %v", cell, res.Point.Value)
	}
	if got := len(f.rec.Entries()); got != 2 {
		t.Errorf("recorder holds %d entries, want 2", got)
	}
	<-f.ticks
}

func TestGridNeedsBothAxisSignals(t *testing.T) {
	q := &scriptQuerier{
		values: map[string][]signals.Value{"RPM": nums(3200)},
		fail:   map[string]error{"INTAKE_PRESSURE": errors.New("timeout")},
	}
	f := newFixture(q, "RPM", "INTAKE_PRESSURE")
	res := f.loop.Tick(context.Background())
	if res.Point != nil {
		t.Errorf("Point = %+v with the secondary signal missing", res.Point)
	}
	if got := f.table.Grid().VisitedCount(); got != 0 {
		t.Errorf("%d cells visited", got)
	}
}

func TestMeasuredValueSignal(t *testing.T) {
	q := &scriptQuerier{values: map[string][]signals.Value{
		"RPM":             nums(2000),
		"INTAKE_PRESSURE": nums(50),
		"MAF":             nums(42.5),
	}}
	f := newFixture(q, "RPM", "INTAKE_PRESSURE", "MAF")
	f.loop.opts.ValueSignal = "MAF"

	res := f.loop.Tick(context.Background())
	if res.Point == nil || res.Point.Value != 42.5 {
		t.Fatalf("Point = %+v, want measured value 42.5", res.Point)
	}
}

func TestOpaqueValuesAreStoredNotEvaluated(t *testing.T) {
	q := &scriptQuerier{values: map[string][]signals.Value{
		"RPM": {signals.Opaque("n/a")},
	}}
	f := newFixture(q, "RPM")
	res := f.loop.Tick(context.Background())
	if res.Read != 1 || len(res.Transitions) != 0 {
		t.Errorf("Read=%d Transitions=%v", res.Read, res.Transitions)
	}
	r, ok := f.store.Get("RPM")
	if !ok || r.Value.String() != "n/a" {
		t.Errorf("stored %+v, %v", r, ok)
	}
}

func TestLoopDrivesAlertsAcrossTicks(t *testing.T) {
	q := &scriptQuerier{values: map[string][]signals.Value{
		"RPM": nums(5000, 6200, 7200, 6500, 5800),
	}}
	f := newFixture(q, "RPM")

	if err := f.loop.Start(time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.loop.Stop()
	if err := f.loop.Start(time.Second); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start = %v, want ErrRunning", err)
	}

	if !f.clock.WaitForTicker(time.Second) {
		t.Fatal("loop never armed its ticker")
	}
	want := []alerts.Level{alerts.Normal, alerts.Warning, alerts.Critical, alerts.Critical, alerts.Normal}
	for i, lvl := range want {
		if i > 0 {
			f.clock.Advance(time.Second)
		}
		f.nextTick(t)
		if got := f.eval.Level("RPM"); got != lvl {
			t.Errorf("tick %d: level %v, want %v", i, got, lvl)
		}
	}

	f.changeMu.Lock()
	defer f.changeMu.Unlock()
	if len(f.changes) != 3 {
		t.Fatalf("got %d transitions, want 3: %+v", len(f.changes), f.changes)
	}
	r, _ := f.store.Get("RPM")
	if r.MinSeen != 5000 || r.MaxSeen != 7200 {
		t.Errorf("range = [%v, %v], want [5000, 7200]", r.MinSeen, r.MaxSeen)
	}
}

func TestStopJoinsWorker(t *testing.T) {
	q := &scriptQuerier{
		values: map[string][]signals.Value{"RPM": nums(1000)},
		block:  make(chan struct{}),
	}
	f := newFixture(q, "RPM")
	if err := f.loop.Start(time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.loop.Running() {
		t.Fatal("loop not running after Start")
	}

	stopped := make(chan struct{})
	go func() {
		f.loop.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a query was in flight")
	}
	if f.loop.Running() {
		t.Error("loop still running after Stop")
	}
	if n := f.clock.ActiveTickers(); n != 0 {
		t.Errorf("%d tickers left running", n)
	}
	f.loop.Stop()

	// A stopped loop can be restarted.
	close(q.block)
	if err := f.loop.Start(time.Second); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.nextTick(t)
	f.loop.Stop()
}

// hungTransport accepts a send and never answers until ctx ends.
type hungTransport struct {
	sent chan struct{}
	once sync.Once
}

func (h *hungTransport) Connect(context.Context, string) error { return nil }
func (h *hungTransport) Disconnect(context.Context) error      { return nil }

func (h *hungTransport) Send(ctx context.Context, _ []byte) ([]byte, error) {
	h.once.Do(func() { close(h.sent) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopCancelsBridgedQuery(t *testing.T) {
	ht := &hungTransport{sent: make(chan struct{})}
	br := bridge.New(ht, nil)
	defer br.Close()
	link := obdlink.NewLink(obdlink.BridgeExchanger{Bridge: br, Timeout: 5 * time.Second}, 5*time.Second, nil)

	f := newFixture(link, "RPM")
	if err := f.loop.Start(time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ht.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("query never reached the transport")
	}

	begin := time.Now()
	f.loop.Stop()
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v with a query stuck on the bridge", elapsed)
	}

	// The bridge worker is free for the next caller.
	data, err := br.Call("next", time.Second, func(context.Context, bridge.Transport) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(data) != "ok" {
		t.Errorf("Call after Stop = %q, %v", data, err)
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	f := newFixture(&scriptQuerier{}, "RPM")
	if err := f.loop.Start(0); !errors.Is(err, ErrBadInterval) {
		t.Errorf("Start(0) = %v", err)
	}
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	var got []int
	if !q.Post(func() { got = append(got, 1) }) || !q.Post(func() { got = append(got, 2) }) {
		t.Fatal("Post rejected with room in the queue")
	}
	if q.Post(func() { got = append(got, 3) }) {
		t.Error("Post accepted on a full queue")
	}
	if n := q.Drain(); n != 2 {
		t.Errorf("Drain ran %d", n)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ran %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	ran := make(chan struct{})
	q.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Run did not execute posted function")
	}
	cancel()
	<-done
}
