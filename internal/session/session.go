// Package session ties one monitoring run together: it connects the
// configured transport, runs the acquisition loop and the periodic display
// callbacks, and shuts everything down in a safe order.
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/obdwatch/internal/acquisition"
	"github.com/banshee-data/obdwatch/internal/alerts"
	"github.com/banshee-data/obdwatch/internal/config"
	"github.com/banshee-data/obdwatch/internal/db"
	"github.com/banshee-data/obdwatch/internal/fsutil"
	"github.com/banshee-data/obdwatch/internal/grid"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/obdlink"
	"github.com/banshee-data/obdwatch/internal/recorder"
	"github.com/banshee-data/obdwatch/internal/report"
	"github.com/banshee-data/obdwatch/internal/schedule"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/signals"
	"github.com/banshee-data/obdwatch/internal/timeutil"
	"github.com/banshee-data/obdwatch/internal/transport"
)

// Periods of the display callbacks.
const (
	AlertRefreshInterval = time.Second
	HighlightInterval    = 200 * time.Millisecond
)

var ErrClosed = errors.New("session closed")

// Options supplies the collaborators of a session. Only Config is
// required.
type Options struct {
	Config *config.Config
	Logf   monitoring.Logf
	FS     fsutil.FileSystem
	Clock  timeutil.Clock

	// Opener opens serial ports; defaults to serialmux.OpenSerial.
	Opener serialmux.Opener
	// Dial and Browse override the network transport and mDNS discovery.
	Dial   transport.DialFunc
	Browse transport.BrowseFunc
	// Seed drives the simulator and the fallback model's jitter.
	Seed uint64

	Journal *db.DB
	Sounder alerts.Sounder

	// Display callbacks run through Dispatcher on the display goroutine.
	Dispatcher  acquisition.Dispatcher
	OnTick      func(acquisition.TickResult)
	OnAlerts    func([]alerts.Alert)
	OnHighlight func(label string)
}

// Session is one connected monitoring run.
type Session struct {
	ID string

	opts  Options
	cfg   *config.Config
	logf  monitoring.Logf
	fs    fsutil.FileSystem
	clock timeutil.Clock

	store *signals.Store
	eval  *alerts.Evaluator
	table *grid.Table
	rec   *recorder.Recorder
	sched *schedule.Registry
	loop  *acquisition.Loop
	obd   *obdlink.Link
	conn  *link

	started time.Time
	points  atomic.Int64

	mu     sync.Mutex
	closed bool
}

// Open connects to the adapter and initialises the link. On failure
// nothing is left open and the error is returned once; there is no retry.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Opener == nil {
		opts.Opener = serialmux.OpenSerial
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(opts.Clock.Now().UnixNano())
	}
	cfg := opts.Config

	s := &Session{
		ID:    uuid.NewString(),
		opts:  opts,
		cfg:   cfg,
		logf:  monitoring.OrDiscard(opts.Logf),
		fs:    opts.FS,
		clock: opts.Clock,
		store: signals.NewStore(),
	}

	s.eval = alerts.NewEvaluator(rulesFrom(cfg), alerts.Options{
		Audio:   cfg.GetAudioAlerts(),
		Sounder: opts.Sounder,
		Logf:    s.logf.With("alerts"),
	})
	s.table = s.newTable()
	s.rec = recorder.New(recorder.Options{
		Dir:      cfg.GetLogDir(),
		Capacity: cfg.GetMaxLogEntries(),
		Rotation: cfg.GetRotationInterval(),
		FS:       opts.FS,
		Clock:    opts.Clock,
		Logf:     s.logf.With("recorder"),
	})
	s.sched = schedule.NewRegistry(opts.Clock, s.logf.With("schedule"))

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.obd = obdlink.NewLink(conn.ex, cfg.GetRequestTimeout(), s.logf.With("link"))

	initCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	defer cancel()
	if err := s.obd.Init(initCtx); err != nil {
		conn.close(context.Background())
		return nil, err
	}

	s.loop = acquisition.New(acquisition.Options{
		Signals:         cfg.GetSignals(),
		Querier:         countingQuerier{q: s.obd, n: &s.points},
		Store:           s.store,
		Alerts:          s.eval,
		Table:           s.table,
		Recorder:        s.rec,
		PrimarySignal:   cfg.GetGridPrimarySignal(),
		SecondarySignal: cfg.GetGridSecondarySignal(),
		ValueSignal:     cfg.GetGridValueSignal(),
		OnTransition:    s.journalTransition,
		OnTick:          opts.OnTick,
		Dispatcher:      opts.Dispatcher,
		Clock:           opts.Clock,
		Logf:            s.logf.With("acquisition"),
	})

	s.started = opts.Clock.Now()
	if opts.Journal != nil {
		err := opts.Journal.BeginSession(db.Session{
			ID:        s.ID,
			StartedAt: s.started,
			Transport: conn.kind,
			Address:   conn.address,
			Signals:   cfg.GetSignals(),
		})
		if err != nil {
			s.logf("journal: %v", err)
		}
	}
	s.logf("session %s connected via %s %s", s.ID, conn.kind, conn.address)
	return s, nil
}

func rulesFrom(cfg *config.Config) []alerts.Rule {
	thresholds := cfg.GetThresholds()
	var rules []alerts.Rule
	for _, id := range cfg.ThresholdSignals() {
		t := thresholds[id]
		if !t.Complete() {
			continue
		}
		rules = append(rules, alerts.Rule{SignalID: id, Warning: *t.Warning, Critical: *t.Critical})
	}
	return rules
}

// newTable builds the table over the persisted shape, or the default
// shape when none is saved or the saved one is unusable.
func (s *Session) newTable() *grid.Table {
	primary, secondary := grid.DefaultPrimaryAxis(), grid.DefaultSecondaryAxis()
	shape, found, err := grid.LoadShape(s.fs, s.cfg.GetGridShapePath())
	switch {
	case err != nil:
		s.logf("ignoring grid shape: %v", err)
	case found:
		if p, sec, err := shape.Axes(); err == nil {
			primary, secondary = p, sec
		}
	}
	rng := rand.New(rand.NewPCG(s.opts.Seed, s.opts.Seed>>1|1))
	return grid.NewTable(primary, secondary, grid.Options{
		Model:        grid.NewJittered(grid.DefaultFallback(), rng),
		HistoryLimit: s.cfg.GetGridHistoryLimit(),
		Clock:        s.clock,
	})
}

func (s *Session) journalTransition(tr alerts.Transition) {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.RecordTransition(s.ID, tr); err != nil {
		s.logf("journal: %v", err)
	}
}

type countingQuerier struct {
	q acquisition.Querier
	n *atomic.Int64
}

func (c countingQuerier) Query(ctx context.Context, name string) (signals.Value, string, error) {
	v, unit, err := c.q.Query(ctx, name)
	if err == nil {
		c.n.Add(1)
	}
	return v, unit, err
}

// callbackNames are the periodic callbacks owned by Start and Stop.
var callbackNames = []string{"rotation", "alerts", "highlight"}

// Start registers the periodic callbacks and begins polling. On error nothing
// is left running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.loop.Running() {
		return acquisition.ErrRunning
	}

	if s.cfg.GetAutoSave() && !s.rec.AutoSaveActive() {
		if err := s.rec.EnableAutoSave(); err != nil {
			s.logf("auto-save disabled: %v", err)
		}
	}
	if err := s.registerCallbacks(); err != nil {
		s.cancelCallbacks()
		return err
	}
	if err := s.loop.Start(s.cfg.GetPollInterval()); err != nil {
		s.cancelCallbacks()
		return err
	}
	return nil
}

func (s *Session) registerCallbacks() error {
	if err := s.sched.Every("rotation", s.cfg.GetRotationCheckInterval(), s.rec.CheckRotation); err != nil {
		return err
	}
	if s.opts.Dispatcher == nil {
		return nil
	}
	if s.opts.OnAlerts != nil && s.cfg.GetVisualAlerts() {
		onAlerts := s.opts.OnAlerts
		err := s.sched.Every("alerts", AlertRefreshInterval, func() {
			active := s.eval.Active()
			s.opts.Dispatcher.Post(func() { onAlerts(active) })
		})
		if err != nil {
			return err
		}
	}
	if s.opts.OnHighlight != nil {
		onHighlight := s.opts.OnHighlight
		err := s.sched.Every("highlight", HighlightInterval, func() {
			label, ok := s.CurrentLabel()
			if ok {
				s.opts.Dispatcher.Post(func() { onHighlight(label) })
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) cancelCallbacks() {
	for _, name := range callbackNames {
		s.sched.Cancel(name)
	}
}

// Stop halts polling and the periodic callbacks but keeps the connection
// open. A stopped session can be started again.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop.Stop()
	s.cancelCallbacks()
}

// Running reports whether the acquisition loop is polling.
func (s *Session) Running() bool { return s.loop.Running() }

// Close shuts the session down. Periodic callbacks are cancelled first, then
// the loop is joined, then files, the shape, the journal and finally the
// transport are closed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.CancelAll()
	s.loop.Stop()

	var errs []error
	if err := s.rec.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := grid.SaveShape(s.fs, s.cfg.GetGridShapePath(), s.table); err != nil {
		errs = append(errs, err)
	}
	if s.opts.Journal != nil {
		snap := s.table.Snapshot()
		if err := s.opts.Journal.EndSession(s.ID, s.clock.Now(), s.points.Load(), int64(snap.Visited)); err != nil {
			s.logf("journal: %v", err)
		}
	}
	if err := s.conn.close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.store.Clear()
	s.eval.Reset()
	s.logf("session %s closed", s.ID)
	return errors.Join(errs...)
}

// Readings returns the latest reading of every signal.
func (s *Session) Readings() []signals.Reading { return s.store.Snapshot() }

// ActiveAlerts returns the raised alerts in the order they were raised.
func (s *Session) ActiveAlerts() []alerts.Alert { return s.eval.Active() }

// Levels returns the current alert level of every signal with a rule.
func (s *Session) Levels() map[string]alerts.Level {
	out := make(map[string]alerts.Level)
	for _, r := range s.eval.Rules() {
		out[r.SignalID] = s.eval.Level(r.SignalID)
	}
	return out
}

func (s *Session) GridSnapshot() grid.Snapshot      { return s.table.Snapshot() }
func (s *Session) GridHistory() []grid.ChangeEntry { return s.table.History() }
func (s *Session) ResetGrid()                      { s.table.Reset() }

// ReshapeGrid migrates the table onto new axes.
func (s *Session) ReshapeGrid(primary, secondary grid.Axis) error {
	return s.table.Reshape(primary, secondary)
}

// CurrentLabel names the most recently recorded cell.
func (s *Session) CurrentLabel() (string, bool) {
	loc, ok := s.table.Current()
	if !ok {
		return "", false
	}
	p, sec, ok := s.table.Ticks(loc)
	if !ok {
		return "", false
	}
	return grid.LocationLabel(p, sec), true
}

// Report summarizes the session so far.
func (s *Session) Report() report.Report {
	r := report.Summarize(s.rec.Entries(), s.table.Snapshot())
	r.SessionID = s.ID
	return r
}

// History returns the recorder's in-memory history.
func (s *Session) History() []recorder.Entry { return s.rec.Entries() }

func (s *Session) StartLog() (string, error) { return s.rec.StartLog() }
func (s *Session) StopLog() error            { return s.rec.StopLog() }
func (s *Session) LogActive() bool           { return s.rec.LogActive() }

// Do sends a request over the diagnostic link, interleaved with polling.
func (s *Session) Do(ctx context.Context, req obdlink.Request) (obdlink.Result, error) {
	return s.obd.Do(ctx, req)
}

// ClearCodes clears the stored trouble codes.
func (s *Session) ClearCodes(ctx context.Context) error {
	_, err := s.Do(ctx, obdlink.ClearCodes{})
	return err
}

// AttachAdminRoutes mounts the raw adapter console when the transport is a
// local port.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	if s.conn.mux != nil {
		s.conn.mux.AttachAdminRoutes(mux)
	}
}

// Kind returns the transport kind and address in use.
func (s *Session) Kind() (kind, address string) { return s.conn.kind, s.conn.address }
