package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/obdwatch/internal/acquisition"
	"github.com/banshee-data/obdwatch/internal/config"
	"github.com/banshee-data/obdwatch/internal/db"
	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/fsutil"
	"github.com/banshee-data/obdwatch/internal/obdlink"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

const shapePath = "/state/grid.json"

func testConfig(t *testing.T, transport string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`{
		"transport": "` + transport + `",
		"connect_timeout": "2s",
		"request_timeout": "1s",
		"poll_interval": "1s",
		"logging": {"dir": "/logs", "auto_save": false},
		"grid": {"shape_path": "` + shapePath + `"}
	}`))
	require.NoError(t, err)
	return cfg
}

func testOptions(t *testing.T, transport string) (Options, *fsutil.MemoryFileSystem) {
	fs := fsutil.NewMemoryFileSystem()
	return Options{
		Config: testConfig(t, transport),
		FS:     fs,
		Clock:  timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Seed:   7,
	}, fs
}

func TestSimulatedSessionPollsAndCloses(t *testing.T) {
	opts, fs := testOptions(t, config.TransportSimulated)
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	kind, addr := s.Kind()
	assert.Equal(t, config.TransportSimulated, kind)
	assert.Equal(t, "simulator", addr)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())

	want := len(config.DefaultSignals)
	require.Eventually(t, func() bool { return len(s.Readings()) == want }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.GridSnapshot().Visited == 1 }, 5*time.Second, 10*time.Millisecond)

	snap := s.GridSnapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, 1, snap.Visited)
	_, ok := s.CurrentLabel()
	assert.True(t, ok)

	require.NoError(t, s.Close(context.Background()))
	assert.False(t, s.Running())
	assert.Empty(t, s.Readings())
	assert.True(t, fs.Exists(shapePath))

	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Start(), ErrClosed)
}

func TestSessionReportCountsHistory(t *testing.T) {
	opts, _ := testOptions(t, config.TransportSimulated)
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return len(s.History()) > 0 }, 5*time.Second, 10*time.Millisecond)
	s.Stop()

	r := s.Report()
	assert.Equal(t, s.ID, r.SessionID)
	assert.Equal(t, len(s.History()), r.DataPoints)
	assert.NotEmpty(t, r.Signals)
}

func TestCorruptShapeFallsBackToDefaults(t *testing.T) {
	opts, fs := testOptions(t, config.TransportSimulated)
	require.NoError(t, fs.WriteFile(shapePath, []byte("{not json"), 0o644))

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close(context.Background())

	snap := s.GridSnapshot()
	assert.Len(t, snap.Primary, 20)
	assert.Len(t, snap.Secondary, 19)
	assert.Equal(t, 0, snap.Visited)
}

func TestSerialOpenFailureIsTransportError(t *testing.T) {
	opts, _ := testOptions(t, config.TransportSerial)
	opts.Opener = func(string, serialmux.PortOptions) (serialmux.Port, error) {
		return nil, errors.New("no such device")
	}
	_, err := Open(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, failure.KindTransport, failure.KindOf(err))
}

func TestSerialSessionUsesOpener(t *testing.T) {
	opts, _ := testOptions(t, config.TransportSerial)
	port := serialmux.NewScriptedPort(obdlink.NewSimulator(1).Respond)
	opts.Opener = func(string, serialmux.PortOptions) (serialmux.Port, error) { return port, nil }

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, s.ClearCodes(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []string{"ATZ", "ATE0", "ATL0", "ATSP0", "04"}, port.Commands())
	assert.True(t, port.IsClosed())
}

func TestNetworkDiscoveryFailure(t *testing.T) {
	opts, _ := testOptions(t, config.TransportNetwork)
	opts.Browse = func(ctx context.Context, _, _ string, _ chan<- *zeroconf.ServiceEntry) error {
		return errors.New("multicast unavailable")
	}
	_, err := Open(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, failure.KindTransport, failure.KindOf(err))
}

// servePipe answers adapter commands on conn with the simulator.
func servePipe(conn net.Conn, sim *obdlink.Simulator) {
	r := bufio.NewReader(conn)
	for {
		cmd, err := r.ReadString('\r')
		if err != nil {
			return
		}
		resp, ok := sim.Respond(strings.TrimSpace(cmd))
		if !ok {
			continue
		}
		if _, err := conn.Write([]byte(resp + "\r\r>")); err != nil {
			return
		}
	}
}

func TestNetworkSessionThroughBridge(t *testing.T) {
	opts, _ := testOptions(t, config.TransportNetwork)
	opts.Config.Network = &config.NetworkConfig{Address: ptr("10.0.0.5:35000")}

	var dialed string
	opts.Dial = func(_ context.Context, _, address string) (net.Conn, error) {
		dialed = address
		client, server := net.Pipe()
		go servePipe(server, obdlink.NewSimulator(3))
		return client, nil
	}

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:35000", dialed)

	res, err := s.Do(context.Background(), obdlink.ReadSignal{Signal: "RPM"})
	require.NoError(t, err)
	assert.Equal(t, "rpm", res.Unit)
	require.NoError(t, s.Close(context.Background()))
}

func TestSessionJournal(t *testing.T) {
	journal, err := db.NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer journal.Close()

	opts, _ := testOptions(t, config.TransportSimulated)
	opts.Journal = journal
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.GridSnapshot().Visited == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))

	got, err := journal.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, config.TransportSimulated, got.Transport)
	require.NotNil(t, got.EndedAt)
	assert.Positive(t, got.DataPoints)
	assert.EqualValues(t, 1, got.CellsVisited)
}

func TestDisplayCallbacksRunThroughDispatcher(t *testing.T) {
	opts, _ := testOptions(t, config.TransportSimulated)
	clock := opts.Clock.(*timeutil.MockClock)
	q := acquisition.NewQueue(64)
	opts.Dispatcher = q

	labels := make(chan string, 16)
	opts.OnHighlight = func(label string) { labels <- label }

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close(context.Background())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { _, ok := s.CurrentLabel(); return ok }, 5*time.Second, 10*time.Millisecond)

	// Loop and rotation tickers plus the highlight one.
	require.Eventually(t, func() bool { return clock.ActiveTickers() >= 3 }, 5*time.Second, 10*time.Millisecond)
	clock.Advance(HighlightInterval)

	require.Eventually(t, func() bool { return q.Drain() > 0 && len(labels) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, <-labels, "RPM")
}

func TestSessionRestartsAfterStop(t *testing.T) {
	opts, _ := testOptions(t, config.TransportSimulated)
	clock := opts.Clock.(*timeutil.MockClock)
	opts.Dispatcher = acquisition.NewQueue(64)
	opts.OnHighlight = func(string) {}

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), acquisition.ErrRunning)
	// Loop, rotation and highlight.
	require.Eventually(t, func() bool { return clock.ActiveTickers() == 3 }, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.Equal(t, 0, clock.ActiveTickers())

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return clock.ActiveTickers() == 3 }, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, 0, clock.ActiveTickers())
}

func ptr[T any](v T) *T { return &v }
