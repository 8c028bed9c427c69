package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/serialmux"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Network is a TCP link to a wireless adapter. It implements
// bridge.Transport and is meant to be driven only from the bridge worker.
type Network struct {
	Dial DialFunc
	Logf monitoring.Logf

	mu      sync.Mutex
	mux     *serialmux.Mux[net.Conn]
	cancel  context.CancelFunc
	monitor chan struct{}
}

// NewNetwork returns a disconnected network transport.
func NewNetwork(logf monitoring.Logf) *Network {
	var d net.Dialer
	return &Network{Dial: d.DialContext, Logf: monitoring.OrDiscard(logf)}
}

func (n *Network) Connect(ctx context.Context, address string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mux != nil {
		return failure.Transport("connect", ErrAlreadyConnected)
	}

	conn, err := n.Dial(ctx, "tcp", address)
	if err != nil {
		return failure.Transport("connect "+address, err)
	}

	mux := serialmux.New(conn)
	monCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	logf := monitoring.OrDiscard(n.Logf)
	go func() {
		defer close(done)
		if err := mux.Monitor(monCtx); err != nil && !errors.Is(err, context.Canceled) {
			logf("network monitor for %s exited: %v", address, err)
		}
	}()

	n.mux, n.cancel, n.monitor = mux, cancel, done
	logf("connected to %s", address)
	return nil
}

func (n *Network) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mux == nil {
		return nil
	}
	n.cancel()
	err := n.mux.Close()
	select {
	case <-n.monitor:
	case <-ctx.Done():
	}
	n.mux, n.cancel, n.monitor = nil, nil, nil
	if err != nil {
		return failure.Transport("disconnect", err)
	}
	return nil
}

// Send writes payload as one adapter command and returns the reply.
func (n *Network) Send(ctx context.Context, payload []byte) ([]byte, error) {
	n.mu.Lock()
	mux := n.mux
	n.mu.Unlock()
	if mux == nil {
		return nil, failure.Transport("send", ErrNotConnected)
	}
	resp, err := mux.Exchange(ctx, strings.TrimSpace(string(payload)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Timeout("send", err)
		}
		return nil, failure.Transport("send", err)
	}
	return []byte(resp), nil
}

// Connected reports whether Connect has succeeded without a Disconnect.
func (n *Network) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mux != nil
}
