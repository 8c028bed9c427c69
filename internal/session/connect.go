package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/obdwatch/internal/bridge"
	"github.com/banshee-data/obdwatch/internal/config"
	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/obdlink"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/transport"
)

// link is an open transport: the exchanger the diagnostic link talks
// through and the function that releases it.
type link struct {
	kind    string
	address string
	ex      obdlink.Exchanger
	mux     *serialmux.Mux[serialmux.Port] // nil for the network transport
	close   func(ctx context.Context) error
}

// openMux starts a response monitor over port.
func (s *Session) openMux(kind, address string, port serialmux.Port) *link {
	mux := serialmux.New(port)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logf("adapter monitor exited: %v", err)
		}
	}()
	return &link{
		kind:    kind,
		address: address,
		ex:      mux,
		mux:     mux,
		close: func(context.Context) error {
			cancel()
			err := mux.Close()
			<-done
			return err
		},
	}
}

func (s *Session) connect(ctx context.Context) (*link, error) {
	cfg := s.cfg
	switch kind := cfg.GetTransport(); kind {
	case config.TransportSerial:
		path := cfg.GetSerialPort()
		port, err := s.opts.Opener(path, cfg.GetSerialOptions())
		if err != nil {
			return nil, failure.Transport("open "+path, err)
		}
		return s.openMux(kind, path, port), nil

	case config.TransportSimulated:
		sim := obdlink.NewSimulator(s.opts.Seed)
		return s.openMux(kind, "simulator", serialmux.NewScriptedPort(sim.Respond)), nil

	case config.TransportNetwork:
		addr := cfg.GetNetworkAddress()
		if addr == "" {
			var err error
			if addr, err = s.discover(); err != nil {
				return nil, err
			}
		}
		nt := transport.NewNetwork(s.logf.With("network"))
		if s.opts.Dial != nil {
			nt.Dial = s.opts.Dial
		}
		br := bridge.New(nt, s.logf.With("bridge"))
		if err := br.Connect(context.Background(), addr, cfg.GetConnectTimeout()); err != nil {
			br.Close()
			return nil, err
		}
		return &link{
			kind:    kind,
			address: addr,
			ex:      obdlink.BridgeExchanger{Bridge: br, Timeout: cfg.GetRequestTimeout()},
			close: func(ctx context.Context) error {
				err := br.Disconnect(ctx, cfg.GetConnectTimeout())
				br.Close()
				return err
			},
		}, nil

	default:
		return nil, failure.Config("connect", fmt.Errorf("unknown transport %q", kind))
	}
}

// discover returns the first adapter advertised over mDNS.
func (s *Session) discover() (string, error) {
	scanner := transport.MDNSScanner{
		Service: s.cfg.GetNetworkService(),
		Domain:  s.cfg.GetNetworkDomain(),
		Browse:  s.opts.Browse,
	}
	devices, err := transport.Scan(s.cfg.GetConnectTimeout(), scanner)
	if len(devices) > 0 {
		s.logf("discovered %s at %s", devices[0].Name, devices[0].Address)
		return devices[0].Address, nil
	}
	if err == nil {
		err = errors.New("no adapter found")
	}
	return "", failure.Transport("discover "+s.cfg.GetNetworkService(), err)
}
