// Package obdlink talks to an ELM-style diagnostic adapter: link setup,
// signal reads, clearing trouble codes and raw sends.
package obdlink

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/signals"
)

// Exchanger sends one command and returns the adapter's reply with the
// prompt removed. *serialmux.Mux satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, command string) (string, error)
}

// InitSequence resets the adapter, turns off echo and linefeeds, and lets
// it pick the bus protocol.
var InitSequence = []string{"ATZ", "ATE0", "ATL0", "ATSP0"}

// Link is a synchronous diagnostic link. Calls are bounded by Timeout in
// addition to any deadline on ctx.
type Link struct {
	ex      Exchanger
	timeout time.Duration
	logf    monitoring.Logf
}

// NewLink returns a link over ex. A zero timeout means 2s.
func NewLink(ex Exchanger, timeout time.Duration, logf monitoring.Logf) *Link {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Link{ex: ex, timeout: timeout, logf: monitoring.OrDiscard(logf)}
}

func (l *Link) exchange(ctx context.Context, op, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.ex.Exchange(ctx, cmd)
	switch {
	case err == nil:
		return resp, nil
	case failure.KindOf(err) != failure.KindUnknown:
		return "", err
	case errors.Is(err, context.DeadlineExceeded):
		return "", failure.Timeout(op, err)
	default:
		return "", failure.Transport(op, err)
	}
}

// Init runs InitSequence. Every command after the reset must be
// acknowledged with OK.
func (l *Link) Init(ctx context.Context) error {
	for i, cmd := range InitSequence {
		resp, err := l.exchange(ctx, "init "+cmd, cmd)
		if err != nil {
			return err
		}
		if i == 0 {
			l.logf("adapter: %s", strings.ReplaceAll(resp, "\n", " "))
			continue
		}
		if !strings.Contains(strings.ToUpper(resp), "OK") {
			return failure.Transport("init "+cmd, fmt.Errorf("adapter replied %q", resp))
		}
	}
	return nil
}

// Query reads one catalog signal.
func (l *Link) Query(ctx context.Context, name string) (signals.Value, string, error) {
	p, ok := Lookup(name)
	if !ok {
		return signals.Value{}, "", failure.Query("query "+name, ErrUnknownSignal)
	}
	resp, err := l.exchange(ctx, "query "+name, p.Command())
	if err != nil {
		return signals.Value{}, "", err
	}
	data, err := extractData(resp, p)
	if err != nil {
		return signals.Value{}, "", failure.Query("query "+name, err)
	}
	return p.Decode(data), p.Unit, nil
}

// Clear sends mode 04 and expects the 44 acknowledgement.
func (l *Link) Clear(ctx context.Context) error {
	resp, err := l.exchange(ctx, "clear", "04")
	if err != nil {
		return err
	}
	if err := adapterError(resp); err != nil {
		return failure.Query("clear", err)
	}
	for _, b := range hexLines(resp) {
		if len(b) >= 1 && b[0] == 0x44 {
			return nil
		}
	}
	return failure.Query("clear", fmt.Errorf("%w: %q", ErrBadResponse, resp))
}

// Send performs a raw send. Unframed payloads are sent as text and the
// reply is returned as text.
func (l *Link) Send(ctx context.Context, req RawSend) ([]byte, error) {
	if !req.Framed {
		resp, err := l.exchange(ctx, "send", string(req.Payload))
		if err != nil {
			return nil, err
		}
		return []byte(resp), nil
	}

	cmd := strings.ToUpper(hex.EncodeToString(EncodeJ1850(req.Payload)))
	resp, err := l.exchange(ctx, "send", cmd)
	if err != nil {
		return nil, err
	}
	if err := adapterError(resp); err != nil {
		return nil, failure.Query("send", err)
	}
	lines := hexLines(resp)
	if len(lines) == 0 {
		return nil, failure.Query("send", fmt.Errorf("%w: %q", ErrBadResponse, resp))
	}
	payload, err := DecodeJ1850(lines[0])
	if err != nil {
		return nil, failure.Query("send", err)
	}
	return payload, nil
}

// Do performs req.
func (l *Link) Do(ctx context.Context, req Request) (Result, error) {
	switch r := req.(type) {
	case ReadSignal:
		v, unit, err := l.Query(ctx, r.Signal)
		return Result{Value: v, Unit: unit}, err
	case ClearCodes:
		return Result{}, l.Clear(ctx)
	case RawSend:
		raw, err := l.Send(ctx, r)
		return Result{Raw: raw}, err
	default:
		return Result{}, failure.Query("do", fmt.Errorf("unsupported request %T", req))
	}
}
