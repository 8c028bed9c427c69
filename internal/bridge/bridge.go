// Package bridge gives synchronous callers blocking, time-limited access to a
// transport that must only be driven from a single goroutine.
//
// One worker goroutine owns the transport. Calls are submitted over a
// channel and each carries its own context; when a call's timeout expires
// the context is cancelled, so an operation that honours its context is
// abandoned rather than left running against the transport.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/monitoring"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("bridge closed")

// Transport is a natively asynchronous link. Implementations must respect
// ctx cancellation.
type Transport interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, payload []byte) ([]byte, error)
}

// Op is a unit of work run on the worker goroutine.
type Op func(ctx context.Context, t Transport) ([]byte, error)

type result struct {
	data []byte
	err  error
}

type request struct {
	ctx   context.Context
	op    Op
	reply chan result // buffered, so the worker never blocks on an abandoned caller
}

// Bridge serializes operations on a Transport through one worker goroutine.
type Bridge struct {
	t    Transport
	logf monitoring.Logf

	reqs   chan request
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// New starts the worker goroutine. Close must be called to stop it.
func New(t Transport, logf monitoring.Logf) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		t:      t,
		logf:   monitoring.OrDiscard(logf),
		reqs:   make(chan request),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.reqs:
			if err := req.ctx.Err(); err != nil {
				req.reply <- result{err: err}
				continue
			}
			data, err := req.op(req.ctx, b.t)
			req.reply <- result{data: data, err: err}
		}
	}
}

// Call is CallContext with a background caller context.
func (b *Bridge) Call(name string, timeout time.Duration, op Op) ([]byte, error) {
	return b.CallContext(context.Background(), name, timeout, op)
}

// CallContext runs op on the worker and waits at most timeout for it to
// finish, including time spent queued behind other calls. The op's context
// is cancelled when the timeout expires, when parent is cancelled, or when
// the bridge closes, and the caller returns immediately in each case.
func (b *Bridge) CallContext(parent context.Context, name string, timeout time.Duration, op Op) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	req := request{ctx: ctx, op: op, reply: make(chan result, 1)}
	select {
	case b.reqs <- req:
	case <-ctx.Done():
		return nil, b.ctxFailure(parent, name, timeout, ctx)
	}

	select {
	case res := <-req.reply:
		if res.err != nil && ctx.Err() != nil {
			return nil, b.ctxFailure(parent, name, timeout, ctx)
		}
		return res.data, res.err
	case <-ctx.Done():
		return nil, b.ctxFailure(parent, name, timeout, ctx)
	}
}

func (b *Bridge) ctxFailure(parent context.Context, name string, timeout time.Duration, ctx context.Context) error {
	switch {
	case b.ctx.Err() != nil:
		return failure.Transport(name, ErrClosed)
	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("%s: %w", name, parent.Err())
	}
	b.logf("%s abandoned after %v", name, timeout)
	return failure.Timeout(name, fmt.Errorf("no reply within %v: %w", timeout, ctx.Err()))
}

// Connect opens the transport. A failure is reported once and is not
// retried.
func (b *Bridge) Connect(ctx context.Context, address string, timeout time.Duration) error {
	_, err := b.CallContext(ctx, "connect", timeout, func(ctx context.Context, t Transport) ([]byte, error) {
		return nil, t.Connect(ctx, address)
	})
	return asTransport("connect", err)
}

// Disconnect closes the transport.
func (b *Bridge) Disconnect(ctx context.Context, timeout time.Duration) error {
	_, err := b.CallContext(ctx, "disconnect", timeout, func(ctx context.Context, t Transport) ([]byte, error) {
		return nil, t.Disconnect(ctx)
	})
	return asTransport("disconnect", err)
}

// Send writes payload and returns the response.
func (b *Bridge) Send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	data, err := b.CallContext(ctx, "send", timeout, func(ctx context.Context, t Transport) ([]byte, error) {
		return t.Send(ctx, payload)
	})
	return data, asTransport("send", err)
}

// asTransport classifies errors that carry no kind yet.
func asTransport(op string, err error) error {
	if err == nil || failure.KindOf(err) != failure.KindUnknown {
		return err
	}
	return failure.Transport(op, err)
}

// Close stops the worker, cancelling any in-flight operation, and waits for
// it to exit.
func (b *Bridge) Close() {
	b.closeOnce.Do(b.cancel)
	<-b.done
}
