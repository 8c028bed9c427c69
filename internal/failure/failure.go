// Package failure defines the error taxonomy shared by the telemetry core.
// Every error that crosses a component boundary carries one Kind so that
// callers can decide locally whether to retry, surface or ignore it.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindQuery
	KindConfig
	KindIO
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport failure"
	case KindQuery:
		return "query failure"
	case KindConfig:
		return "config failure"
	case KindIO:
		return "io failure"
	case KindTimeout:
		return "timeout failure"
	default:
		return "unknown failure"
	}
}

// Sentinels for errors.Is matching against a Kind.
var (
	ErrTransport = errors.New(KindTransport.String())
	ErrQuery     = errors.New(KindQuery.String())
	ErrConfig    = errors.New(KindConfig.String())
	ErrIO        = errors.New(KindIO.String())
	ErrTimeout   = errors.New(KindTimeout.String())
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindQuery:
		return ErrQuery
	case KindConfig:
		return ErrConfig
	case KindIO:
		return ErrIO
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

// Error is a classified failure. Op names the operation that failed,
// e.g. "connect" or "query RPM".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New returns a classified error. A nil err is allowed and yields an error
// that only carries the operation and kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transport(op string, err error) error { return New(KindTransport, op, err) }
func Query(op string, err error) error     { return New(KindQuery, op, err) }
func Config(op string, err error) error    { return New(KindConfig, op, err) }
func IO(op string, err error) error        { return New(KindIO, op, err) }
func Timeout(op string, err error) error   { return New(KindTimeout, op, err) }

// KindOf returns the Kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
