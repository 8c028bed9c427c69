// Package monitoring provides the printf-style log function that components
// receive through their constructors.
package monitoring

import (
	"log"
	"os"
)

// Logf is a printf-style diagnostic logger. A nil Logf discards output.
type Logf func(format string, v ...interface{})

// New returns a Logf writing to stderr with microsecond timestamps. The
// prefix is prepended to every line.
func New(prefix string) Logf {
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds).Printf
}

// Discard drops every message.
func Discard(string, ...interface{}) {}

// Printf logs through l, or does nothing when l is nil.
func (l Logf) Printf(format string, v ...interface{}) {
	if l == nil {
		return
	}
	l(format, v...)
}

// With returns a Logf that prefixes each message with "[component] ".
func (l Logf) With(component string) Logf {
	if l == nil {
		return Discard
	}
	return func(format string, v ...interface{}) {
		l("["+component+"] "+format, v...)
	}
}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logf) Logf {
	if l == nil {
		return Discard
	}
	return l
}
