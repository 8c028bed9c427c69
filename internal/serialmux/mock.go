package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("port closed")

// TestablePort implements TimeoutPort with configurable behaviour for tests.
// Reads block until data is added or the port is closed.
type TestablePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error

	closed      bool
	readTimeout time.Duration
	writeCalls  int

	// OnWrite, when set, is called with every write while the port lock is
	// not held. ScriptedPort uses it to answer commands.
	OnWrite func(p []byte)
}

// NewTestablePort creates an open TestablePort with empty buffers.
func NewTestablePort() *TestablePort {
	t := &TestablePort{}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.closed && t.readBuf.Len() == 0 {
		t.readCond.Wait()
	}
	if t.closed {
		return 0, errPortClosed
	}
	return t.readBuf.Read(p)
}

func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.writeCalls++
	if t.closed {
		t.mu.Unlock()
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	n, _ := t.writeBuf.Write(p)
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return n, nil
}

// Close marks the port closed and wakes blocked readers.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

// AddReadData queues data for subsequent reads.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readBuf.Write(data)
	t.readCond.Broadcast()
}

// Written returns everything written to the port so far.
func (t *TestablePort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// IsClosed reports whether Close has been called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ReadTimeout returns the last timeout passed to SetReadTimeout.
func (t *TestablePort) ReadTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout
}

// Responder produces the adapter's answer to one command, without the
// trailing prompt. Returning ok=false leaves the command unanswered.
type Responder func(command string) (response string, ok bool)

// ScriptedPort is a TestablePort that answers each command through a
// Responder, framing the answer the way an adapter does.
type ScriptedPort struct {
	*TestablePort

	mu       sync.Mutex
	pending  string
	commands []string
}

// NewScriptedPort returns a port whose responses come from respond.
func NewScriptedPort(respond Responder) *ScriptedPort {
	sp := &ScriptedPort{TestablePort: NewTestablePort()}
	sp.OnWrite = func(p []byte) {
		for _, cmd := range sp.collect(p) {
			if resp, ok := respond(cmd); ok {
				sp.AddReadData([]byte(resp + "\r\r" + string(Prompt)))
			}
		}
	}
	return sp
}

// collect buffers partial writes and returns each complete command.
func (s *ScriptedPort) collect(p []byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending += string(p)
	var cmds []string
	for {
		i := strings.Index(s.pending, CommandTerminator)
		if i < 0 {
			return cmds
		}
		cmd := strings.TrimSpace(s.pending[:i])
		s.pending = s.pending[i+len(CommandTerminator):]
		if cmd != "" {
			cmds = append(cmds, cmd)
			s.commands = append(s.commands, cmd)
		}
	}
}

// Commands returns the commands received so far.
func (s *ScriptedPort) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}
