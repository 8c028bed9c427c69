// Package serialmux multiplexes one adapter byte stream between a single
// command writer and any number of response subscribers. Adapters answer each
// command with one or more lines followed by a '>' prompt; the mux delivers
// each prompt-terminated response as one message.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

const (
	// Prompt terminates every adapter response.
	Prompt = '>'
	// CommandTerminator ends every command written to the adapter.
	CommandTerminator = "\r"
)

var (
	ErrWriteFailed = errors.New("failed to write to adapter")
	ErrClosed      = errors.New("adapter mux closed")
)

const subscriberBuffer = 16

// Mux is a generic adapter multiplexer over any Port type.
type Mux[T Port] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	exchangeMu   sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// New creates a Mux over port. Monitor must be running for Exchange and
// subscribers to receive responses.
func New[T Port](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered channel that receives every response.
func (s *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Mux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the adapter, terminated by a carriage return.
func (s *Mux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, CommandTerminator) {
		command += CommandTerminator
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Exchange sends command and waits for the next response. Exchanges are
// serialized so that each caller sees the response to its own command.
func (s *Mux[T]) Exchange(ctx context.Context, command string) (string, error) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	if err := s.SendCommand(command); err != nil {
		return "", fmt.Errorf("send %q: %w", strings.TrimSpace(command), err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ScanPrompts is a bufio.SplitFunc that yields one token per
// prompt-terminated response, with carriage returns folded to newlines and
// surrounding whitespace removed.
func ScanPrompts(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, Prompt); i >= 0 {
		return i + 1, []byte(cleanResponse(data[:i])), nil
	}
	if atEOF {
		return len(data), []byte(cleanResponse(data)), nil
	}
	return 0, nil, nil
}

func cleanResponse(b []byte) string {
	b = bytes.TrimRight(b, string(Prompt))
	lines := strings.FieldsFunc(string(b), func(r rune) bool { return r == '\r' || r == '\n' })
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Monitor reads responses from the port and fans them out to subscribers
// until ctx is done, the port reaches EOF, or the mux is closed.
func (s *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Split(ScanPrompts)

	respChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs on its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(respChan)
		for scan.Scan() {
			select {
			case respChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case resp, ok := <-respChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			if resp == "" {
				continue
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- resp:
				default:
					// full subscriber: drop rather than stall the reader
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *Mux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes all subscriber channels and the underlying port.
func (s *Mux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes attaches a raw command endpoint and a live response tail
// under /debug/.
func (s *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("adapter-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		resp, err := s.Exchange(r.Context(), command)
		if err != nil {
			http.Error(w, "Command failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		io.WriteString(w, resp+"\n")
	})

	// Server-Sent Events stream of every response the adapter produces.
	debug.HandleSilentFunc("adapter-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				for _, line := range strings.Split(payload, "\n") {
					if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
						return
					}
				}
				w.Write([]byte("\n"))
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
