package alerts

import (
	"io"
	"strings"
	"sync"
)

// Sounder plays a tone keyed by severity.
type Sounder interface {
	Sound(Level)
}

// SounderFunc adapts a function to Sounder.
type SounderFunc func(Level)

func (f SounderFunc) Sound(l Level) { f(l) }

// Bell rings the terminal bell: once for Warning, three times for Critical.
type Bell struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *Bell) Sound(l Level) {
	n := 0
	switch l {
	case Warning:
		n = 1
	case Critical:
		n = 3
	}
	if n == 0 || b.W == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	io.WriteString(b.W, strings.Repeat("\a", n))
}
