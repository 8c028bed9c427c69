package acquisition

import "context"

// Dispatcher runs functions on the goroutine that owns the display. Post
// must not block; it reports whether fn was accepted.
type Dispatcher interface {
	Post(fn func()) bool
}

// Queue is a Dispatcher backed by a buffered channel. The owning goroutine
// calls Run (or Drain) to execute posted functions in order.
type Queue struct {
	fns chan func()
}

// NewQueue returns a queue holding up to size pending functions.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{fns: make(chan func(), size)}
}

// Post enqueues fn, dropping it when the queue is full.
func (q *Queue) Post(fn func()) bool {
	select {
	case q.fns <- fn:
		return true
	default:
		return false
	}
}

// Run executes posted functions until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q.fns:
			fn()
		}
	}
}

// Drain executes every function already queued and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case fn := <-q.fns:
			fn()
			n++
		default:
			return n
		}
	}
}
