package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/fsutil"
	"github.com/banshee-data/obdwatch/internal/security"
	"github.com/banshee-data/obdwatch/internal/timeutil"
)

const fileStampFormat = "20060102_150405"

var errSinkClosed = errors.New("sink is not open")

// SinkOptions configures a RotatingSink.
type SinkOptions struct {
	Dir         string
	Prefix      string
	Layout      Layout
	RotateEvery time.Duration // zero disables rotation
	FS          fsutil.FileSystem
	Clock       timeutil.Clock
}

// RotatingSink appends CSV rows to a file and starts a new file once
// RotateEvery has elapsed since the current one was opened. Every file
// begins with the layout's header row. Rows are flushed on every write.
type RotatingSink struct {
	opts SinkOptions

	mu       sync.Mutex
	file     io.WriteCloser
	w        *csv.Writer
	path     string
	openedAt time.Time
	rows     int
	files    []string
}

// NewRotatingSink returns a closed sink.
func NewRotatingSink(opts SinkOptions) *RotatingSink {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	opts.Prefix = security.SanitizeFilename(opts.Prefix)
	return &RotatingSink{opts: opts}
}

// Open creates the first file. Opening an open sink is a no-op.
func (s *RotatingSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	return s.openLocked()
}

func (s *RotatingSink) openLocked() error {
	if err := s.opts.FS.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return failure.IO("open log", err)
	}

	now := s.opts.Clock.Now()
	path, err := s.nextPath(now)
	if err != nil {
		return failure.IO("open log", err)
	}

	f, err := s.opts.FS.Create(path)
	if err != nil {
		return failure.IO("open log", err)
	}
	w := csv.NewWriter(f)
	w.Write(s.opts.Layout.Header)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return failure.IO("write log header", err)
	}

	s.file, s.w, s.path, s.openedAt, s.rows = f, w, path, now, 0
	s.files = append(s.files, path)
	return nil
}

func (s *RotatingSink) nextPath(now time.Time) (string, error) {
	base := s.opts.Prefix + "_" + now.Format(fileStampFormat)
	name := base + ".csv"
	for i := 1; ; i++ {
		path, err := security.JoinWithin(s.opts.Dir, name)
		if err != nil {
			return "", err
		}
		if !s.opts.FS.Exists(path) {
			return path, nil
		}
		name = fmt.Sprintf("%s_%d.csv", base, i)
	}
}

func (s *RotatingSink) dueLocked() bool {
	return s.opts.RotateEvery > 0 && s.opts.Clock.Since(s.openedAt) >= s.opts.RotateEvery
}

func (s *RotatingSink) rotateLocked() error {
	old := s.file
	s.file, s.w = nil, nil
	if err := old.Close(); err != nil {
		return failure.IO("rotate log", err)
	}
	return s.openLocked()
}

// Write appends the rows for t, rotating first when due.
func (s *RotatingSink) Write(t Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return failure.IO("write log", errSinkClosed)
	}
	if s.dueLocked() {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	rows := s.opts.Layout.Rows(t)
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		s.w.Write(row)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return failure.IO("write log", err)
	}
	s.rows += len(rows)
	return nil
}

// RotateIfDue rotates when the current file has reached its age limit. It
// reports whether a new file was opened.
func (s *RotatingSink) RotateIfDue() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || !s.dueLocked() {
		return false, nil
	}
	if err := s.rotateLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Close flushes and closes the current file.
func (s *RotatingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file, s.w = nil, nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return failure.IO("close log", err)
	}
	return nil
}

// Active reports whether a file is open.
func (s *RotatingSink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil
}

// Path returns the current file, or "" when closed.
func (s *RotatingSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.path
}

// Files returns every file this sink has opened, oldest first.
func (s *RotatingSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Rows returns the number of data rows in the current file.
func (s *RotatingSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

