// Package grid implements the adaptive two-axis lookup table. Cells start
// unvisited every session and are filled only from live operating points,
// either with a measured value or with a value derived from a fallback
// model. Axis changes produce a new grid by migration.
package grid

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/timeutil"
)

// DefaultHistoryLimit caps the change history.
const DefaultHistoryLimit = 1000

// ChangeEntry records one cell value change.
type ChangeEntry struct {
	At        time.Time `json:"at"`
	Location  Location  `json:"location"`
	Label     string    `json:"label"`
	Primary   float64   `json:"primary"`
	Secondary float64   `json:"secondary"`
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
}

// RecordResult describes the effect of Table.Record.
type RecordResult struct {
	Location Location
	Cell     Cell
	// Populated is true when this call visited the cell for the first time.
	Populated bool
}

// Options configures a Table.
type Options struct {
	Model        Model
	HistoryLimit int
	Clock        timeutil.Clock
}

// Table is the session's adaptive grid. All methods are safe for concurrent
// use; the acquisition loop is the only writer.
type Table struct {
	mu         sync.RWMutex
	grid       *Grid
	history    []ChangeEntry
	limit      int
	current    Location
	hasCurrent bool
	model      Model
	clock      timeutil.Clock
}

// NewTable returns a table of unvisited cells over the given axes.
func NewTable(primary, secondary Axis, opts Options) *Table {
	t := &Table{
		grid:  NewGrid(primary, secondary),
		limit: opts.HistoryLimit,
		model: opts.Model,
		clock: opts.Clock,
	}
	if t.limit <= 0 {
		t.limit = DefaultHistoryLimit
	}
	if t.model == nil {
		t.model = DefaultFallback()
	}
	if t.clock == nil {
		t.clock = timeutil.RealClock{}
	}
	return t
}

// LocationLabel names a cell by its ticks, e.g. "95kPa/3200RPM".
func LocationLabel(primary, secondary float64) string {
	return fmt.Sprintf("%gkPa/%gRPM", secondary, primary)
}

// Resolve returns the cell nearest to (p, s) under the current axes.
func (t *Table) Resolve(p, s float64) Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.grid.Resolve(p, s)
}

// Record marks the cell nearest to (p, s) as current. The first visit sets
// its value to measured, or to the model's estimate when measured is nil,
// and appends a history entry. Later visits leave the value untouched.
func (t *Table) Record(p, s float64, measured *float64) RecordResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	loc := t.grid.Resolve(p, s)
	t.current, t.hasCurrent = loc, true

	cell := t.grid.At(loc)
	if cell.Visited {
		return RecordResult{Location: loc, Cell: cell}
	}

	pt, st := t.grid.primary[loc.Col], t.grid.secondary[loc.Row]
	var v float64
	if measured != nil {
		v = *measured
	} else {
		v = t.model.Derive(pt, st)
	}

	old := cell.Value
	cell = Cell{Value: v, Visited: true}
	t.grid.set(loc, cell)
	t.appendHistory(ChangeEntry{
		At:        t.clock.Now(),
		Location:  loc,
		Label:     LocationLabel(pt, st),
		Primary:   pt,
		Secondary: st,
		OldValue:  old,
		NewValue:  v,
	})
	return RecordResult{Location: loc, Cell: cell, Populated: true}
}

func (t *Table) appendHistory(e ChangeEntry) {
	t.history = append(t.history, e)
	if over := len(t.history) - t.limit; over > 0 {
		t.history = append(t.history[:0], t.history[over:]...)
	}
}

// Reshape replaces the grid with one over new axes, migrated from the
// current grid. The current-cell marker is cleared.
func (t *Table) Reshape(primary, secondary Axis) error {
	if len(primary) == 0 || len(secondary) == 0 {
		return errors.New("reshape: axes must not be empty")
	}
	if _, err := NewAxis(primary); err != nil {
		return fmt.Errorf("reshape primary: %w", err)
	}
	if _, err := NewAxis(secondary); err != nil {
		return fmt.Errorf("reshape secondary: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.grid = Migrate(t.grid, primary, secondary, deterministic(t.model))
	t.hasCurrent = false
	return nil
}

// deterministic strips jitter so that migration is repeatable.
func deterministic(m Model) Model {
	if j, ok := m.(*Jittered); ok {
		return j.Model
	}
	return m
}

// Reset marks every cell unvisited with a zero value and clears history.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grid = NewGrid(t.grid.primary, t.grid.secondary)
	t.history = nil
	t.hasCurrent = false
}

// Current returns the most recently recorded cell.
func (t *Table) Current() (Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.hasCurrent
}

// Cell returns the cell at loc.
func (t *Table) Cell(loc Location) (Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.grid.Contains(loc) {
		return Cell{}, false
	}
	return t.grid.At(loc), true
}

// Ticks returns the primary and secondary tick values at loc.
func (t *Table) Ticks(loc Location) (float64, float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.grid.Contains(loc) {
		return 0, 0, false
	}
	return t.grid.primary[loc.Col], t.grid.secondary[loc.Row], true
}

// History returns a copy of the change history, oldest first.
func (t *Table) History() []ChangeEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ChangeEntry(nil), t.history...)
}

// Grid returns a copy of the current grid.
func (t *Table) Grid() *Grid {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.grid.Clone()
}

// Snapshot is a read-only view of the table for display.
type Snapshot struct {
	Primary   Axis      `json:"primary"`
	Secondary Axis      `json:"secondary"`
	Cells     [][]Cell  `json:"cells"`
	Current   *Location `json:"current,omitempty"`
	Visited   int       `json:"visited"`
	Total     int       `json:"total"`
}

// Snapshot returns a consistent copy of the table.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Primary:   t.grid.Primary(),
		Secondary: t.grid.Secondary(),
		Cells:     t.grid.Rows2D(),
		Visited:   t.grid.VisitedCount(),
		Total:     t.grid.Len(),
	}
	if t.hasCurrent {
		cur := t.current
		s.Current = &cur
	}
	return s
}
