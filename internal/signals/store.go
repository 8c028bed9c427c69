// Package signals holds the latest reading of every watched signal together
// with the running range observed this session.
package signals

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Value is a signal value: either a number or an opaque string such as a
// fuel system status word.
type Value struct {
	num     float64
	text    string
	numeric bool
}

// Number returns a numeric Value.
func Number(v float64) Value { return Value{num: v, numeric: true} }

// Opaque returns a non-numeric Value.
func Opaque(s string) Value { return Value{text: s} }

// Float returns the numeric value and whether the Value is numeric.
func (v Value) Float() (float64, bool) { return v.num, v.numeric }

// IsNumeric reports whether the value is a number.
func (v Value) IsNumeric() bool { return v.numeric }

func (v Value) String() string {
	if v.numeric {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

// MarshalText renders numbers without exponent and opaque values verbatim.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Reading is the latest sample of one signal. MinSeen and MaxSeen are only
// meaningful when HasRange is true, which happens once a numeric value has
// been stored.
type Reading struct {
	SignalID  string    `json:"signal_id"`
	Value     Value     `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	MinSeen   float64   `json:"min_seen"`
	MaxSeen   float64   `json:"max_seen"`
	HasRange  bool      `json:"has_range"`
}

// Store maps signal IDs to their latest Reading. The acquisition loop is the
// only writer; readers take snapshots.
type Store struct {
	mu       sync.RWMutex
	readings map[string]Reading
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{readings: make(map[string]Reading)}
}

// Update records a new value. Value, unit and timestamp are last-write-wins;
// the numeric range only ever widens. It returns the stored Reading.
func (s *Store) Update(id string, v Value, unit string, ts time.Time) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.readings[id]
	r.SignalID = id
	r.Value = v
	r.Unit = unit
	r.Timestamp = ts

	if f, ok := v.Float(); ok {
		if !r.HasRange {
			r.MinSeen, r.MaxSeen, r.HasRange = f, f, true
		} else {
			if f < r.MinSeen {
				r.MinSeen = f
			}
			if f > r.MaxSeen {
				r.MaxSeen = f
			}
		}
	}

	s.readings[id] = r
	return r
}

// Get returns the latest Reading for id.
func (s *Store) Get(id string) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[id]
	return r, ok
}

// Numeric returns the latest value of id when it is numeric.
func (s *Store) Numeric(id string) (float64, bool) {
	r, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	return r.Value.Float()
}

// Snapshot returns every Reading ordered by signal ID.
func (s *Store) Snapshot() []Reading {
	s.mu.RLock()
	out := make([]Reading, 0, len(s.readings))
	for _, r := range s.readings {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

// Len returns the number of signals with a reading.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// Clear drops every reading. Called on disconnect.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = make(map[string]Reading)
}
