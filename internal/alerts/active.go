package alerts

import (
	"sync"
	"time"
)

// Alert is one entry of the active set.
type Alert struct {
	SignalID string    `json:"signal_id"`
	Level    Level     `json:"level"`
	Message  string    `json:"message"`
	Since    time.Time `json:"since"`
}

// ActiveSet is the ordered set of raised alerts, at most one per signal.
type ActiveSet struct {
	mu      sync.RWMutex
	entries []Alert
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{}
}

// Add appends a, replacing any existing entry for the same signal in place.
func (s *ActiveSet) Add(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].SignalID == a.SignalID {
			s.entries[i] = a
			return
		}
	}
	s.entries = append(s.entries, a)
}

// Replace updates the level and message of the entry for id, keeping its
// position and start time.
func (s *ActiveSet) Replace(id string, level Level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].SignalID == id {
			s.entries[i].Level = level
			s.entries[i].Message = message
		}
	}
}

// Remove drops every entry referencing id.
func (s *ActiveSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, a := range s.entries {
		if a.SignalID != id {
			kept = append(kept, a)
		}
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = Alert{}
	}
	s.entries = kept
}

// List returns a copy of the entries in insertion order.
func (s *ActiveSet) List() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Alert(nil), s.entries...)
}

func (s *ActiveSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *ActiveSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
