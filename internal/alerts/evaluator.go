// Package alerts classifies signal values against per-signal thresholds and
// tracks the set of alerts currently raised.
//
// Each signal moves between Normal, Warning and Critical. The same threshold
// is used to enter and to leave a level, so a value oscillating around a
// threshold raises and clears the alert on every crossing.
package alerts

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/obdwatch/internal/monitoring"
	"github.com/banshee-data/obdwatch/internal/signals"
)

// Rule holds the thresholds for one signal. Warning must be below Critical.
type Rule struct {
	SignalID string
	Warning  float64
	Critical float64
}

// Classify returns the level of v under r.
func (r Rule) Classify(v float64) Level {
	switch {
	case v >= r.Critical:
		return Critical
	case v >= r.Warning:
		return Warning
	default:
		return Normal
	}
}

func (r Rule) threshold(l Level) float64 {
	if l == Critical {
		return r.Critical
	}
	return r.Warning
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Transition records a level change of one signal.
type Transition struct {
	SignalID  string    `json:"signal_id"`
	From      Level     `json:"from"`
	To        Level     `json:"to"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// Message formats the alert line shown while the signal is raised.
func (t Transition) Message() string {
	value := strconv.FormatFloat(t.Value, 'f', 1, 64)
	if t.Unit != "" {
		value += " " + t.Unit
	}
	if t.To == Normal {
		return fmt.Sprintf("%s back to normal: %s", t.SignalID, value)
	}
	return fmt.Sprintf("%s %s: %s (limit %s)", t.SignalID, t.To, value, strconv.FormatFloat(t.Threshold, 'f', -1, 64))
}

// Options configures an Evaluator.
type Options struct {
	// Audio enables tones on entry into Warning or Critical.
	Audio bool
	// Sounder plays the tones. Nil disables audio regardless of Audio.
	Sounder Sounder
	Logf    monitoring.Logf
}

// Evaluator is the per-signal threshold state machine.
type Evaluator struct {
	mu      sync.Mutex
	rules   map[string]Rule
	levels  map[string]Level
	active  *ActiveSet
	audio   bool
	sounder Sounder
	logf    monitoring.Logf
}

// NewEvaluator builds an Evaluator. Rules with a non-finite threshold are
// dropped; a signal without a rule is never evaluated.
func NewEvaluator(rules []Rule, opts Options) *Evaluator {
	e := &Evaluator{
		rules:   make(map[string]Rule, len(rules)),
		levels:  make(map[string]Level),
		active:  NewActiveSet(),
		audio:   opts.Audio,
		sounder: opts.Sounder,
		logf:    monitoring.OrDiscard(opts.Logf),
	}
	for _, r := range rules {
		if r.SignalID == "" || !finite(r.Warning) || !finite(r.Critical) {
			continue
		}
		e.rules[r.SignalID] = r
	}
	return e
}

// Evaluate classifies a new value for signal id. It returns the transition
// and true only when the signal's level changed. Non-numeric values and
// signals without a rule are ignored.
func (e *Evaluator) Evaluate(id string, v signals.Value, unit string, at time.Time) (Transition, bool) {
	f, ok := v.Float()
	if !ok {
		return Transition{}, false
	}

	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return Transition{}, false
	}

	from := e.levels[id]
	to := rule.Classify(f)
	if from == to {
		e.mu.Unlock()
		return Transition{}, false
	}
	e.levels[id] = to

	t := Transition{
		SignalID:  id,
		From:      from,
		To:        to,
		Value:     f,
		Unit:      unit,
		Threshold: rule.threshold(to),
		At:        at,
	}
	if to == Normal {
		t.Threshold = rule.threshold(from)
	}

	var tone bool
	switch {
	case from == Normal:
		e.active.Add(Alert{SignalID: id, Level: to, Message: t.Message(), Since: at})
		tone = e.audio && e.sounder != nil
	case to == Normal:
		e.active.Remove(id)
	default:
		e.active.Replace(id, to, t.Message())
	}
	e.mu.Unlock()

	e.logf("%s", t.Message())
	if tone {
		e.sounder.Sound(to)
	}
	return t, true
}

// Level returns the current level of id. Unknown signals are Normal.
func (e *Evaluator) Level(id string) Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levels[id]
}

// Active returns the alerts currently raised, oldest first.
func (e *Evaluator) Active() []Alert {
	return e.active.List()
}

// Rules returns the configured rules ordered by signal ID.
func (e *Evaluator) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

// SetAudio enables or disables tones.
func (e *Evaluator) SetAudio(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = on
}

// Reset returns every signal to Normal and clears the active set without
// emitting transitions.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levels = make(map[string]Level)
	e.active.Clear()
}
