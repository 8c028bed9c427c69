// Package report summarizes a monitoring session: per-signal statistics
// over the recorded history and grid coverage.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/obdwatch/internal/grid"
	"github.com/banshee-data/obdwatch/internal/recorder"
)

// SignalStats describes the numeric samples of one signal.
type SignalStats struct {
	SignalID string  `json:"signal_id"`
	Unit     string  `json:"unit"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	P95      float64 `json:"p95"`
}

// Coverage describes how much of the grid the session visited.
type Coverage struct {
	Visited   int     `json:"visited"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	MeanValue float64 `json:"mean_value"`
}

// Report is the end-of-session summary.
type Report struct {
	SessionID  string        `json:"session_id,omitempty"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	DataPoints int           `json:"data_points"`
	Signals    []SignalStats `json:"signals"`
	Coverage   Coverage      `json:"coverage"`
}

// Summarize computes a report from recorded entries and a table snapshot.
// Opaque values are counted as data points but excluded from statistics.
func Summarize(entries []recorder.Entry, snap grid.Snapshot) Report {
	var r Report
	r.DataPoints = len(entries)

	samples := make(map[string][]float64)
	unitOf := make(map[string]string)
	for _, e := range entries {
		if r.Start.IsZero() || e.Timestamp.Before(r.Start) {
			r.Start = e.Timestamp
		}
		if e.Timestamp.After(r.End) {
			r.End = e.Timestamp
		}
		if f, ok := e.Value.Float(); ok && !math.IsNaN(f) {
			samples[e.SignalID] = append(samples[e.SignalID], f)
			unitOf[e.SignalID] = e.Unit
		}
	}

	for id, xs := range samples {
		r.Signals = append(r.Signals, signalStats(id, unitOf[id], xs))
	}
	sort.Slice(r.Signals, func(i, j int) bool { return r.Signals[i].SignalID < r.Signals[j].SignalID })

	r.Coverage = coverage(snap)
	return r
}

func signalStats(id, unit string, xs []float64) SignalStats {
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return SignalStats{
		SignalID: id,
		Unit:     unit,
		Count:    len(xs),
		Mean:     mean,
		StdDev:   std,
		Min:      floats.Min(xs),
		Max:      floats.Max(xs),
		P95:      stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

func coverage(snap grid.Snapshot) Coverage {
	c := Coverage{Visited: snap.Visited, Total: snap.Total}
	if c.Total > 0 {
		c.Percent = 100 * float64(c.Visited) / float64(c.Total)
	}
	var values []float64
	for _, row := range snap.Cells {
		for _, cell := range row {
			if cell.Visited {
				values = append(values, cell.Value)
			}
		}
	}
	if len(values) > 0 {
		c.MeanValue = stat.Mean(values, nil)
	}
	return c
}

// WriteText renders the report as an aligned table.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", r.SessionID)
	if !r.Start.IsZero() {
		fmt.Fprintf(&b, "Duration: %v (%d data points)\n", r.End.Sub(r.Start).Round(time.Second), r.DataPoints)
	}
	fmt.Fprintf(&b, "Grid coverage: %d/%d cells (%.1f%%), mean value %.1f\n\n",
		r.Coverage.Visited, r.Coverage.Total, r.Coverage.Percent, r.Coverage.MeanValue)

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tUNIT\tN\tMEAN\tSTDDEV\tMIN\tMAX\tP95")
	for _, s := range r.Signals {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			s.SignalID, s.Unit, s.Count, s.Mean, s.StdDev, s.Min, s.Max, s.P95)
	}
	tw.Flush()

	_, err := io.WriteString(w, b.String())
	return err
}
