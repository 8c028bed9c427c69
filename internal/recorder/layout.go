package recorder

import (
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/obdwatch/internal/signals"
)

// TimestampFormat is used for every timestamp column.
const TimestampFormat = "2006-01-02 15:04:05.000"

// ChargeTemperatureK is the assumed intake charge temperature used to turn a
// table cell into an air mass estimate.
const ChargeTemperatureK = 298.0

// Entry is one logged signal sample.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	SignalID  string        `json:"signal_id"`
	Value     signals.Value `json:"value"`
	Unit      string        `json:"unit"`
}

// TablePoint is the table operating point recorded on a tick.
type TablePoint struct {
	Primary   float64
	Secondary float64
	Value     float64
}

// Tick is everything one acquisition tick hands to the recorder.
type Tick struct {
	At      time.Time
	Entries []Entry
	Point   *TablePoint
}

// Layout maps ticks to CSV rows under a fixed header.
type Layout struct {
	Name   string
	Header []string
	Rows   func(Tick) [][]string
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SignalLayout writes one row per signal sample.
var SignalLayout = Layout{
	Name:   "signals",
	Header: []string{"Timestamp", "SignalId", "Value", "Unit"},
	Rows: func(t Tick) [][]string {
		rows := make([][]string, 0, len(t.Entries))
		for _, e := range t.Entries {
			rows = append(rows, []string{e.Timestamp.Format(TimestampFormat), e.SignalID, e.Value.String(), e.Unit})
		}
		return rows
	},
}

// TableLayout writes one row per tick with a table operating point.
var TableLayout = Layout{
	Name:   "table",
	Header: []string{"Timestamp", "PrimaryAxisValue", "SecondaryAxisValue", "DerivedValue", "AssumedConstant", "DerivedOutput"},
	Rows: func(t Tick) [][]string {
		if t.Point == nil {
			return nil
		}
		p := t.Point
		return [][]string{{
			t.At.Format(TimestampFormat),
			formatFloat(p.Primary),
			formatFloat(p.Secondary),
			strconv.FormatFloat(p.Value, 'f', 1, 64),
			formatFloat(ChargeTemperatureK),
			strconv.FormatFloat(DerivedOutput(p.Value, p.Secondary), 'f', 2, 64),
		}}
	},
}

// DerivedOutput is the air mass estimate value*secondary/T, rounded to 0.01.
func DerivedOutput(value, secondary float64) float64 {
	return math.Round(value*secondary/ChargeTemperatureK*100) / 100
}
