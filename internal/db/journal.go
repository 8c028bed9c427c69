package db

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/obdwatch/internal/alerts"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one connect-to-close monitoring run.
type Session struct {
	ID           string     `json:"session_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Transport    string     `json:"transport"`
	Address      string     `json:"address"`
	Signals      []string   `json:"signals"`
	DataPoints   int64      `json:"data_points"`
	CellsVisited int64      `json:"cells_visited"`
}

// AlertEvent is a journaled alert level change.
type AlertEvent struct {
	ID        int64     `json:"event_id"`
	SessionID string    `json:"session_id"`
	SignalID  string    `json:"signal_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

func toUnix(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

// fromUnix restores a time stored by toUnix at microsecond precision.
func fromUnix(f float64) time.Time {
	return time.UnixMicro(int64(math.Round(f * 1e6))).UTC()
}

// BeginSession inserts s. EndedAt, DataPoints and CellsVisited are ignored.
func (db *DB) BeginSession(s Session) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_unix, transport, address, signals) VALUES (?, ?, ?, ?, ?)`,
		s.ID, toUnix(s.StartedAt), s.Transport, s.Address, strings.Join(s.Signals, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// EndSession records the end of a session and its totals.
func (db *DB) EndSession(id string, endedAt time.Time, dataPoints, cellsVisited int64) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_unix = ?, data_points = ?, cells_visited = ? WHERE session_id = ?`,
		toUnix(endedAt), dataPoints, cellsVisited, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordTransition journals an alert level change.
func (db *DB) RecordTransition(sessionID string, tr alerts.Transition) error {
	_, err := db.Exec(
		`INSERT INTO alert_events (session_id, signal_id, from_level, to_level, threshold, event_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, tr.SignalID, tr.From.String(), tr.To.String(), tr.Threshold, toUnix(tr.At),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s       Session
		started float64
		ended   sql.NullFloat64
		sigs    string
	)
	if err := row.Scan(&s.ID, &started, &ended, &s.Transport, &s.Address, &sigs, &s.DataPoints, &s.CellsVisited); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromUnix(started)
	if ended.Valid {
		t := fromUnix(ended.Float64)
		s.EndedAt = &t
	}
	if sigs != "" {
		s.Signals = strings.Split(sigs, ",")
	}
	return s, nil
}

const sessionColumns = `session_id, started_unix, ended_unix, transport, address, signals, data_points, cells_visited`

// GetSession returns one session.
func (db *DB) GetSession(id string) (Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AlertEvents returns the alert changes of a session in time order.
func (db *DB) AlertEvents(sessionID string) ([]AlertEvent, error) {
	rows, err := db.Query(
		`SELECT event_id, session_id, signal_id, from_level, to_level, threshold, event_unix
		 FROM alert_events WHERE session_id = ? ORDER BY event_unix, event_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertEvent
	for rows.Next() {
		var (
			e  AlertEvent
			at float64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SignalID, &e.From, &e.To, &e.Threshold, &at); err != nil {
			return nil, err
		}
		e.At = fromUnix(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
