package db

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/obdwatch/internal/alerts"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 250_000_000, time.UTC)

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)

	s := Session{
		ID:        "7f1c2d9e-0000-4000-8000-000000000001",
		StartedAt: t0,
		Transport: "serial",
		Address:   "/dev/ttyUSB0",
		Signals:   []string{"RPM", "SPEED"},
	}
	if err := db.BeginSession(s); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	got, err := db.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	end := t0.Add(90 * time.Second)
	if err := db.EndSession(s.ID, end, 540, 12); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	got, _ = db.GetSession(s.ID)
	if got.EndedAt == nil || !got.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, end)
	}
	if got.DataPoints != 540 || got.CellsVisited != 12 {
		t.Errorf("totals = %d/%d, want 540/12", got.DataPoints, got.CellsVisited)
	}
}

func TestMissingSession(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession = %v", err)
	}
	if err := db.EndSession("nope", t0, 0, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("EndSession = %v", err)
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	for i, id := range []string{"a", "b", "c"} {
		if err := db.BeginSession(Session{ID: id, StartedAt: t0.Add(time.Duration(i) * time.Minute), Transport: "simulated"}); err != nil {
			t.Fatalf("BeginSession(%s) failed: %v", id, err)
		}
	}
	sessions, err := db.Sessions(2)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("Sessions order (-want +got):\n%s", diff)
	}
	if sessions[0].Signals != nil {
		t.Errorf("empty signal list decoded as %v", sessions[0].Signals)
	}
}

func TestAlertEvents(t *testing.T) {
	db := newTestDB(t)
	if err := db.BeginSession(Session{ID: "s1", StartedAt: t0, Transport: "serial"}); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	transitions := []alerts.Transition{
		{SignalID: "RPM", From: alerts.Normal, To: alerts.Warning, Value: 6200, Threshold: 6000, At: t0.Add(time.Second)},
		{SignalID: "RPM", From: alerts.Warning, To: alerts.Critical, Value: 7200, Threshold: 7000, At: t0.Add(2 * time.Second)},
		{SignalID: "RPM", From: alerts.Critical, To: alerts.Normal, Value: 5800, Threshold: 6000, At: t0.Add(3 * time.Second)},
	}
	for _, tr := range transitions {
		if err := db.RecordTransition("s1", tr); err != nil {
			t.Fatalf("RecordTransition failed: %v", err)
		}
	}

	events, err := db.AlertEvents("s1")
	if err != nil {
		t.Fatalf("AlertEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	want := []string{"NORMAL>WARNING", "WARNING>CRITICAL", "CRITICAL>NORMAL"}
	for i, e := range events {
		if got := e.From + ">" + e.To; got != want[i] {
			t.Errorf("event %d = %s, want %s", i, got, want[i])
		}
		if !e.At.Equal(transitions[i].At) {
			t.Errorf("event %d at %v, want %v", i, e.At, transitions[i].At)
		}
	}
}

func TestAlertEventNeedsSession(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordTransition("ghost", alerts.Transition{SignalID: "RPM", To: alerts.Warning, At: t0})
	if err == nil {
		t.Error("alert event accepted for an unknown session")
	}
}

func TestMigrateVersion(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version %d dirty %v, want 2 clean", version, dirty)
	}

	if err := db.MigrateDown(migrationsFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, _ = db.MigrateVersion(migrationsFS)
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", fk)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("backup status = %d: %s", w.Code, w.Body.String())
	}
	if w.Body.Len() == 0 {
		t.Error("empty backup")
	}
}
