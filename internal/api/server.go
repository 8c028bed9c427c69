package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/obdwatch/internal/alerts"
	"github.com/banshee-data/obdwatch/internal/grid"
	"github.com/banshee-data/obdwatch/internal/httputil"
	"github.com/banshee-data/obdwatch/internal/obdlink"
	"github.com/banshee-data/obdwatch/internal/report"
	"github.com/banshee-data/obdwatch/internal/signals"
	"github.com/banshee-data/obdwatch/internal/transport"
	"github.com/banshee-data/obdwatch/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultRequestTimeout bounds adapter requests made on behalf of a client.
const DefaultRequestTimeout = 5 * time.Second

// Monitor is the live session the server reports on. *session.Session
// satisfies it.
type Monitor interface {
	Readings() []signals.Reading
	ActiveAlerts() []alerts.Alert
	Levels() map[string]alerts.Level

	GridSnapshot() grid.Snapshot
	GridHistory() []grid.ChangeEntry
	ResetGrid()
	ReshapeGrid(primary, secondary grid.Axis) error

	Report() report.Report

	StartLog() (string, error)
	StopLog() error
	LogActive() bool

	Do(ctx context.Context, req obdlink.Request) (obdlink.Result, error)
}

type Server struct {
	m        Monitor
	units    string
	scanners []transport.Scanner
	timeout  time.Duration
}

// NewServer returns a server over m. Readings are converted to the given
// display system; scanners back the device listing.
func NewServer(m Monitor, system string, scanners ...transport.Scanner) *Server {
	if !units.IsValid(system) {
		system = units.Metric
	}
	return &Server{
		m:        m,
		units:    system,
		scanners: scanners,
		timeout:  DefaultRequestTimeout,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/grid", s.showGrid)
	mux.HandleFunc("/api/grid/history", s.showGridHistory)
	mux.HandleFunc("/api/grid/reset", s.resetGrid)
	mux.HandleFunc("/api/grid/shape", s.reshapeGrid)
	mux.HandleFunc("/api/report", s.showReport)
	mux.HandleFunc("/api/log/start", s.startLog)
	mux.HandleFunc("/api/log/stop", s.stopLog)
	mux.HandleFunc("/api/clear", s.clearCodes)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// ReadingAPI is a reading in the configured display units.
type ReadingAPI struct {
	SignalID  string    `json:"signal_id"`
	Value     *float64  `json:"value,omitempty"`
	Text      string    `json:"text,omitempty"`
	Unit      string    `json:"unit"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Level     string    `json:"level,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) readingToAPI(r signals.Reading, levels map[string]alerts.Level) ReadingAPI {
	out := ReadingAPI{SignalID: r.SignalID, Unit: r.Unit, Timestamp: r.Timestamp}
	if v, ok := r.Value.Float(); ok {
		cv, unit := units.Convert(v, r.Unit, s.units)
		out.Value, out.Unit = &cv, unit
	} else {
		out.Text = r.Value.String()
	}
	if r.HasRange {
		lo, _ := units.Convert(r.MinSeen, r.Unit, s.units)
		hi, _ := units.Convert(r.MaxSeen, r.Unit, s.units)
		out.Min, out.Max = &lo, &hi
	}
	if l, ok := levels[r.SignalID]; ok {
		out.Level = l.String()
	}
	return out
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	levels := s.m.Levels()
	readings := s.m.Readings()
	out := make([]ReadingAPI, len(readings))
	for i, rd := range readings {
		out[i] = s.readingToAPI(rd, levels)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	active := s.m.ActiveAlerts()
	if active == nil {
		active = []alerts.Alert{}
	}
	httputil.WriteJSONOK(w, active)
}

func (s *Server) showGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.m.GridSnapshot())
}

func (s *Server) showGridHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	history := s.m.GridHistory()
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		if n < len(history) {
			history = history[len(history)-n:]
		}
	}
	if history == nil {
		history = []grid.ChangeEntry{}
	}
	httputil.WriteJSONOK(w, history)
}

func (s *Server) resetGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.m.ResetGrid()
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

// ShapeRequest carries new axis ticks for the grid.
type ShapeRequest struct {
	Primary   []float64 `json:"primary"`
	Secondary []float64 `json:"secondary"`
}

func (s *Server) reshapeGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		httputil.MethodNotAllowed(w)
		return
	}
	var req ShapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	primary, err := grid.NewAxis(req.Primary)
	if err != nil {
		httputil.BadRequest(w, "primary: "+err.Error())
		return
	}
	secondary, err := grid.NewAxis(req.Secondary)
	if err != nil {
		httputil.BadRequest(w, "secondary: "+err.Error())
		return
	}
	if err := s.m.ReshapeGrid(primary, secondary); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.m.GridSnapshot())
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rep := s.m.Report()
	switch r.URL.Query().Get("format") {
	case "", "json":
		httputil.WriteJSONOK(w, rep)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := rep.WriteText(w); err != nil {
			log.Printf("failed to write report: %v", err)
		}
	default:
		httputil.BadRequest(w, "invalid 'format' parameter; expected json or text")
	}
}

func (s *Server) startLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	path, err := s.m.StartLog()
	if err != nil {
		httputil.WriteFailure(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"path": path})
}

func (s *Server) stopLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.m.LogActive() {
		httputil.Conflict(w, "no log is being written")
		return
	}
	if err := s.m.StopLog(); err != nil {
		httputil.WriteFailure(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

func (s *Server) clearCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if _, err := s.m.Do(ctx, obdlink.ClearCodes{}); err != nil {
		httputil.WriteFailure(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "cleared"})
}

// CommandRequest reads a catalog signal or sends a raw payload. A framed
// payload is hex and is wrapped in a J1850 frame; an unframed one is sent as
// adapter command text.
type CommandRequest struct {
	Signal  string `json:"signal,omitempty"`
	Payload string `json:"payload,omitempty"`
	Framed  bool   `json:"framed,omitempty"`
}

// CommandResponse is the outcome of a CommandRequest.
type CommandResponse struct {
	Signal string   `json:"signal,omitempty"`
	Value  *float64 `json:"value,omitempty"`
	Text   string   `json:"text,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	Raw    string   `json:"raw,omitempty"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	var oreq obdlink.Request
	switch {
	case req.Signal != "" && req.Payload != "":
		httputil.BadRequest(w, "set either 'signal' or 'payload', not both")
		return
	case req.Signal != "":
		oreq = obdlink.ReadSignal{Signal: strings.ToUpper(req.Signal)}
	case req.Framed:
		payload, err := hex.DecodeString(strings.ReplaceAll(req.Payload, " ", ""))
		if err != nil || len(payload) == 0 {
			httputil.BadRequest(w, "framed payload must be hex")
			return
		}
		oreq = obdlink.RawSend{Payload: payload, Framed: true}
	case strings.TrimSpace(req.Payload) != "":
		oreq = obdlink.RawSend{Payload: []byte(strings.TrimSpace(req.Payload))}
	default:
		httputil.BadRequest(w, "'signal' or 'payload' is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.m.Do(ctx, oreq)
	if err != nil {
		if errors.Is(err, obdlink.ErrUnknownSignal) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteFailure(w, err)
		return
	}

	out := CommandResponse{Signal: req.Signal}
	if req.Signal != "" {
		out.Signal = strings.ToUpper(req.Signal)
		if v, ok := res.Value.Float(); ok {
			cv, unit := units.Convert(v, res.Unit, s.units)
			out.Value, out.Unit = &cv, unit
		} else {
			out.Text, out.Unit = res.Value.String(), res.Unit
		}
	} else if req.Framed {
		out.Raw = strings.ToUpper(hex.EncodeToString(res.Raw))
	} else {
		out.Text = string(res.Raw)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	timeout := 2 * time.Second
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 || d > 30*time.Second {
			httputil.BadRequest(w, "invalid 'timeout' parameter")
			return
		}
		timeout = d
	}
	devices, err := transport.Scan(timeout, s.scanners...)
	if err != nil && len(devices) == 0 {
		httputil.WriteFailure(w, err)
		return
	}
	if devices == nil {
		devices = []transport.Device{}
	}
	httputil.WriteJSONOK(w, devices)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"units": s.units,
	})
}
