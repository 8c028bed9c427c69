package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/serialmux"
	"github.com/banshee-data/obdwatch/internal/units"
)

// Transport kinds.
const (
	TransportSerial    = "serial"
	TransportNetwork   = "network"
	TransportSimulated = "simulated"
)

// MinPollInterval is the shortest accepted poll_interval.
const MinPollInterval = 100 * time.Millisecond

const maxFileSize = 1 * 1024 * 1024

// Config is the root monitor configuration. Every field is optional; the
// Get* methods return defaults for anything omitted, so partial files are
// safe.
type Config struct {
	Transport *string        `json:"transport,omitempty"`
	Serial    *SerialConfig  `json:"serial,omitempty"`
	Network   *NetworkConfig `json:"network,omitempty"`

	ConnectTimeout *string `json:"connect_timeout,omitempty"` // duration string like "10s"
	RequestTimeout *string `json:"request_timeout,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty"`

	Signals    []string             `json:"signals,omitempty"`
	Thresholds map[string]Threshold `json:"thresholds,omitempty"`

	AudioAlerts  *bool   `json:"audio_alerts,omitempty"`
	VisualAlerts *bool   `json:"visual_alerts,omitempty"`
	Units        *string `json:"units,omitempty"`

	Grid    *GridConfig    `json:"grid,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty"`

	JournalPath *string `json:"journal_path,omitempty"` // "" disables the journal
	DebugListen *string `json:"debug_listen,omitempty"` // "" disables the debug server
}

// SerialConfig selects a serial adapter. Port options are flattened into
// the same JSON object.
type SerialConfig struct {
	Port *string `json:"port,omitempty"`
	serialmux.PortOptions
}

// NetworkConfig selects a wireless adapter reachable over TCP, either by a
// fixed address or by mDNS discovery.
type NetworkConfig struct {
	Address *string `json:"address,omitempty"`
	Service *string `json:"service,omitempty"`
	Domain  *string `json:"domain,omitempty"`
}

// Threshold holds the warning and critical levels for one signal. A
// threshold with either side missing disables alerting for that signal.
type Threshold struct {
	Warning  *float64 `json:"warning,omitempty"`
	Critical *float64 `json:"critical,omitempty"`
}

// Complete reports whether both levels are set.
func (t Threshold) Complete() bool {
	return t.Warning != nil && t.Critical != nil
}

// GridConfig names the signals feeding the adaptive table.
type GridConfig struct {
	PrimarySignal   *string `json:"primary_signal,omitempty"`
	SecondarySignal *string `json:"secondary_signal,omitempty"`
	ValueSignal     *string `json:"value_signal,omitempty"`
	ShapePath       *string `json:"shape_path,omitempty"`
	HistoryLimit    *int    `json:"history_limit,omitempty"`
}

// LoggingConfig controls the in-memory ring and the CSV sinks.
type LoggingConfig struct {
	Dir                   *string `json:"dir,omitempty"`
	MaxEntries            *int    `json:"max_entries,omitempty"`
	AutoSave              *bool   `json:"auto_save,omitempty"`
	RotationInterval      *string `json:"rotation_interval,omitempty"`
	RotationCheckInterval *string `json:"rotation_check_interval,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }

// DefaultSignals is the watched signal set used when none is configured.
var DefaultSignals = []string{
	"RPM", "SPEED", "ENGINE_LOAD", "COOLANT_TEMP", "INTAKE_TEMP", "THROTTLE_POS", "INTAKE_PRESSURE",
}

// DefaultThresholds returns the built-in alert thresholds.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"RPM":          {Warning: ptrFloat64(6000), Critical: ptrFloat64(7000)},
		"SPEED":        {Warning: ptrFloat64(120), Critical: ptrFloat64(160)},
		"ENGINE_LOAD":  {Warning: ptrFloat64(80), Critical: ptrFloat64(95)},
		"COOLANT_TEMP": {Warning: ptrFloat64(90), Critical: ptrFloat64(105)},
		"INTAKE_TEMP":  {Warning: ptrFloat64(60), Critical: ptrFloat64(80)},
		"THROTTLE_POS": {Warning: ptrFloat64(90), Critical: ptrFloat64(100)},
	}
}

// Default returns a Config with every field unset.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1 MiB. All errors are config failures.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, failure.Config("load config", fmt.Errorf("config file must have .json extension, got %q", ext))
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, failure.Config("load config", fmt.Errorf("failed to stat config file: %w", err))
	}
	if info.Size() > maxFileSize {
		return nil, failure.Config("load config", fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, failure.Config("load config", fmt.Errorf("failed to read config file: %w", err))
	}
	return Parse(data)
}

// Parse decodes and validates a JSON configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, failure.Config("parse config", fmt.Errorf("failed to parse config JSON: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every set field holds a usable value.
func (c *Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return failure.Config("validate config", fmt.Errorf(format, args...))
	}

	switch c.GetTransport() {
	case TransportSerial, TransportNetwork, TransportSimulated:
	default:
		return fail("unknown transport %q", c.GetTransport())
	}

	if c.Serial != nil {
		if _, err := c.Serial.PortOptions.Normalize(); err != nil {
			return fail("serial: %w", err)
		}
	}

	for name, raw := range map[string]*string{
		"connect_timeout":                 c.ConnectTimeout,
		"request_timeout":                 c.RequestTimeout,
		"poll_interval":                   c.PollInterval,
		"logging.rotation_interval":       c.loggingField(func(l *LoggingConfig) *string { return l.RotationInterval }),
		"logging.rotation_check_interval": c.loggingField(func(l *LoggingConfig) *string { return l.RotationCheckInterval }),
	} {
		if raw == nil || *raw == "" {
			continue
		}
		d, err := time.ParseDuration(*raw)
		if err != nil {
			return fail("invalid %s '%s': %w", name, *raw, err)
		}
		if d <= 0 {
			return fail("%s must be positive, got %s", name, *raw)
		}
	}
	if c.GetPollInterval() < MinPollInterval {
		return fail("poll_interval must be at least %s, got %s", MinPollInterval, c.GetPollInterval())
	}

	for _, id := range c.Signals {
		if id == "" {
			return fail("signals must not contain empty names")
		}
	}

	for id, th := range c.Thresholds {
		if th.Complete() && *th.Warning >= *th.Critical {
			return fail("threshold %s: warning (%g) must be below critical (%g)", id, *th.Warning, *th.Critical)
		}
	}

	if c.Units != nil {
		if err := units.Validate(*c.Units); err != nil {
			return fail("%w", err)
		}
	}

	if c.Grid != nil {
		if c.GetGridPrimarySignal() == c.GetGridSecondarySignal() {
			return fail("grid primary and secondary signals must differ, both are %q", c.GetGridPrimarySignal())
		}
		if c.Grid.HistoryLimit != nil && *c.Grid.HistoryLimit <= 0 {
			return fail("grid.history_limit must be positive, got %d", *c.Grid.HistoryLimit)
		}
	}

	if c.Logging != nil && c.Logging.MaxEntries != nil && *c.Logging.MaxEntries <= 0 {
		return fail("logging.max_entries must be positive, got %d", *c.Logging.MaxEntries)
	}

	return nil
}

func (c *Config) loggingField(get func(*LoggingConfig) *string) *string {
	if c.Logging == nil {
		return nil
	}
	return get(c.Logging)
}

func durationOr(raw *string, def time.Duration) time.Duration {
	if raw == nil || *raw == "" {
		return def
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return def
	}
	return d
}

func stringOr(raw *string, def string) string {
	if raw == nil {
		return def
	}
	return *raw
}

func (c *Config) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return TransportSerial
	}
	return *c.Transport
}

func (c *Config) GetSerialPort() string {
	if c.Serial == nil || c.Serial.Port == nil || *c.Serial.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Serial.Port
}

// GetSerialOptions returns normalized serial options. Invalid options fall
// back to defaults; Validate reports them.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = c.Serial.PortOptions
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = serialmux.PortOptions{}.Normalize()
	}
	return normalized
}

func (c *Config) GetNetworkAddress() string {
	if c.Network == nil {
		return ""
	}
	return stringOr(c.Network.Address, "")
}

func (c *Config) GetNetworkService() string {
	if c.Network == nil || c.Network.Service == nil || *c.Network.Service == "" {
		return "_obd._tcp"
	}
	return *c.Network.Service
}

func (c *Config) GetNetworkDomain() string {
	if c.Network == nil || c.Network.Domain == nil || *c.Network.Domain == "" {
		return "local."
	}
	return *c.Network.Domain
}

func (c *Config) GetConnectTimeout() time.Duration {
	return durationOr(c.ConnectTimeout, 10*time.Second)
}

func (c *Config) GetRequestTimeout() time.Duration {
	return durationOr(c.RequestTimeout, 2*time.Second)
}

func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, time.Second)
}

func (c *Config) GetSignals() []string {
	if len(c.Signals) == 0 {
		return append([]string(nil), DefaultSignals...)
	}
	return append([]string(nil), c.Signals...)
}

// GetThresholds returns the defaults overlaid with configured thresholds.
// A configured entry replaces the default for its signal entirely.
func (c *Config) GetThresholds() map[string]Threshold {
	out := DefaultThresholds()
	for id, th := range c.Thresholds {
		out[id] = th
	}
	return out
}

// ThresholdSignals returns the signal IDs with thresholds, sorted.
func (c *Config) ThresholdSignals() []string {
	th := c.GetThresholds()
	ids := make([]string, 0, len(th))
	for id := range th {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) GetAudioAlerts() bool {
	return c.AudioAlerts == nil || *c.AudioAlerts
}

func (c *Config) GetVisualAlerts() bool {
	return c.VisualAlerts == nil || *c.VisualAlerts
}

func (c *Config) GetUnits() string {
	return stringOr(c.Units, units.Metric)
}

func (c *Config) GetGridPrimarySignal() string {
	if c.Grid == nil || c.Grid.PrimarySignal == nil || *c.Grid.PrimarySignal == "" {
		return "RPM"
	}
	return *c.Grid.PrimarySignal
}

func (c *Config) GetGridSecondarySignal() string {
	if c.Grid == nil || c.Grid.SecondarySignal == nil || *c.Grid.SecondarySignal == "" {
		return "INTAKE_PRESSURE"
	}
	return *c.Grid.SecondarySignal
}

// GetGridValueSignal returns the signal used as a measured cell value, or
// "" when cells are always derived.
func (c *Config) GetGridValueSignal() string {
	if c.Grid == nil {
		return ""
	}
	return stringOr(c.Grid.ValueSignal, "")
}

func (c *Config) GetGridShapePath() string {
	if c.Grid == nil || c.Grid.ShapePath == nil || *c.Grid.ShapePath == "" {
		return "grid_config.json"
	}
	return *c.Grid.ShapePath
}

func (c *Config) GetGridHistoryLimit() int {
	if c.Grid == nil || c.Grid.HistoryLimit == nil {
		return 1000
	}
	return *c.Grid.HistoryLimit
}

func (c *Config) GetLogDir() string {
	if c.Logging == nil || c.Logging.Dir == nil || *c.Logging.Dir == "" {
		return "logs"
	}
	return *c.Logging.Dir
}

func (c *Config) GetMaxLogEntries() int {
	if c.Logging == nil || c.Logging.MaxEntries == nil {
		return 1000
	}
	return *c.Logging.MaxEntries
}

func (c *Config) GetAutoSave() bool {
	return c.Logging == nil || c.Logging.AutoSave == nil || *c.Logging.AutoSave
}

func (c *Config) GetRotationInterval() time.Duration {
	return durationOr(c.loggingField(func(l *LoggingConfig) *string { return l.RotationInterval }), 5*time.Minute)
}

func (c *Config) GetRotationCheckInterval() time.Duration {
	return durationOr(c.loggingField(func(l *LoggingConfig) *string { return l.RotationCheckInterval }), 10*time.Second)
}

func (c *Config) GetJournalPath() string {
	return stringOr(c.JournalPath, "")
}

func (c *Config) GetDebugListen() string {
	return stringOr(c.DebugListen, "localhost:8091")
}
