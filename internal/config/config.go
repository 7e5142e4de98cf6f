// Package config loads simulator settings from the environment and an
// optional .env file. Command-line flags override these values in main.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mixing"
)

// Policy names.
const (
	PolicyWindow = "window"
	PolicyArea   = "area"
)

// Area policy baseline strategies.
const (
	BaselineRunningMean = "running-mean"
	BaselineFloor       = "floor"
)

// RelayConfig holds the control-policy constants.
type RelayConfig struct {
	AreaThreshold      float64
	AreaStep           string
	AreaBaseline       string
	BaselineFloor      float64
	BaselineMultiplier float64
	WindowSize         int
	RisingRatio        float64
	QuietWindow        logic.HourRange
	LookbackWindow     logic.HourRange
}

// MQTTConfig configures publication of relay transitions. Empty Broker disables it.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// DatabaseConfig configures the Postgres store. Empty Host disables it.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// ClickHouseConfig configures the indoor-estimate sink. Empty Addr disables it.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Config is the full simulator configuration.
type Config struct {
	InputDir  string
	OutputDir string
	Policy    string
	Workers   int

	// Season filter; empty keeps every month.
	Months []time.Month
	// Optional inclusive date range; zero values are open ends.
	From time.Time
	To   time.Time

	Relay             RelayConfig
	Mixing            mixing.Params
	MixingEnabled     bool
	ElevatedThreshold float64

	MQTT       MQTTConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig

	ReportPath string
	HTTPAddr   string

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the given .env files (".env" when none are named; missing files
// are ignored) and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var env envReader
	cfg := &Config{}

	cfg.InputDir = env.str("RELAY_INPUT_DIR", ".")
	cfg.OutputDir = env.str("RELAY_OUTPUT_DIR", "processed")
	cfg.Policy = env.str("RELAY_POLICY", PolicyWindow)
	cfg.Workers = env.int("RELAY_WORKERS", 1)
	cfg.Months = env.months("RELAY_MONTHS")
	cfg.From = env.date("RELAY_FROM")
	cfg.To = env.date("RELAY_TO")

	cfg.Relay.AreaThreshold = env.float("AREA_THRESHOLD", logic.DefaultAreaThreshold)
	cfg.Relay.AreaStep = env.str("AREA_STEP", logic.StepSamples.String())
	cfg.Relay.AreaBaseline = env.str("AREA_BASELINE", BaselineRunningMean)
	cfg.Relay.BaselineFloor = env.float("BASELINE_FLOOR", logic.DefaultBaselineFloor)
	cfg.Relay.BaselineMultiplier = env.float("BASELINE_THRESHOLD_MULTIPLIER", logic.DefaultBaselineMultiplier)
	cfg.Relay.WindowSize = env.int("WINDOW_SIZE", logic.DefaultWindowSize)
	cfg.Relay.RisingRatio = env.float("RISING_RATIO", logic.DefaultRisingRatio)
	cfg.Relay.QuietWindow = env.hours("QUIET_WINDOW", logic.DefaultQuietWindow)
	cfg.Relay.LookbackWindow = env.hours("LOOKBACK_WINDOW", logic.DefaultLookbackWindow)

	cfg.Mixing = mixing.DefaultParams()
	cfg.Mixing.Volume = env.float("ROOM_VOLUME", cfg.Mixing.Volume)
	cfg.Mixing.AirExchange = env.float("AIR_EXCHANGE", cfg.Mixing.AirExchange)
	cfg.Mixing.Removal = env.float("REMOVAL_RATE", cfg.Mixing.Removal)
	cfg.Mixing.Samples = env.int("MIXING_SAMPLES", cfg.Mixing.Samples)
	cfg.MixingEnabled = env.bool("MIXING_ENABLED", true)
	cfg.ElevatedThreshold = env.float("ELEVATED_THRESHOLD", logic.DefaultElevatedThreshold)

	cfg.MQTT.Broker = env.str("MQTT_BROKER", "")
	cfg.MQTT.ClientID = env.str("MQTT_CLIENT_ID", "relay-sim")
	cfg.MQTT.Username = env.str("MQTT_USERNAME", "")
	cfg.MQTT.Password = env.str("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = env.str("MQTT_TOPIC_PREFIX", "airquality/relay-sim")

	cfg.Database.Host = env.str("DB_HOST", "")
	cfg.Database.Port = env.int("DB_PORT", 5432)
	cfg.Database.User = env.str("DB_USER", "postgres")
	cfg.Database.Password = env.str("DB_PASSWORD", "postgres")
	cfg.Database.Database = env.str("DB_NAME", "relaysim")
	cfg.Database.SSLMode = env.str("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = env.int("DB_MAX_CONNS", 4)

	cfg.ClickHouse.Addr = env.str("CLICKHOUSE_ADDR", "")
	cfg.ClickHouse.Database = env.str("CLICKHOUSE_DB", "airquality")
	cfg.ClickHouse.Username = env.str("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = env.str("CLICKHOUSE_PASS", "")

	cfg.ReportPath = env.str("REPORT_PATH", "")
	cfg.HTTPAddr = env.str("HTTP_ADDR", "")

	cfg.Log.Level = env.str("LOG_LEVEL", "info")
	cfg.Log.Format = env.str("LOG_FORMAT", "json")

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no simulation can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Policy != PolicyWindow && c.Policy != PolicyArea {
		errs = append(errs, fmt.Errorf("unknown policy %q", c.Policy))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.Relay.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("window size must be >= 1, got %d", c.Relay.WindowSize))
	}
	if c.Relay.BaselineFloor < 0 {
		errs = append(errs, fmt.Errorf("baseline floor must be >= 0, got %v", c.Relay.BaselineFloor))
	}
	if c.Relay.BaselineMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("baseline multiplier must be > 0, got %v", c.Relay.BaselineMultiplier))
	}
	if c.Relay.RisingRatio <= 0 {
		errs = append(errs, fmt.Errorf("rising ratio must be > 0, got %v", c.Relay.RisingRatio))
	}
	if _, ok := logic.ParseStepMode(c.Relay.AreaStep); !ok {
		errs = append(errs, fmt.Errorf("unknown area step %q", c.Relay.AreaStep))
	}
	if c.Relay.AreaBaseline != BaselineRunningMean && c.Relay.AreaBaseline != BaselineFloor {
		errs = append(errs, fmt.Errorf("unknown area baseline %q", c.Relay.AreaBaseline))
	}
	if !c.Relay.QuietWindow.Valid() {
		errs = append(errs, fmt.Errorf("invalid quiet window %v", c.Relay.QuietWindow))
	}
	if !c.Relay.LookbackWindow.Valid() {
		errs = append(errs, fmt.Errorf("invalid look-back window %v", c.Relay.LookbackWindow))
	}
	if !c.From.IsZero() && !c.To.IsZero() && c.To.Before(c.From) {
		errs = append(errs, fmt.Errorf("date range ends before it starts"))
	}
	if err := c.Mixing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.OutputDir != "" && sameDir(c.InputDir, c.OutputDir) {
		errs = append(errs, fmt.Errorf("output dir %q is the input dir", c.OutputDir))
	}
	return errors.Join(errs...)
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(filepath.Clean(a))
	absB, errB := filepath.Abs(filepath.Clean(b))
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// RelayPolicy builds the configured control policy.
func (c *Config) RelayPolicy() (logic.RelayPolicy, error) {
	floor := logic.FloorDampened{Floor: c.Relay.BaselineFloor, Multiplier: c.Relay.BaselineMultiplier}
	switch c.Policy {
	case PolicyWindow:
		return logic.WindowedRatioPolicy{
			Window:      c.Relay.WindowSize,
			RisingRatio: c.Relay.RisingRatio,
			Strategy:    floor,
			Lookback:    c.Relay.LookbackWindow,
		}, nil
	case PolicyArea:
		step, ok := logic.ParseStepMode(c.Relay.AreaStep)
		if !ok {
			return nil, fmt.Errorf("unknown area step %q", c.Relay.AreaStep)
		}
		p := logic.AreaThresholdPolicy{
			Threshold: c.Relay.AreaThreshold,
			Strategy:  logic.RunningMean{},
			Step:      step,
		}
		if c.Relay.AreaBaseline == BaselineFloor {
			p.Strategy = floor
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown policy %q", c.Policy)
}

// envReader reads typed environment values and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// months parses a comma-separated list such as "10,11,12,1,2,3".
func (e *envReader) months(key string) []time.Month {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := ParseMonths(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
	}
	return ms
}

// date parses YYYY-MM-DD as midnight UTC.
func (e *envReader) date(key string) time.Time {
	v := os.Getenv(key)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return time.Time{}
	}
	return t
}

// hours parses "START-END" clock hours such as "5-6".
func (e *envReader) hours(key string, def logic.HourRange) logic.HourRange {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	h, err := ParseHourRange(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return h
}

// ParseMonths parses a comma-separated list of month numbers.
func ParseMonths(s string) ([]time.Month, error) {
	var out []time.Month
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 12 {
			return nil, fmt.Errorf("invalid month %q", part)
		}
		out = append(out, time.Month(n))
	}
	return out, nil
}

// ParseHourRange parses "START-END" into a half-open clock-hour window.
func ParseHourRange(s string) (logic.HourRange, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return logic.HourRange{}, fmt.Errorf("expected START-END, got %q", s)
	}
	a, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return logic.HourRange{}, fmt.Errorf("start hour: %w", err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return logic.HourRange{}, fmt.Errorf("end hour: %w", err)
	}
	h := logic.HourRange{Start: a, End: b}
	if !h.Valid() {
		return logic.HourRange{}, fmt.Errorf("invalid hour range %q", s)
	}
	return h, nil
}
