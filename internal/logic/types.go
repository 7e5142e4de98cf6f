// Package logic contains the pure relay-simulation logic: baselines, cumulative
// excess area, relay policies and event extraction.
// This package has NO external dependencies (no files, MQTT, databases or wall clock).
// Time always comes from the readings themselves.
package logic

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// State represents the relay state at one reading.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// Reading is a single outdoor PM2.5 sample.
type Reading struct {
	Time time.Time
	PM25 float64 // µg/m³
}

// Series is an ordered sequence of readings for one sensor.
type Series []Reading

// CleanSeries drops readings with a zero timestamp or a concentration that is
// negative or not finite, then stable-sorts by time. Duplicate timestamps are kept.
// Returns an ErrInput error if nothing survives.
func CleanSeries(in []Reading) (Series, error) {
	out := make(Series, 0, len(in))
	for _, r := range in {
		if r.Time.IsZero() {
			continue
		}
		if math.IsNaN(r.PM25) || math.IsInf(r.PM25, 0) || r.PM25 < 0 {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid readings after cleaning", ErrInput)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// Times returns the reading timestamps.
func (s Series) Times() []time.Time {
	ts := make([]time.Time, len(s))
	for i, r := range s {
		ts[i] = r.Time
	}
	return ts
}

// Values returns the reading concentrations.
func (s Series) Values() []float64 {
	vs := make([]float64, len(s))
	for i, r := range s {
		vs[i] = r.PM25
	}
	return vs
}

// Date is a calendar date in UTC.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// HourRange is a half-open daily clock-hour window [Start, End) in UTC.
type HourRange struct {
	Start int
	End   int
}

// Default daily windows.
var (
	DefaultQuietWindow    = HourRange{Start: 5, End: 6}
	DefaultLookbackWindow = HourRange{Start: 4, End: 5}
)

// Contains reports whether t falls inside the window on its own UTC date.
func (h HourRange) Contains(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= h.Start && hour < h.End
}

// Valid reports whether the window is a non-empty range within a day.
func (h HourRange) Valid() bool {
	return h.Start >= 0 && h.End <= 24 && h.Start < h.End
}

// Bounds returns the absolute instants of the window on date d.
func (h HourRange) Bounds(d Date) (start, end time.Time) {
	midnight := d.Time()
	return midnight.Add(time.Duration(h.Start) * time.Hour), midnight.Add(time.Duration(h.End) * time.Hour)
}

func (h HourRange) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", h.Start, h.End)
}

// Decision is the outcome of one relay policy step.
type Decision struct {
	Time     time.Time
	PM25     float64
	Baseline float64
	State    State
	// Area is the cumulative excess area of the current cycle (area policy only).
	Area float64
}

// Run is the relay-state series produced by one policy over one series.
type Run struct {
	Policy    string
	Decisions []Decision
}

// States returns the relay state at every reading.
func (r Run) States() []State {
	out := make([]State, len(r.Decisions))
	for i, d := range r.Decisions {
		out[i] = d.State
	}
	return out
}

// Samples returns the (time, state) pairs used by event extraction.
func (r Run) Samples() []StateSample {
	out := make([]StateSample, len(r.Decisions))
	for i, d := range r.Decisions {
		out[i] = StateSample{Time: d.Time, State: d.State}
	}
	return out
}

// StateSample is a relay state observed at an instant.
type StateSample struct {
	Time  time.Time
	State State
}
