package logic

import (
	"math"
	"time"
)

// StepMode selects the abscissa used by the trapezoidal rule.
type StepMode int

const (
	// StepSamples uses a unit step per reading.
	StepSamples StepMode = iota
	// StepHours uses the elapsed time between readings in hours.
	StepHours
)

func (m StepMode) String() string {
	if m == StepHours {
		return "hours"
	}
	return "samples"
}

// ParseStepMode parses "samples" or "hours".
func ParseStepMode(s string) (StepMode, bool) {
	switch s {
	case "samples", "":
		return StepSamples, true
	case "hours":
		return StepHours, true
	}
	return StepSamples, false
}

func (m StepMode) dx(prev, cur time.Time) float64 {
	if m == StepHours {
		return cur.Sub(prev).Hours()
	}
	return 1
}

// Excess returns max(c - b, 0).
func Excess(c, b float64) float64 {
	return math.Max(c-b, 0)
}

// AreaAccumulator integrates the excess over baseline one trapezoid at a time.
// The zero value is an empty accumulator in StepSamples mode.
type AreaAccumulator struct {
	Mode StepMode

	area     float64
	started  bool
	lastTime time.Time
	lastEx   float64
}

// Add extends the integral with the segment ending at (t, c, b) and returns
// the new total. The first sample after a reset contributes nothing.
func (a *AreaAccumulator) Add(t time.Time, c, b float64) float64 {
	ex := Excess(c, b)
	if a.started {
		a.area += 0.5 * (a.lastEx + ex) * a.Mode.dx(a.lastTime, t)
	}
	a.started = true
	a.lastTime = t
	a.lastEx = ex
	return a.area
}

// Area returns the current integral.
func (a *AreaAccumulator) Area() float64 {
	return a.area
}

// Reset starts a new integration cycle.
func (a *AreaAccumulator) Reset() {
	a.area = 0
	a.started = false
	a.lastTime = time.Time{}
	a.lastEx = 0
}

// CumulativeExcess returns the integral of the excess over every prefix of
// the inputs. The three slices must have equal length.
func CumulativeExcess(times []time.Time, conc, base []float64, mode StepMode) []float64 {
	acc := AreaAccumulator{Mode: mode}
	out := make([]float64, len(conc))
	for i := range conc {
		out[i] = acc.Add(times[i], conc[i], base[i])
	}
	return out
}
