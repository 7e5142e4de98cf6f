package logic

import "sort"

// Baseline defaults.
const (
	DefaultBaselineFloor      = 10.0
	DefaultBaselineMultiplier = 1.5
)

// DailyBaseline maps a UTC date to the mean concentration observed in that
// day's quiet window. Built once per series; read-only afterwards.
type DailyBaseline struct {
	values map[Date]float64
}

// NewDailyBaseline wraps an existing date → value table (e.g. loaded from storage).
func NewDailyBaseline(values map[Date]float64) DailyBaseline {
	cp := make(map[Date]float64, len(values))
	for d, v := range values {
		cp[d] = v
	}
	return DailyBaseline{values: cp}
}

// BuildDailyBaseline averages the readings inside the quiet window for every
// date that has at least one such reading.
func BuildDailyBaseline(series Series, quiet HourRange) DailyBaseline {
	sums := make(map[Date]float64)
	counts := make(map[Date]int)
	for _, r := range series {
		if !quiet.Contains(r.Time) {
			continue
		}
		d := DateOf(r.Time)
		sums[d] += r.PM25
		counts[d]++
	}
	values := make(map[Date]float64, len(sums))
	for d, sum := range sums {
		values[d] = sum / float64(counts[d])
	}
	return DailyBaseline{values: values}
}

// Lookup returns the raw quiet-window mean for date.
func (b DailyBaseline) Lookup(d Date) (float64, bool) {
	v, ok := b.values[d]
	return v, ok
}

// Len returns the number of dates with a quiet-window mean.
func (b DailyBaseline) Len() int {
	return len(b.values)
}

// Dates returns the covered dates in ascending order.
func (b DailyBaseline) Dates() []Date {
	out := make([]Date, 0, len(b.values))
	for d := range b.values {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Backfill returns a table holding b's dates plus every date of stored that b
// lacks, and the number of dates taken from stored. Dates present in both keep
// b's value.
func (b DailyBaseline) Backfill(stored DailyBaseline) (DailyBaseline, int) {
	out := NewDailyBaseline(b.values)
	var added int
	for d, v := range stored.values {
		if _, ok := out.values[d]; ok {
			continue
		}
		out.values[d] = v
		added++
	}
	return out, added
}

// BaselineHistory is a bounded FIFO of previously applied baselines.
// A capacity <= 0 means unbounded.
type BaselineHistory struct {
	values   []float64
	capacity int
}

// NewBaselineHistory creates an empty history.
func NewBaselineHistory(capacity int) *BaselineHistory {
	return &BaselineHistory{capacity: capacity}
}

// Push appends v, dropping the oldest value when full.
func (h *BaselineHistory) Push(v float64) {
	if h.capacity > 0 && len(h.values) >= h.capacity {
		h.values = h.values[1:]
	}
	h.values = append(h.values, v)
}

// Mean returns the mean of the history, or fallback when it is empty.
func (h *BaselineHistory) Mean(fallback float64) float64 {
	if h == nil || len(h.values) == 0 {
		return fallback
	}
	var sum float64
	for _, v := range h.values {
		sum += v
	}
	return sum / float64(len(h.values))
}

// Len returns the number of stored values.
func (h *BaselineHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.values)
}

// Values returns a copy of the stored values, oldest first.
func (h *BaselineHistory) Values() []float64 {
	if h == nil {
		return nil
	}
	return append([]float64(nil), h.values...)
}

// Reset empties the history.
func (h *BaselineHistory) Reset() {
	h.values = nil
}

// BaselineStrategy decides the baseline applied on a date given the rolling
// history of baselines already applied in this pass.
type BaselineStrategy interface {
	BaselineFor(date Date, table DailyBaseline, history *BaselineHistory) float64
}

// FloorDampened uses the quiet-window mean with a hard floor, and replaces
// outliers above Multiplier times the history mean with the floor.
type FloorDampened struct {
	Floor      float64
	Multiplier float64
}

// DefaultFloorDampened returns the strategy with the standard constants.
func DefaultFloorDampened() FloorDampened {
	return FloorDampened{Floor: DefaultBaselineFloor, Multiplier: DefaultBaselineMultiplier}
}

// BaselineFor implements BaselineStrategy.
func (f FloorDampened) BaselineFor(date Date, table DailyBaseline, history *BaselineHistory) float64 {
	candidate, ok := table.Lookup(date)
	if !ok {
		return f.Floor
	}
	if candidate < f.Floor {
		return f.Floor
	}
	if candidate > f.Multiplier*history.Mean(f.Floor) {
		return f.Floor
	}
	return candidate
}

// RunningMean ignores the daily table and returns the mean of previously
// applied baselines, starting from 0.
type RunningMean struct{}

// BaselineFor implements BaselineStrategy.
func (RunningMean) BaselineFor(_ Date, _ DailyBaseline, history *BaselineHistory) float64 {
	return history.Mean(0)
}
