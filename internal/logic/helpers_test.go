package logic

import "time"

var day0 = time.Date(2020, 8, 13, 0, 0, 0, 0, time.UTC)

// seriesEvery builds a series starting at start with a fixed step.
func seriesEvery(start time.Time, step time.Duration, values ...float64) Series {
	s := make(Series, len(values))
	for i, v := range values {
		s[i] = Reading{Time: start.Add(time.Duration(i) * step), PM25: v}
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// fixedBaseline always returns the same value.
type fixedBaseline float64

func (f fixedBaseline) BaselineFor(Date, DailyBaseline, *BaselineHistory) float64 {
	return float64(f)
}

func statesOf(ss ...State) []StateSample {
	out := make([]StateSample, len(ss))
	for i, s := range ss {
		out[i] = StateSample{Time: day0.Add(time.Duration(i) * time.Hour), State: s}
	}
	return out
}
