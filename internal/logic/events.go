package logic

import (
	"fmt"
	"time"
)

// Event is one completed ON interval.
type Event struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// ExtractEvents pairs each ON with the next OFF. An ON interval still open at
// the end of the samples is not an event; its start is returned separately so
// the caller can report it. Zero-length intervals (ON and OFF sharing a
// timestamp) are dropped.
func ExtractEvents(samples []StateSample) (events []Event, openSince *time.Time) {
	var start *time.Time
	for i := range samples {
		s := samples[i]
		switch {
		case s.State == StateOn && start == nil:
			t := s.Time
			start = &t
		case s.State == StateOff && start != nil:
			if s.Time.After(*start) {
				events = append(events, Event{Start: *start, End: s.Time})
			}
			start = nil
		}
	}
	return events, start
}

// Summary holds the statistics of a relay-state series.
type Summary struct {
	Count        int
	MeanDuration time.Duration
	// MeanGap is the mean time from one event's end to the next event's start.
	MeanGap time.Duration
	// Open is set when the series ended with the relay ON.
	Open      bool
	OpenSince time.Time
}

// Summarize computes count, mean duration and mean gap. Means are zero when
// undefined (no events, or fewer than two for the gap).
func Summarize(events []Event, openSince *time.Time) Summary {
	s := Summary{Count: len(events)}
	if openSince != nil {
		s.Open = true
		s.OpenSince = *openSince
	}
	if len(events) == 0 {
		return s
	}
	var total time.Duration
	for _, e := range events {
		total += e.Duration()
	}
	s.MeanDuration = total / time.Duration(len(events))

	if len(events) > 1 {
		var gaps time.Duration
		for i := 1; i < len(events); i++ {
			gaps += events[i].Start.Sub(events[i-1].End)
		}
		s.MeanGap = gaps / time.Duration(len(events)-1)
	}
	return s
}

// DaysHours is an elapsed time truncated to whole days and hours.
type DaysHours struct {
	Days  int
	Hours int
}

// ToDaysHours truncates d to whole days and remaining whole hours.
func ToDaysHours(d time.Duration) DaysHours {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Hour)
	return DaysHours{Days: total / 24, Hours: total % 24}
}

// Duration converts back to a time.Duration.
func (dh DaysHours) Duration() time.Duration {
	return time.Duration(dh.Days*24+dh.Hours) * time.Hour
}

func (dh DaysHours) String() string {
	return fmt.Sprintf("%d:%d", dh.Days, dh.Hours)
}

// Aggregate is the cross-series roll-up of several summaries.
type Aggregate struct {
	Series       int
	MeanEvents   float64
	MeanDuration time.Duration
	MeanGap      time.Duration
}

// AggregateSummaries averages event counts per series, durations weighted by
// event count and gaps weighted by the number of gaps in each series.
func AggregateSummaries(summaries []Summary) Aggregate {
	agg := Aggregate{Series: len(summaries)}
	if len(summaries) == 0 {
		return agg
	}
	var events, gaps int
	var durSum, gapSum float64
	for _, s := range summaries {
		events += s.Count
		durSum += float64(s.MeanDuration) * float64(s.Count)
		if s.Count > 1 {
			gaps += s.Count - 1
			gapSum += float64(s.MeanGap) * float64(s.Count-1)
		}
	}
	agg.MeanEvents = float64(events) / float64(len(summaries))
	if events > 0 {
		agg.MeanDuration = time.Duration(durSum / float64(events))
	}
	if gaps > 0 {
		agg.MeanGap = time.Duration(gapSum / float64(gaps))
	}
	return agg
}
