package logic

import (
	"testing"
	"time"
)

func TestBuildDailyBaselineQuietWindowMean(t *testing.T) {
	series := Series{
		{Time: day0.Add(4*time.Hour + 50*time.Minute), PM25: 100}, // outside
		{Time: day0.Add(5 * time.Hour), PM25: 10},
		{Time: day0.Add(5*time.Hour + 30*time.Minute), PM25: 20},
		{Time: day0.Add(6 * time.Hour), PM25: 100}, // outside
		{Time: day0.Add(29 * time.Hour), PM25: 7},  // next day 05:00
	}

	table := BuildDailyBaseline(series, DefaultQuietWindow)
	if table.Len() != 2 {
		t.Fatalf("expected 2 dates, got %d", table.Len())
	}
	if v, ok := table.Lookup(DateOf(day0)); !ok || v != 15 {
		t.Errorf("day0: got %v (ok=%v), want 15", v, ok)
	}
	if v, ok := table.Lookup(DateOf(day0).AddDays(1)); !ok || v != 7 {
		t.Errorf("day1: got %v (ok=%v), want 7", v, ok)
	}
	dates := table.Dates()
	if !dates[0].Before(dates[1]) {
		t.Errorf("dates not sorted: %v", dates)
	}
}

func TestBuildDailyBaselineNoQuietReadings(t *testing.T) {
	series := seriesEvery(day0.Add(12*time.Hour), time.Minute, 1, 2, 3)
	table := BuildDailyBaseline(series, DefaultQuietWindow)
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d entries", table.Len())
	}
}

func TestBackfillKeepsComputedValues(t *testing.T) {
	d0 := DateOf(day0)
	computed := NewDailyBaseline(map[Date]float64{d0: 12})
	stored := NewDailyBaseline(map[Date]float64{d0: 99, d0.AddDays(-1): 8, d0.AddDays(1): 9})

	merged, added := computed.Backfill(stored)
	if added != 2 {
		t.Errorf("added: got %d, want 2", added)
	}
	if merged.Len() != 3 {
		t.Fatalf("expected 3 dates, got %d", merged.Len())
	}
	if v, _ := merged.Lookup(d0); v != 12 {
		t.Errorf("computed value replaced: got %v, want 12", v)
	}
	if v, ok := merged.Lookup(d0.AddDays(-1)); !ok || v != 8 {
		t.Errorf("backfilled day: got %v (ok=%v), want 8", v, ok)
	}
	if computed.Len() != 1 {
		t.Errorf("receiver modified: %d dates", computed.Len())
	}
}

func TestBackfillEmptyStored(t *testing.T) {
	computed := NewDailyBaseline(map[Date]float64{DateOf(day0): 12})
	merged, added := computed.Backfill(DailyBaseline{})
	if added != 0 || merged.Len() != 1 {
		t.Errorf("got %d dates, %d added", merged.Len(), added)
	}
}

func TestFloorDampened(t *testing.T) {
	d := DateOf(day0)
	f := DefaultFloorDampened()

	history := func(vs ...float64) *BaselineHistory {
		h := NewBaselineHistory(DefaultWindowSize)
		for _, v := range vs {
			h.Push(v)
		}
		return h
	}

	tests := []struct {
		name    string
		table   map[Date]float64
		history *BaselineHistory
		want    float64
	}{
		{"missing date falls back to floor", nil, history(), 10},
		{"below floor is raised", map[Date]float64{d: 4}, history(), 10},
		{"first day accepted under 1.5x floor", map[Date]float64{d: 14}, history(), 14},
		{"first day outlier replaced", map[Date]float64{d: 15.5}, history(), 10},
		{"accepted within multiplier", map[Date]float64{d: 29}, history(20, 20), 29},
		{"exactly at multiplier accepted", map[Date]float64{d: 30}, history(20), 30},
		{"outlier replaced by floor", map[Date]float64{d: 300}, history(20, 20), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.BaselineFor(d, NewDailyBaseline(tt.table), tt.history)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFloorDampenedNeverBelowFloor(t *testing.T) {
	f := DefaultFloorDampened()
	values := map[Date]float64{}
	for i, v := range []float64{0, 0.5, 3, 9.99, 10, 11, 50, 1000, 2} {
		values[DateOf(day0).AddDays(i)] = v
	}
	table := NewDailyBaseline(values)
	h := NewBaselineHistory(DefaultWindowSize)
	for i := -1; i < 12; i++ {
		got := f.BaselineFor(DateOf(day0).AddDays(i), table, h)
		if got < f.Floor {
			t.Errorf("day %d: baseline %v below floor", i, got)
		}
		h.Push(got)
	}
}

func TestBaselineIdempotent(t *testing.T) {
	series := seriesEvery(day0, 10*time.Minute, repeat(12, 6*24*3)...)
	for i := range series {
		series[i].PM25 += float64(i % 7)
	}

	run := func() []float64 {
		table := BuildDailyBaseline(series, DefaultQuietWindow)
		h := NewBaselineHistory(DefaultWindowSize)
		var out []float64
		for _, r := range series {
			v := DefaultFloorDampened().BaselineFor(DateOf(r.Time), table, h)
			h.Push(v)
			out = append(out, v)
		}
		return out
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRunningMean(t *testing.T) {
	h := NewBaselineHistory(0)
	var rm RunningMean
	if got := rm.BaselineFor(DateOf(day0), DailyBaseline{}, h); got != 0 {
		t.Errorf("empty history: got %v, want 0", got)
	}
	h.Push(10)
	h.Push(20)
	if got := rm.BaselineFor(DateOf(day0), DailyBaseline{}, h); got != 15 {
		t.Errorf("got %v, want 15", got)
	}
}

func TestBaselineHistoryBounded(t *testing.T) {
	h := NewBaselineHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(float64(i))
	}
	got := h.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
	h.Reset()
	if h.Len() != 0 {
		t.Errorf("expected empty after Reset, got %d", h.Len())
	}
	if h.Mean(7) != 7 {
		t.Errorf("Mean of empty history should return fallback")
	}
}
