package mixing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

var start = time.Date(2020, 8, 13, 0, 0, 0, 0, time.UTC)

func constantSeries(value float64, n int, step time.Duration) logic.Series {
	s := make(logic.Series, n)
	for i := range s {
		s[i] = logic.Reading{Time: start.Add(time.Duration(i) * step), PM25: value}
	}
	return s
}

func TestSteadyState(t *testing.T) {
	p := DefaultParams()
	// 100 * 1 / (1 + 0.05*100)
	want := 100.0 / 6
	if got := SteadyState(100, p); math.Abs(got-want) > 1e-12 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSimulateConvergesToSteadyState(t *testing.T) {
	p := DefaultParams()
	series := constantSeries(100, 2001, 30*time.Minute) // 1000 h, ~60 time constants

	est, err := Simulate(series, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SteadyState(100, p)
	got := est.Indoor[len(est.Indoor)-1]
	if math.Abs(got-want)/want > 5e-3 {
		t.Errorf("final indoor: got %v, want %v", got, want)
	}
}

func TestSimulateMatchesAnalyticSolution(t *testing.T) {
	p := DefaultParams()
	series := constantSeries(80, 201, 15*time.Minute)
	est, err := Simulate(series, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	css := SteadyState(80, p)
	lambda := p.AirExchange/p.Volume + p.Removal
	for i, r := range series {
		h := r.Time.Sub(start).Hours()
		want := css * (1 - math.Exp(-lambda*h))
		if math.Abs(est.Indoor[i]-want) > 0.01*css+1e-6 {
			t.Fatalf("index %d (t=%vh): got %v, want %v", i, h, est.Indoor[i], want)
		}
	}
	if est.Indoor[0] != 0 {
		t.Errorf("initial indoor: got %v, want 0", est.Indoor[0])
	}
}

func TestSimulateOutputShape(t *testing.T) {
	series := logic.Series{
		{Time: start, PM25: 5},
		{Time: start.Add(2 * time.Minute), PM25: 400},
		{Time: start.Add(7 * time.Minute), PM25: 3},
		{Time: start.Add(3 * time.Hour), PM25: 0},
	}
	est, err := Simulate(series, DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(est.Indoor) != len(series) || len(est.Times) != len(series) {
		t.Fatalf("length mismatch: %d/%d vs %d", len(est.Indoor), len(est.Times), len(series))
	}
	for i := range series {
		if !est.Times[i].Equal(series[i].Time) {
			t.Errorf("index %d: time %v, want %v", i, est.Times[i], series[i].Time)
		}
		if est.Indoor[i] < 0 {
			t.Errorf("index %d: negative estimate %v", i, est.Indoor[i])
		}
	}
	// The spike must raise indoor concentration above zero.
	if est.Indoor[3] <= 0 {
		t.Errorf("expected positive indoor after spike, got %v", est.Indoor[3])
	}
}

func TestSimulateDegenerate(t *testing.T) {
	tests := []struct {
		name   string
		series logic.Series
	}{
		{"single reading", constantSeries(10, 1, time.Minute)},
		{"identical timestamps", logic.Series{{Time: start, PM25: 1}, {Time: start, PM25: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Simulate(tt.series, DefaultParams())
			if !errors.Is(err, logic.ErrDegenerate) {
				t.Errorf("expected ErrDegenerate, got %v", err)
			}
		})
	}
}

func TestSimulateInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.Volume = 0
	_, err := Simulate(constantSeries(1, 3, time.Minute), p)
	if logic.Classify(err) != logic.KindInput {
		t.Errorf("expected input error, got %v", err)
	}
}

func TestSimulateIsPure(t *testing.T) {
	series := constantSeries(50, 100, 10*time.Minute)
	series[40].PM25 = 300
	a, err := Simulate(series, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Simulate(series, DefaultParams())
	for i := range a.Indoor {
		if a.Indoor[i] != b.Indoor[i] {
			t.Fatalf("index %d differs: %v vs %v", i, a.Indoor[i], b.Indoor[i])
		}
	}
}
