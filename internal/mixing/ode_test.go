package mixing

import (
	"errors"
	"math"
	"testing"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

func TestSolveExponentialDecay(t *testing.T) {
	s := Solver{RelTol: 1e-8, AbsTol: 1e-10}
	tEval := linspace(0, 5, 11)
	got, err := s.Solve(func(_, y float64) float64 { return -y }, 0, 1, tEval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, te := range tEval {
		want := math.Exp(-te)
		// Hermite interpolation between steps limits accuracy between nodes.
		if math.Abs(got[i]-want) > 1e-5 {
			t.Errorf("t=%v: got %v, want %v", te, got[i], want)
		}
	}
}

func TestSolveNonFinite(t *testing.T) {
	s := Solver{RelTol: 1e-3, AbsTol: 1e-6}
	_, err := s.Solve(func(t, _ float64) float64 {
		if t > 0.5 {
			return math.NaN()
		}
		return 1
	}, 0, 0, linspace(0, 1, 5))
	if !errors.Is(err, logic.ErrNumerical) {
		t.Fatalf("expected ErrNumerical, got %v", err)
	}
}

func TestSolveMaxSteps(t *testing.T) {
	s := Solver{RelTol: 1e-12, AbsTol: 1e-14, MaxSteps: 3}
	_, err := s.Solve(func(t, _ float64) float64 { return math.Sin(50 * t) }, 0, 0, linspace(0, 100, 5))
	if logic.Classify(err) != logic.KindNumerical {
		t.Fatalf("expected numerical error, got %v", err)
	}
}

func TestSolveEvalBeforeStart(t *testing.T) {
	s := Solver{RelTol: 1e-3, AbsTol: 1e-6}
	_, err := s.Solve(func(_, y float64) float64 { return y }, 1, 0, []float64{0, 1})
	if logic.Classify(err) != logic.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestInterp(t *testing.T) {
	xs := []float64{0, 1, 1, 3}
	ys := []float64{0, 10, 20, 40}
	tests := []struct {
		x, want float64
	}{
		{-1, 0},
		{0.5, 5},
		{2, 30},
		{3, 40},
		{9, 40},
	}
	for _, tt := range tests {
		if got := interp(tt.x, xs, ys); got != tt.want {
			t.Errorf("interp(%v): got %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestLinspace(t *testing.T) {
	got := linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
