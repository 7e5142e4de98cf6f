package mixing

import (
	"fmt"
	"math"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// Func is the right-hand side dy/dt = f(t, y) of a scalar ODE.
type Func func(t, y float64) float64

// Solver integrates a scalar ODE with the Dormand-Prince 5(4) pair and
// adaptive step-size control.
type Solver struct {
	RelTol   float64
	AbsTol   float64
	MaxSteps int
}

// Dormand-Prince tableau.
const (
	c2, c3, c4, c5 = 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9

	a21 = 1.0 / 5
	a31 = 3.0 / 40
	a32 = 9.0 / 40
	a41 = 44.0 / 45
	a42 = -56.0 / 15
	a43 = 32.0 / 9
	a51 = 19372.0 / 6561
	a52 = -25360.0 / 2187
	a53 = 64448.0 / 6561
	a54 = -212.0 / 729
	a61 = 9017.0 / 3168
	a62 = -355.0 / 33
	a63 = 46732.0 / 5247
	a64 = 49.0 / 176
	a65 = -5103.0 / 18656

	b1 = 35.0 / 384
	b3 = 500.0 / 1113
	b4 = 125.0 / 192
	b5 = -2187.0 / 6784
	b6 = 11.0 / 84

	// Difference between the 5th and embedded 4th order weights.
	e1 = -71.0 / 57600
	e3 = 71.0 / 16695
	e4 = -71.0 / 1920
	e5 = 17253.0 / 339200
	e6 = -22.0 / 525
	e7 = 1.0 / 40
)

const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 10.0
	errExp    = -1.0 / 5
)

// Solve integrates from (t0, y0) and returns y at every point of tEval.
// tEval must be ascending and start at or after t0. Values between accepted
// steps come from cubic Hermite interpolation of the step end points.
func (s Solver) Solve(f Func, t0, y0 float64, tEval []float64) ([]float64, error) {
	out := make([]float64, len(tEval))
	if len(tEval) == 0 {
		return out, nil
	}
	if tEval[0] < t0 {
		return nil, fmt.Errorf("%w: evaluation point %v before start %v", logic.ErrInput, tEval[0], t0)
	}
	tEnd := tEval[len(tEval)-1]

	t, y := t0, y0
	k1 := f(t, y)
	if !finite(k1) {
		return nil, fmt.Errorf("%w: non-finite derivative at t=%v", logic.ErrNumerical, t)
	}

	j := 0
	for j < len(tEval) && tEval[j] <= t {
		out[j] = y
		j++
	}
	if t >= tEnd {
		return out, nil
	}

	h := s.initialStep(f, t, y, k1, tEnd)
	rejected := false
	for steps := 0; t < tEnd; steps++ {
		if s.MaxSteps > 0 && steps >= s.MaxSteps {
			return nil, fmt.Errorf("%w: no convergence after %d steps (t=%v of %v)", logic.ErrNumerical, steps, t, tEnd)
		}
		h = math.Min(h, tEnd-t)
		if minStep := 10 * math.Abs(math.Nextafter(t, math.Inf(1))-t); h < minStep {
			return nil, fmt.Errorf("%w: step size underflow at t=%v", logic.ErrNumerical, t)
		}

		k2 := f(t+c2*h, y+h*a21*k1)
		k3 := f(t+c3*h, y+h*(a31*k1+a32*k2))
		k4 := f(t+c4*h, y+h*(a41*k1+a42*k2+a43*k3))
		k5 := f(t+c5*h, y+h*(a51*k1+a52*k2+a53*k3+a54*k4))
		k6 := f(t+h, y+h*(a61*k1+a62*k2+a63*k3+a64*k4+a65*k5))
		yNew := y + h*(b1*k1+b3*k3+b4*k4+b5*k5+b6*k6)
		k7 := f(t+h, yNew)

		if !finite(k2) || !finite(k3) || !finite(k4) || !finite(k5) || !finite(k6) || !finite(k7) || !finite(yNew) {
			return nil, fmt.Errorf("%w: non-finite state near t=%v", logic.ErrNumerical, t)
		}

		errEst := h * (e1*k1 + e3*k3 + e4*k4 + e5*k5 + e6*k6 + e7*k7)
		scale := s.AbsTol + math.Max(math.Abs(y), math.Abs(yNew))*s.RelTol
		errNorm := math.Abs(errEst) / scale

		if errNorm > 1 {
			h *= math.Max(minFactor, safety*math.Pow(errNorm, errExp))
			rejected = true
			continue
		}

		tNew := t + h
		for j < len(tEval) && tEval[j] <= tNew {
			out[j] = hermite(t, y, k1, tNew, yNew, k7, tEval[j])
			j++
		}
		t, y, k1 = tNew, yNew, k7

		factor := maxFactor
		if errNorm > 0 {
			factor = math.Min(maxFactor, safety*math.Pow(errNorm, errExp))
		}
		if rejected {
			factor = math.Min(1, factor)
		}
		h *= factor
		rejected = false
	}
	for ; j < len(tEval); j++ {
		out[j] = y
	}
	return out, nil
}

// initialStep follows the usual Hairer-Wanner starting-step heuristic.
func (s Solver) initialStep(f Func, t, y, f0, tEnd float64) float64 {
	span := tEnd - t
	scale := s.AbsTol + math.Abs(y)*s.RelTol
	d0 := math.Abs(y) / scale
	d1 := math.Abs(f0) / scale

	h0 := 0.01 * d0 / d1
	if d0 < 1e-5 || d1 < 1e-5 {
		h0 = 1e-6
	}
	h0 = math.Min(h0, span)

	f1 := f(t+h0, y+h0*f0)
	d2 := math.Abs(f1-f0) / scale / h0

	var h1 float64
	if d1 <= 1e-15 && d2 <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 1.0/5)
	}
	return math.Min(math.Min(100*h0, h1), span)
}

func hermite(t0, y0, f0, t1, y1, f1, t float64) float64 {
	h := t1 - t0
	if h == 0 {
		return y1
	}
	s := (t - t0) / h
	s2 := s * s
	s3 := s2 * s
	return (2*s3-3*s2+1)*y0 + (s3-2*s2+s)*h*f0 + (-2*s3+3*s2)*y1 + (s3-s2)*h*f1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
