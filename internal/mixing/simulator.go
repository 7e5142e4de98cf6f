// Package mixing estimates indoor PM2.5 from an outdoor series with a single
// well-mixed compartment model:
//
//	dC/dt = (Q/V)(Cin(t) - C) - k*C,  C(0) = 0
//
// Time is measured in hours from the first reading.
package mixing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// Params are the site-specific compartment constants and solver settings.
// Q and k are constant over the whole series; relay state does not modulate
// them.
type Params struct {
	Volume      float64 // V, m³
	AirExchange float64 // Q, m³/h
	Removal     float64 // k, 1/h
	Samples     int     // dense evaluation points over the series span
	RelTol      float64
	AbsTol      float64
	MaxSteps    int
}

// DefaultParams returns a 100 m³ room with 1 m³/h exchange and no HEPA filtration.
func DefaultParams() Params {
	return Params{
		Volume:      100,
		AirExchange: 1,
		Removal:     0.05,
		Samples:     2000,
		RelTol:      1e-3,
		AbsTol:      1e-6,
		MaxSteps:    5_000_000,
	}
}

// Validate checks that the constants describe a physical compartment.
func (p Params) Validate() error {
	var errs []error
	if !(p.Volume > 0) {
		errs = append(errs, fmt.Errorf("volume must be > 0, got %v", p.Volume))
	}
	if p.AirExchange < 0 {
		errs = append(errs, fmt.Errorf("air exchange must be >= 0, got %v", p.AirExchange))
	}
	if p.Removal < 0 {
		errs = append(errs, fmt.Errorf("removal rate must be >= 0, got %v", p.Removal))
	}
	if p.Samples < 2 {
		errs = append(errs, fmt.Errorf("samples must be >= 2, got %d", p.Samples))
	}
	if !(p.RelTol > 0) || !(p.AbsTol > 0) {
		errs = append(errs, fmt.Errorf("tolerances must be > 0"))
	}
	return errors.Join(errs...)
}

// SteadyState returns the indoor concentration reached under a constant
// outdoor concentration: X*Q / (Q + k*V).
func SteadyState(outdoor float64, p Params) float64 {
	denom := p.AirExchange + p.Removal*p.Volume
	if denom == 0 {
		return 0
	}
	return outdoor * p.AirExchange / denom
}

// Estimate is the simulated indoor concentration at each outdoor timestamp.
type Estimate struct {
	Times  []time.Time
	Indoor []float64
}

// Simulate integrates the compartment model over the series and samples the
// result back onto the series timestamps, clamped at zero.
// A series with fewer than two distinct timestamps yields ErrDegenerate;
// solver failure yields ErrNumerical.
func Simulate(series logic.Series, p Params) (Estimate, error) {
	if err := p.Validate(); err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", logic.ErrInput, err)
	}
	if len(series) == 0 {
		return Estimate{}, fmt.Errorf("%w: empty series", logic.ErrInput)
	}

	origin := series[0].Time
	tp := make([]float64, len(series))
	for i, r := range series {
		tp[i] = r.Time.Sub(origin).Hours()
	}
	pm := series.Values()
	t0, t1 := tp[0], tp[len(tp)-1]
	if !(t1 > t0) {
		return Estimate{}, fmt.Errorf("%w: need at least 2 distinct timestamps", logic.ErrDegenerate)
	}

	exchange := p.AirExchange / p.Volume
	rhs := func(t, c float64) float64 {
		return exchange*(interp(t, tp, pm)-c) - p.Removal*c
	}

	tSim := linspace(t0, t1, p.Samples)
	solver := Solver{RelTol: p.RelTol, AbsTol: p.AbsTol, MaxSteps: p.MaxSteps}
	cSim, err := solver.Solve(rhs, t0, 0, tSim)
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{
		Times:  series.Times(),
		Indoor: make([]float64, len(series)),
	}
	for i, t := range tp {
		v := interp(t, tSim, cSim)
		if !finite(v) {
			return Estimate{}, fmt.Errorf("%w: non-finite estimate at %s", logic.ErrNumerical, series[i].Time.Format(time.RFC3339))
		}
		est.Indoor[i] = math.Max(0, v)
	}
	return est, nil
}
