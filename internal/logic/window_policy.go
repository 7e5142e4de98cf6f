package logic

// Windowed policy defaults.
const (
	DefaultWindowSize  = 20
	DefaultRisingRatio = 1.25
)

// WindowedRatioPolicy switches only when every reading in a full sliding
// window agrees: all above RisingRatio x baseline to turn ON, all at or
// below baseline to turn OFF.
type WindowedRatioPolicy struct {
	Window      int
	RisingRatio float64
	Strategy    BaselineStrategy
	Lookback    HourRange
}

// NewWindowedRatioPolicy returns the policy with its standard constants.
func NewWindowedRatioPolicy() WindowedRatioPolicy {
	return WindowedRatioPolicy{
		Window:      DefaultWindowSize,
		RisingRatio: DefaultRisingRatio,
		Strategy:    DefaultFloorDampened(),
		Lookback:    DefaultLookbackWindow,
	}
}

// Name implements RelayPolicy.
func (p WindowedRatioPolicy) Name() string { return "window" }

// NewState implements RelayPolicy.
func (p WindowedRatioPolicy) NewState() PolicyState {
	if p.Window < 1 {
		p.Window = DefaultWindowSize
	}
	if p.Strategy == nil {
		p.Strategy = DefaultFloorDampened()
	}
	return &windowState{
		policy:  p,
		state:   StateOff,
		values:  make([]float64, 0, p.Window),
		history: NewBaselineHistory(p.Window),
	}
}

type windowState struct {
	policy  WindowedRatioPolicy
	state   State
	values  []float64
	history *BaselineHistory
}

func (s *windowState) Step(in StepInput) Decision {
	r := in.Reading
	date := BaselineDate(in.Previous, in.Date, s.policy.Lookback)
	baseline := s.policy.Strategy.BaselineFor(date, in.Table, s.history)

	s.values = append(s.values, r.PM25)
	if len(s.values) > s.policy.Window {
		s.values = s.values[1:]
	}

	if len(s.values) >= s.policy.Window {
		switch s.state {
		case StateOff:
			if allAbove(s.values, s.policy.RisingRatio*baseline) {
				s.state = StateOn
			}
		case StateOn:
			if allAtOrBelow(s.values, baseline) {
				s.state = StateOff
			}
		}
	}

	s.history.Push(baseline)

	return Decision{
		Time:     r.Time,
		PM25:     r.PM25,
		Baseline: baseline,
		State:    s.state,
	}
}

func allAbove(values []float64, limit float64) bool {
	for _, v := range values {
		if v <= limit {
			return false
		}
	}
	return true
}

func allAtOrBelow(values []float64, limit float64) bool {
	for _, v := range values {
		if v > limit {
			return false
		}
	}
	return true
}
