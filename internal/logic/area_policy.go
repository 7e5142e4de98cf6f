package logic

// DefaultAreaThreshold is the cumulative excess that turns the relay ON.
const DefaultAreaThreshold = 500.0

// AreaThresholdPolicy turns the relay ON once the excess area accumulated
// since the last OFF transition exceeds Threshold, and OFF again as soon as
// a reading drops to or below the baseline.
type AreaThresholdPolicy struct {
	Threshold float64
	Strategy  BaselineStrategy
	Step      StepMode
}

// NewAreaThresholdPolicy returns the policy with its standard constants.
func NewAreaThresholdPolicy() AreaThresholdPolicy {
	return AreaThresholdPolicy{
		Threshold: DefaultAreaThreshold,
		Strategy:  RunningMean{},
		Step:      StepSamples,
	}
}

// Name implements RelayPolicy.
func (p AreaThresholdPolicy) Name() string { return "area" }

// NewState implements RelayPolicy.
func (p AreaThresholdPolicy) NewState() PolicyState {
	strategy := p.Strategy
	if strategy == nil {
		strategy = RunningMean{}
	}
	return &areaState{
		policy:   p,
		strategy: strategy,
		state:    StateOff,
		acc:      AreaAccumulator{Mode: p.Step},
		history:  NewBaselineHistory(0),
	}
}

type areaState struct {
	policy   AreaThresholdPolicy
	strategy BaselineStrategy
	state    State
	acc      AreaAccumulator
	history  *BaselineHistory
}

func (s *areaState) Step(in StepInput) Decision {
	r := in.Reading
	baseline := s.strategy.BaselineFor(in.Date, in.Table, s.history)

	switch s.state {
	case StateOff:
		if s.acc.Add(r.Time, r.PM25, baseline) > s.policy.Threshold {
			s.state = StateOn
		}
	case StateOn:
		if r.PM25 <= baseline {
			s.state = StateOff
			s.acc.Reset()
			// This reading opens the next cycle.
			s.acc.Add(r.Time, r.PM25, baseline)
		}
	}

	s.history.Push(baseline)

	return Decision{
		Time:     r.Time,
		PM25:     r.PM25,
		Baseline: baseline,
		State:    s.state,
		Area:     s.acc.Area(),
	}
}
