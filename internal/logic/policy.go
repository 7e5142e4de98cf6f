package logic

import "fmt"

// StepInput is everything a policy sees for one reading.
type StepInput struct {
	Index   int
	Reading Reading
	Date    Date
	Table   DailyBaseline
	// Previous holds the decisions already made in this run, oldest first.
	// Policies must not modify it.
	Previous []Decision
}

// PolicyState is the rolling state of one policy over one series.
// A PolicyState is never shared between series.
type PolicyState interface {
	Step(in StepInput) Decision
}

// RelayPolicy creates fresh per-series state for a control policy.
type RelayPolicy interface {
	Name() string
	NewState() PolicyState
}

// SimulateRelay runs policy over the series in timestamp order and returns
// one decision per reading. The series must already be cleaned.
func SimulateRelay(series Series, table DailyBaseline, policy RelayPolicy) (Run, error) {
	if len(series) == 0 {
		return Run{}, fmt.Errorf("%w: empty series", ErrInput)
	}
	state := policy.NewState()
	run := Run{
		Policy:    policy.Name(),
		Decisions: make([]Decision, 0, len(series)),
	}
	for i, r := range series {
		d := state.Step(StepInput{
			Index:    i,
			Reading:  r,
			Date:     DateOf(r.Time),
			Table:    table,
			Previous: run.Decisions,
		})
		run.Decisions = append(run.Decisions, d)
	}
	return run, nil
}
