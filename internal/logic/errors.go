package logic

import "errors"

// Error kinds. Producers wrap these with fmt.Errorf("%w: ...").
var (
	// ErrInput marks missing fields, unparsable data or an empty series.
	ErrInput = errors.New("input error")
	// ErrDegenerate marks a series too small for the requested computation.
	ErrDegenerate = errors.New("degenerate series")
	// ErrNumerical marks a solver failure or non-finite result.
	ErrNumerical = errors.New("numerical error")
)

// ErrorKind is the reporting category of a per-series error.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindInput      ErrorKind = "input"
	KindDegenerate ErrorKind = "degenerate"
	KindNumerical  ErrorKind = "numerical"
	KindOther      ErrorKind = "other"
)

// Classify maps an error to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNumerical):
		return KindNumerical
	case errors.Is(err, ErrDegenerate):
		return KindDegenerate
	case errors.Is(err, ErrInput):
		return KindInput
	default:
		return KindOther
	}
}
