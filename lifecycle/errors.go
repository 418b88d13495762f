package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned for an illegal edge, an unknown status
	// value, or an operation the entity's current status does not permit.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIncompleteProgress refuses completing a job short of 100%.
	ErrIncompleteProgress = &familyError{msg: "job progress incomplete", parent: ErrInvalidTransition}

	ErrProgressRegression = &familyError{msg: "job progress regressed", parent: ErrInvalidTransition}
	ErrInvalidProgress    = &familyError{msg: "invalid job progress", parent: ErrInvalidTransition}

	// ErrInvalidInput covers malformed create requests.
	ErrInvalidInput = errors.New("invalid input")
)

// familyError is a sentinel that also matches its parent under errors.Is.
type familyError struct {
	msg    string
	parent error
}

func (e *familyError) Error() string { return e.msg }
func (e *familyError) Unwrap() error { return e.parent }
