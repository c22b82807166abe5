package simulator

import "errors"

// Sentinel errors for simulation runs.
var (
	ErrNoSegment     = errors.New("competition has no matching segment")
	ErrNothingToDo   = errors.New("segment has no contestants, judges or criteria")
	ErrVerification  = errors.New("verification failed")
	ErrInvalidConfig = errors.New("invalid simulator config")
)
