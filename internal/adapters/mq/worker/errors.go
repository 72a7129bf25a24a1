package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrDeadLetter    = errors.New("message dropped")
	ErrUnknownAction = errors.New("unknown batch action")
)
