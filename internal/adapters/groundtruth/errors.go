package groundtruth

import "errors"

var (
	// ErrUpstream marks an X API response that carries no usable answer.
	ErrUpstream = errors.New("x api request failed")
	// ErrAttemptsExhausted is returned once every retry was rate limited or failed.
	ErrAttemptsExhausted = errors.New("x api attempts exhausted")
	// ErrNoSnapshot is returned by a snapshot store without a live fallback.
	ErrNoSnapshot = errors.New("no snapshot at or before requested time")
)
