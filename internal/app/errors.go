package service

import "errors"

var (
	// ErrNotStarted is returned by operations that need a started service.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidSubmission is returned when a submission envelope is unusable.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrBackpressure is returned when the submission queue is full.
	ErrBackpressure = errors.New("submission queue full")
)
