package merge

import (
	"errors"
	"fmt"
)

// Sentinel kinds for merge errors.
var (
	// ErrDanglingEdge rejects a dataset whose edge endpoint resolves to nothing
	// in the dataset or the graph. Nothing is written.
	ErrDanglingEdge      = errors.New("dangling edge")
	ErrNoObservationTime = errors.New("dataset has no observation time")
	ErrApplyRecord       = errors.New("apply record failed")
)

// Dangling names one unresolved edge endpoint.
type Dangling struct {
	Record   int
	Type     string
	Endpoint string
}

// DanglingEdgeError lists every unresolved endpoint of a rejected dataset.
type DanglingEdgeError struct {
	Edges []Dangling
}

func (e *DanglingEdgeError) Error() string {
	first := e.Edges[0]
	msg := fmt.Sprintf("dangling edge: record %d %s endpoint %q does not resolve", first.Record, first.Type, first.Endpoint)
	if n := len(e.Edges) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Unwrap lets errors.Is match ErrDanglingEdge.
func (e *DanglingEdgeError) Unwrap() error { return ErrDanglingEdge }
