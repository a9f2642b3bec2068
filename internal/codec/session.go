// Package codec wraps engine decoders and encoders in sessions that own the
// submit/drain protocol. A session accepts one unit at a time and must be
// drained until it reports WouldBlock before more input is accepted; a
// flushed session drains until EndOfStream.
package codec

import (
	"errors"
	"fmt"
)

// errStalled reports a codec that refused input while having no output to
// drain, which would otherwise loop forever.
var errStalled = errors.New("codec refused input with no output pending")

// Status is the outcome of a Drain call.
type Status int

const (
	// Produced means Result.Value holds a unit now owned by the caller.
	Produced Status = iota
	// WouldBlock means no output is available until more input is submitted.
	WouldBlock
	// EndOfStream means the session was flushed and has no more output.
	EndOfStream
)

func (s Status) String() string {
	switch s {
	case Produced:
		return "produced"
	case WouldBlock:
		return "would-block"
	case EndOfStream:
		return "end-of-stream"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is one Drain outcome. Value is only set when Status is Produced.
type Result[T any] struct {
	Status Status
	Value  T
}

// Exhausted reports whether the drain loop should stop.
func (r Result[T]) Exhausted() bool { return r.Status != Produced }

func produced[T any](v T) Result[T] { return Result[T]{Status: Produced, Value: v} }

// State is a session's lifecycle state.
type State int

// Session states.
const (
	Closed State = iota
	Open
	Draining
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
