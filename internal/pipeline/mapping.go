package pipeline

import (
	"fmt"

	"github.com/zsiec/avpipe/internal/media"
)

// Action is what the orchestrator does with an input stream's packets.
type Action int

// Stream actions.
const (
	PassThrough Action = iota
	Reencode
	Drop
)

func (a Action) String() string {
	switch a {
	case PassThrough:
		return "passthrough"
	case Reencode:
		return "reencode"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Route maps one input stream to an output stream. Output is -1 for Drop.
type Route struct {
	Output int
	Action Action
}

// Mapping is the per-run input-to-output stream table. It is built once
// and never modified; input indexes beyond the table are dropped.
type Mapping struct {
	routes  []Route
	outputs int
}

// BuildMapping routes every stream in order to a new output stream.
// reencode is the input index to decode and re-encode, or -1 for none.
func BuildMapping(streams []media.Stream, reencode int) Mapping {
	m := Mapping{routes: make([]Route, len(streams))}
	for i := range streams {
		action := PassThrough
		if i == reencode {
			action = Reencode
		}
		m.routes[i] = Route{Output: m.outputs, Action: action}
		m.outputs++
	}
	return m
}

// Len returns the number of input streams in the table.
func (m Mapping) Len() int { return len(m.routes) }

// Outputs returns the number of output streams the table produces.
func (m Mapping) Outputs() int { return m.outputs }

// Route returns the route for input stream i. Indexes outside the table
// yield Drop.
func (m Mapping) Route(i int) Route {
	if i < 0 || i >= len(m.routes) {
		return Route{Output: -1, Action: Drop}
	}
	return m.routes[i]
}

func firstVideo(streams []media.Stream) int {
	for i, st := range streams {
		if st.Params.Kind == media.KindVideo {
			return i
		}
	}
	return -1
}
