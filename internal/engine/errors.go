package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors shared by engines and the sessions built on them.
var (
	// ErrAgain is the transient "drain output first" / "need more input"
	// condition of decoders and encoders. It never escapes a session.
	ErrAgain = errors.New("engine: resource temporarily unavailable")

	// ErrUsage reports a call made in the wrong state, such as writing to a
	// sink before its header.
	ErrUsage = errors.New("engine: invalid call sequence")

	// ErrNotAvailable is returned by engines that are not compiled in.
	ErrNotAvailable = errors.New("engine: not available in this build")

	// ErrUnknownEngine is returned by Select for unregistered names.
	ErrUnknownEngine = errors.New("engine: unknown engine")
)

// OpenError reports an unreadable or unrecognized location.
type OpenError struct {
	Location string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Location, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ProbeError reports a container whose stream parameters could not be found.
type ProbeError struct {
	Location string
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Location, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// UnsupportedCodecError reports a codec with no decoder or encoder.
type UnsupportedCodecError struct {
	Codec     string
	Direction string // "decoder" or "encoder"
	Err       error
}

func (e *UnsupportedCodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no %s for codec %q: %v", e.Direction, e.Codec, e.Err)
	}
	return fmt.Sprintf("no %s for codec %q", e.Direction, e.Codec)
}

func (e *UnsupportedCodecError) Unwrap() error { return e.Err }

// ReadError reports a corrupt packet. The read loop may skip it.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read packet: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// CodecError reports a fatal decoder or encoder failure.
type CodecError struct {
	Op     string // "decode" or "encode"
	Stream int
	Err    error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s stream %d: %v", e.Op, e.Stream, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// WriteError reports a packet the sink could not write.
type WriteError struct {
	Stream int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write stream %d: %v", e.Stream, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Describer is implemented by engine-native errors that carry their own
// human-readable text, such as FFmpeg's av_strerror messages.
type Describer interface {
	Describe() string
}

// Describe renders err for the user. Engine errors that implement Describer
// contribute their own text in place of their Error string while the
// messages wrapping them are kept. Members of a joined error are described
// one by one. End of input and the transient condition get fixed wording.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var parts []string
		for _, e := range j.Unwrap() {
			if e != nil {
				parts = append(parts, Describe(e))
			}
		}
		return strings.Join(parts, "; ")
	}

	switch {
	case errors.Is(err, io.EOF):
		return "end of stream"
	case errors.Is(err, ErrAgain):
		return "resource temporarily unavailable, output must be drained"
	}

	if d, ok := err.(Describer); ok {
		return d.Describe()
	}
	inner := errors.Unwrap(err)
	if inner == nil {
		return err.Error()
	}
	msg, old := err.Error(), inner.Error()
	i := strings.LastIndex(msg, old)
	if i < 0 {
		return msg
	}
	return msg[:i] + Describe(inner) + msg[i+len(old):]
}
