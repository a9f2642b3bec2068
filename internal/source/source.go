// Package source wraps an engine demuxer as a single-pass packet source.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// Source is an opened input container. Packets are read once, in container
// order; after end of input ReadNext keeps returning io.EOF.
type Source struct {
	log      *slog.Logger
	location string
	dmx      engine.Demuxer
	streams  []media.Stream
	probed   bool
	eof      bool
	closed   bool

	packets    int64
	readErrors int64
}

// Open opens location on eng and lists its streams.
func Open(ctx context.Context, eng engine.Engine, location string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "source", "location", location)

	dmx, err := eng.OpenInput(ctx, location)
	if err != nil {
		var oe *engine.OpenError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, &engine.OpenError{Location: location, Err: err}
	}

	s := &Source{log: log, location: location, dmx: dmx}
	s.streams = dmx.Streams()
	log.Debug("input opened", "format", dmx.FormatName(), "streams", len(s.streams))
	return s, nil
}

// Probe scans ahead until stream parameters are trustworthy. It runs the
// engine probe once; later calls are no-ops.
func (s *Source) Probe() error {
	if s.closed {
		return fmt.Errorf("%w: probe on closed source", engine.ErrUsage)
	}
	if s.probed {
		return nil
	}
	if err := s.dmx.Probe(); err != nil {
		return &engine.ProbeError{Location: s.location, Err: err}
	}
	s.probed = true
	s.streams = s.dmx.Streams()

	for _, st := range s.streams {
		s.log.Info("stream",
			"index", st.Index,
			"kind", st.Params.Kind.String(),
			"codec", st.Params.CodecID,
			"time_base", st.TimeBase.String(),
			"params", st.Params.Describe())
	}
	return nil
}

// Location returns the location the source was opened from.
func (s *Source) Location() string { return s.location }

// FormatName returns the container format name.
func (s *Source) FormatName() string { return s.dmx.FormatName() }

// Streams returns the streams in the container's declared order.
func (s *Source) Streams() []media.Stream {
	return append([]media.Stream(nil), s.streams...)
}

// GuessFrameRate returns the frame rate estimate for stream i.
func (s *Source) GuessFrameRate(i int) rational.Rational {
	return s.dmx.GuessFrameRate(i)
}

// ReadNext returns the next packet, owned by the caller. End of input is
// io.EOF; a corrupt packet is *engine.ReadError and the caller may continue.
func (s *Source) ReadNext() (*media.Packet, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: read on closed source", engine.ErrUsage)
	}
	if s.eof {
		return nil, io.EOF
	}
	pkt, err := s.dmx.ReadPacket()
	switch {
	case err == nil:
		s.packets++
		return pkt, nil
	case errors.Is(err, io.EOF):
		s.eof = true
		s.log.Debug("end of input", "packets", s.packets, "read_errors", s.readErrors)
		return nil, io.EOF
	default:
		s.readErrors++
		var re *engine.ReadError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &engine.ReadError{Err: err}
	}
}

// Packets returns how many packets were read.
func (s *Source) Packets() int64 { return s.packets }

// Close releases the demuxer. Calling Close again is a no-op.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dmx.Close()
}
