// Package sink wraps an engine muxer with the header/write/trailer state
// machine of an output container.
package sink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

type state int

const (
	building state = iota // accepting AddStream
	writing               // header written, accepting Write
	closed
)

// Sink is an output container. Streams are added first, then the header is
// finalized, then packets are written. Close writes the trailer and must be
// called exactly once whatever happened before it.
type Sink struct {
	log      *slog.Logger
	location string
	mux      engine.Muxer
	state    state
	streams  int

	written     int64
	writeErrors int64
}

// Create creates location on eng. formatHint names the container; empty
// means guess from the location.
func Create(eng engine.Engine, location, formatHint string, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	mux, err := eng.CreateOutput(location, formatHint)
	if err != nil {
		var oe *engine.OpenError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, &engine.OpenError{Location: location, Err: err}
	}
	return &Sink{
		log:      log.With("component", "sink", "location", location),
		location: location,
		mux:      mux,
	}, nil
}

// NeedsGlobalHeader reports whether encoders feeding this sink must emit
// global headers.
func (s *Sink) NeedsGlobalHeader() bool { return s.mux.NeedsGlobalHeader() }

// AddStream registers an output stream and returns its index. Indexes are
// assigned in call order.
func (s *Sink) AddStream(tmpl media.Stream) (int, error) {
	if s.state != building {
		return 0, fmt.Errorf("%w: add stream after header", engine.ErrUsage)
	}
	idx, err := s.mux.AddStream(tmpl)
	if err != nil {
		return 0, fmt.Errorf("add output stream: %w", err)
	}
	s.streams++
	s.log.Debug("output stream added", "index", idx, "codec", tmpl.Params.CodecID, "time_base", tmpl.TimeBase.String())
	return idx, nil
}

// Streams returns the number of output streams.
func (s *Sink) Streams() int { return s.streams }

// FinalizeHeaders writes the container header. It must be called once,
// after every AddStream and before the first Write.
func (s *Sink) FinalizeHeaders() error {
	if s.state != building {
		return fmt.Errorf("%w: header already written", engine.ErrUsage)
	}
	if s.streams == 0 {
		return fmt.Errorf("%w: no output streams", engine.ErrUsage)
	}
	if err := s.mux.WriteHeader(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	s.state = writing
	return nil
}

// HeaderWritten reports whether FinalizeHeaders succeeded.
func (s *Sink) HeaderWritten() bool { return s.state == writing }

// TimeBase returns output stream i's time base. Containers may replace the
// requested time base when the header is written, so it is only available
// after FinalizeHeaders.
func (s *Sink) TimeBase(i int) (rational.Rational, error) {
	if s.state != writing {
		return rational.Rational{}, fmt.Errorf("%w: time base before header", engine.ErrUsage)
	}
	if i < 0 || i >= s.streams {
		return rational.Rational{}, fmt.Errorf("%w: no output stream %d", engine.ErrUsage, i)
	}
	tb := s.mux.TimeBase(i)
	if !tb.Valid() {
		return rational.Rational{}, fmt.Errorf("output stream %d: %w", i, rational.ErrZeroDenominator)
	}
	return tb, nil
}

// Write stamps pkt with output stream index out and hands it to the muxer
// for interleaving. Timing must already be in the output time base. The
// caller keeps ownership of pkt. A muxer failure is *engine.WriteError;
// calling out of order is engine.ErrUsage.
func (s *Sink) Write(pkt *media.Packet, out int) error {
	if s.state != writing {
		return fmt.Errorf("%w: write in state %d", engine.ErrUsage, s.state)
	}
	if out < 0 || out >= s.streams {
		return fmt.Errorf("%w: no output stream %d", engine.ErrUsage, out)
	}
	pkt.StreamIndex = out
	if err := s.mux.WritePacket(pkt); err != nil {
		s.writeErrors++
		return &engine.WriteError{Stream: out, Err: err}
	}
	s.written++
	return nil
}

// Written returns how many packets were accepted.
func (s *Sink) Written() int64 { return s.written }

// WriteErrors returns how many packets the muxer rejected.
func (s *Sink) WriteErrors() int64 { return s.writeErrors }

// Close writes the trailer when the header was written and releases the
// muxer. Later calls are no-ops.
func (s *Sink) Close() error {
	if s.state == closed {
		return nil
	}
	wasWriting := s.state == writing
	s.state = closed

	var errs []error
	if wasWriting {
		if err := s.mux.WriteTrailer(); err != nil {
			errs = append(errs, fmt.Errorf("write trailer: %w", err))
		}
	}
	if err := s.mux.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	s.log.Info("output closed", "packets", s.written, "write_errors", s.writeErrors, "trailer", wasWriting)
	return errors.Join(errs...)
}
