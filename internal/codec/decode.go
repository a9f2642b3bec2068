package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
)

// DecodeSession turns the compressed packets of one stream into frames and
// numbers them in output order.
type DecodeSession struct {
	log    *slog.Logger
	dec    engine.Decoder
	stream media.Stream
	state  State
	seq    int64
}

// OpenDecoder opens a decoder for st on eng.
func OpenDecoder(eng engine.Engine, st media.Stream, log *slog.Logger) (*DecodeSession, error) {
	if log == nil {
		log = slog.Default()
	}
	dec, err := eng.NewDecoder(st)
	if err != nil {
		return nil, err
	}
	log = log.With("component", "decoder", "stream", st.Index, "codec", st.Params.CodecID)
	log.Debug("decoder opened")
	return &DecodeSession{log: log, dec: dec, stream: st, state: Open}, nil
}

// Stream returns the stream this session decodes.
func (s *DecodeSession) Stream() media.Stream { return s.stream }

// State returns the session's lifecycle state.
func (s *DecodeSession) State() State { return s.state }

// Submit hands pkt to the decoder. It returns false, nil when the decoder
// is full: the caller must drain and submit pkt again. The caller keeps
// ownership of pkt either way.
func (s *DecodeSession) Submit(pkt *media.Packet) (bool, error) {
	if s.state != Open {
		return false, fmt.Errorf("%w: decode submit in state %s", engine.ErrUsage, s.state)
	}
	err := s.dec.SendPacket(pkt)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, engine.ErrAgain):
		return false, nil
	default:
		return false, &engine.CodecError{Op: "decode", Stream: s.stream.Index, Err: err}
	}
}

// Drain returns the next decoded frame, which the caller must release, or
// WouldBlock/EndOfStream when there is none.
func (s *DecodeSession) Drain() (Result[*media.Frame], error) {
	if s.state == Closed {
		return Result[*media.Frame]{}, fmt.Errorf("%w: decode drain on closed session", engine.ErrUsage)
	}
	f, err := s.dec.ReceiveFrame()
	switch {
	case err == nil:
		s.seq++
		f.Seq = s.seq
		f.StreamIndex = s.stream.Index
		return produced(f), nil
	case errors.Is(err, engine.ErrAgain):
		if s.state == Draining {
			// A flushed decoder never asks for more input.
			return Result[*media.Frame]{Status: EndOfStream}, nil
		}
		return Result[*media.Frame]{Status: WouldBlock}, nil
	case errors.Is(err, io.EOF):
		return Result[*media.Frame]{Status: EndOfStream}, nil
	default:
		return Result[*media.Frame]{}, &engine.CodecError{Op: "decode", Stream: s.stream.Index, Err: err}
	}
}

// Feed submits pkt and passes every frame the decoder produces to emit,
// draining and resubmitting while the decoder reports it is full. Each
// frame is released once emit returns.
func (s *DecodeSession) Feed(pkt *media.Packet, emit func(*media.Frame) error) error {
	for {
		accepted, err := s.Submit(pkt)
		if err != nil {
			return err
		}
		status, n, err := s.drainAll(emit)
		if err != nil {
			return err
		}
		if accepted {
			return nil
		}
		if status == EndOfStream || n == 0 {
			return &engine.CodecError{Op: "decode", Stream: s.stream.Index, Err: errStalled}
		}
	}
}

// Flush signals end of input and passes the remaining frames to emit.
func (s *DecodeSession) Flush(emit func(*media.Frame) error) error {
	if s.state != Open {
		return fmt.Errorf("%w: decode flush in state %s", engine.ErrUsage, s.state)
	}
	if err := s.dec.SendPacket(nil); err != nil {
		return &engine.CodecError{Op: "decode", Stream: s.stream.Index, Err: err}
	}
	s.state = Draining
	_, _, err := s.drainAll(emit)
	return err
}

func (s *DecodeSession) drainAll(emit func(*media.Frame) error) (Status, int, error) {
	n := 0
	for {
		res, err := s.Drain()
		if err != nil {
			return 0, n, err
		}
		if res.Exhausted() {
			return res.Status, n, nil
		}
		n++
		if err := emitFrame(res.Value, emit); err != nil {
			return 0, n, err
		}
	}
}

func emitFrame(f *media.Frame, emit func(*media.Frame) error) error {
	defer f.Release()
	return emit(f)
}

// Frames returns how many frames the session has produced.
func (s *DecodeSession) Frames() int64 { return s.seq }

// Close releases the decoder. Calling Close again is a no-op.
func (s *DecodeSession) Close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.log.Debug("decoder closed", "frames", s.seq)
	return s.dec.Close()
}
