package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// EncodeSession turns frames back into compressed packets.
type EncodeSession struct {
	log     *slog.Logger
	enc     engine.Encoder
	stream  int
	codec   string
	state   State
	packets int64
}

// OpenEncoder opens the encoder described by cfg on eng. stream is the
// input stream index the encoded packets replace, used in errors and logs.
func OpenEncoder(eng engine.Engine, stream int, cfg engine.EncoderConfig, log *slog.Logger) (*EncodeSession, error) {
	if log == nil {
		log = slog.Default()
	}
	enc, err := eng.NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	log = log.With("component", "encoder", "stream", stream, "codec", cfg.Codec)
	log.Debug("encoder opened",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"time_base", cfg.TimeBase.String(),
		"bit_rate", cfg.BitRate,
		"global_header", cfg.GlobalHeader)
	return &EncodeSession{log: log, enc: enc, stream: stream, codec: cfg.Codec, state: Open}, nil
}

// Parameters describes the encoded stream for the sink.
func (s *EncodeSession) Parameters() media.CodecParameters { return s.enc.Parameters() }

// TimeBase is the encoder's time base.
func (s *EncodeSession) TimeBase() rational.Rational { return s.enc.TimeBase() }

// State returns the session's lifecycle state.
func (s *EncodeSession) State() State { return s.state }

// Submit hands f to the encoder. It returns false, nil when the encoder is
// full and must be drained first. The caller keeps ownership of f.
func (s *EncodeSession) Submit(f *media.Frame) (bool, error) {
	if s.state != Open {
		return false, fmt.Errorf("%w: encode submit in state %s", engine.ErrUsage, s.state)
	}
	err := s.enc.SendFrame(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, engine.ErrAgain):
		return false, nil
	default:
		return false, &engine.CodecError{Op: "encode", Stream: s.stream, Err: err}
	}
}

// Drain returns the next encoded packet, which the caller must release, or
// WouldBlock/EndOfStream.
func (s *EncodeSession) Drain() (Result[*media.Packet], error) {
	if s.state == Closed {
		return Result[*media.Packet]{}, fmt.Errorf("%w: encode drain on closed session", engine.ErrUsage)
	}
	pkt, err := s.enc.ReceivePacket()
	switch {
	case err == nil:
		s.packets++
		return produced(pkt), nil
	case errors.Is(err, engine.ErrAgain):
		if s.state == Draining {
			return Result[*media.Packet]{Status: EndOfStream}, nil
		}
		return Result[*media.Packet]{Status: WouldBlock}, nil
	case errors.Is(err, io.EOF):
		return Result[*media.Packet]{Status: EndOfStream}, nil
	default:
		return Result[*media.Packet]{}, &engine.CodecError{Op: "encode", Stream: s.stream, Err: err}
	}
}

// Feed submits f and passes every packet produced to emit, draining and
// resubmitting while the encoder is full. Each packet is released once emit
// returns.
func (s *EncodeSession) Feed(f *media.Frame, emit func(*media.Packet) error) error {
	for {
		accepted, err := s.Submit(f)
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
			return &engine.CodecError{Op: "encode", Stream: s.stream, Err: errStalled}
		}
	}
}

// Flush signals end of input and passes the look-ahead packets to emit.
func (s *EncodeSession) Flush(emit func(*media.Packet) error) error {
	if s.state != Open {
		return fmt.Errorf("%w: encode flush in state %s", engine.ErrUsage, s.state)
	}
	if err := s.enc.SendFrame(nil); err != nil {
		return &engine.CodecError{Op: "encode", Stream: s.stream, Err: err}
	}
	s.state = Draining
	_, _, err := s.drainAll(emit)
	if err == nil {
		s.log.Debug("encoder flushed", "packets", s.packets)
	}
	return err
}

func (s *EncodeSession) drainAll(emit func(*media.Packet) error) (Status, int, error) {
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
		if err := emitPacket(res.Value, emit); err != nil {
			return 0, n, err
		}
	}
}

func emitPacket(pkt *media.Packet, emit func(*media.Packet) error) error {
	defer pkt.Release()
	return emit(pkt)
}

// Packets returns how many packets the session has produced.
func (s *EncodeSession) Packets() int64 { return s.packets }

// Close releases the encoder. Calling Close again is a no-op.
func (s *EncodeSession) Close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.log.Debug("encoder closed", "packets", s.packets)
	return s.enc.Close()
}

// Codec returns the encoder name.
func (s *EncodeSession) Codec() string { return s.codec }
