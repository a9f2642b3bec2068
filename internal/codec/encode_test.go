package codec

import (
	"errors"
	"testing"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/engine/enginetest"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

func encoderConfig() engine.EncoderConfig {
	return engine.EncoderConfig{
		Codec:    "libx265",
		Width:    16,
		Height:   8,
		TimeBase: rational.MustNew(1, 60),
		BitRate:  2_000_000,
		GOPSize:  60,
	}
}

func frame(pts int64) *media.Frame {
	f := media.NewFrame(nil)
	f.PTS = pts
	f.Width, f.Height = 16, 8
	return f
}

func TestEncoderLookaheadOnlyLeavesOnFlush(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(nil, nil)
	eng.Encode = enginetest.EncoderScript{Delay: 4}

	s, err := OpenEncoder(eng, 0, encoderConfig(), nil)
	if err != nil {
		t.Fatalf("OpenEncoder: %v", err)
	}
	defer s.Close()

	var pts []int64
	emit := func(pkt *media.Packet) error {
		pts = append(pts, pkt.PTS)
		return nil
	}
	for i := int64(0); i < 10; i++ {
		f := frame(i)
		if err := s.Feed(f, emit); err != nil {
			t.Fatalf("Feed %d: %v", i, err)
		}
		f.Release()
	}
	if len(pts) != 6 {
		t.Fatalf("before flush: got %d packets, want 6", len(pts))
	}

	if err := s.Flush(emit); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(pts) != 10 {
		t.Fatalf("after flush: got %d packets, want 10", len(pts))
	}
	for i, p := range pts {
		if p != int64(i) {
			t.Errorf("packet %d: pts %d, want %d", i, p, i)
		}
	}
	if s.Packets() != 10 {
		t.Errorf("Packets() = %d, want 10", s.Packets())
	}
	if got, want := eng.Ledger.Released(enginetest.KindPacket), eng.Ledger.Allocated(enginetest.KindPacket); got != want {
		t.Errorf("packets released: got %d, want %d", got, want)
	}
}

func TestEncoderParametersAndTimeBase(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(nil, nil)
	cfg := encoderConfig()
	cfg.GlobalHeader = true

	s, err := OpenEncoder(eng, 0, cfg, nil)
	if err != nil {
		t.Fatalf("OpenEncoder: %v", err)
	}
	defer s.Close()

	p := s.Parameters()
	if p.CodecID != "libx265" || p.Width != 16 || p.Height != 8 {
		t.Errorf("parameters: got %s %dx%d", p.CodecID, p.Width, p.Height)
	}
	if len(p.Extradata) == 0 {
		t.Error("global header encoder should carry extradata")
	}
	if s.TimeBase() != rational.MustNew(1, 60) {
		t.Errorf("time base: got %s, want 1/60", s.TimeBase())
	}
	if s.Codec() != "libx265" {
		t.Errorf("codec: got %q", s.Codec())
	}
}

func TestEncoderFatalReceive(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(nil, nil)
	eng.Encode = enginetest.EncoderScript{FailReceiveAt: 1}

	s, _ := OpenEncoder(eng, 3, encoderConfig(), nil)
	defer s.Close()

	f := frame(0)
	defer f.Release()
	err := s.Feed(f, func(*media.Packet) error { return nil })
	var ce *engine.CodecError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *engine.CodecError", err)
	}
	if ce.Op != "encode" || ce.Stream != 3 {
		t.Errorf("got %s stream %d, want encode stream 3", ce.Op, ce.Stream)
	}
}

func TestEncoderUnavailable(t *testing.T) {
	t.Parallel()

	eng := enginetest.New(nil, nil)
	eng.NoEncoder = true

	_, err := OpenEncoder(eng, 0, encoderConfig(), nil)
	var uc *engine.UnsupportedCodecError
	if !errors.As(err, &uc) || uc.Direction != "encoder" {
		t.Fatalf("err = %v, want encoder *engine.UnsupportedCodecError", err)
	}
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	if Produced.String() != "produced" || WouldBlock.String() != "would-block" || EndOfStream.String() != "end-of-stream" {
		t.Error("unexpected status names")
	}
	if Open.String() != "open" || Draining.String() != "draining" || Closed.String() != "closed" {
		t.Error("unexpected state names")
	}
	r := Result[int]{Status: WouldBlock}
	if !r.Exhausted() {
		t.Error("WouldBlock result should be exhausted")
	}
}
