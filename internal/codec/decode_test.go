package codec

import (
	"errors"
	"testing"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/engine/enginetest"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

func newVideoEngine(script enginetest.DecoderScript) (*enginetest.Engine, media.Stream) {
	st := enginetest.VideoStream(0, "h264", rational.MustNew(1, 30), 16, 8)
	eng := enginetest.New([]media.Stream{st}, nil)
	eng.Decode = script
	return eng, st
}

func packet(eng *enginetest.Engine, pts int64, key bool) {
	eng.Packets = append(eng.Packets, enginetest.Packet{Stream: 0, PTS: pts, DTS: pts, Key: key, Data: []byte{1}})
}

func readOne(t *testing.T, d engine.Demuxer) *media.Packet {
	t.Helper()
	pkt, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	return pkt
}

func TestDrainYieldsBufferedFramesThenWouldBlock(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{FramesPerPacket: 3})
	packet(eng, 100, true)
	dmx, _ := eng.OpenInput(t.Context(), "in")

	s, err := OpenDecoder(eng, st, nil)
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	defer s.Close()

	pkt := readOne(t, dmx)
	defer pkt.Release()

	accepted, err := s.Submit(pkt)
	if err != nil || !accepted {
		t.Fatalf("Submit = %v, %v; want accepted", accepted, err)
	}

	var seqs []int64
	var pts []int64
	for i := 0; i < 3; i++ {
		res, err := s.Drain()
		if err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
		if res.Status != Produced {
			t.Fatalf("Drain %d: got %s, want produced", i, res.Status)
		}
		seqs = append(seqs, res.Value.Seq)
		pts = append(pts, res.Value.PTS)
		res.Value.Release()
	}

	res, err := s.Drain()
	if err != nil {
		t.Fatalf("final Drain: %v", err)
	}
	if res.Status != WouldBlock {
		t.Errorf("final Drain: got %s, want would-block", res.Status)
	}

	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Errorf("frame %d: seq %d, want %d", i, seq, i+1)
		}
	}
	if pts[0] == pts[1] || pts[1] == pts[2] {
		t.Errorf("duplicate frames: pts %v", pts)
	}
	if got := eng.Ledger.Allocated(enginetest.KindFrame); got != 3 {
		t.Errorf("frames allocated: got %d, want 3", got)
	}
}

func TestFeedRetriesAfterDrain(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{FramesPerPacket: 2, Capacity: 1})
	for i := 0; i < 5; i++ {
		packet(eng, int64(i*10), i == 0)
	}
	dmx, _ := eng.OpenInput(t.Context(), "in")

	s, err := OpenDecoder(eng, st, nil)
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	defer s.Close()

	var got int
	emit := func(f *media.Frame) error {
		got++
		return nil
	}

	// Leave the first packet's frames undrained so the next submit is refused.
	first := readOne(t, dmx)
	if ok, err := s.Submit(first); err != nil || !ok {
		t.Fatalf("Submit = %v, %v; want accepted", ok, err)
	}
	first.Release()
	second := readOne(t, dmx)
	if ok, err := s.Submit(second); err != nil || ok {
		t.Fatalf("Submit on full decoder = %v, %v; want refused", ok, err)
	}
	if err := s.Feed(second, emit); err != nil {
		t.Fatalf("Feed after refusal: %v", err)
	}
	second.Release()

	for i := 2; i < 5; i++ {
		pkt := readOne(t, dmx)
		err := s.Feed(pkt, emit)
		pkt.Release()
		if err != nil {
			t.Fatalf("Feed %d: %v", i, err)
		}
	}
	if err := s.Flush(emit); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got != 10 {
		t.Errorf("frames: got %d, want 10", got)
	}
	if d := eng.Decoders[0]; d.Sends != 5 {
		t.Errorf("accepted sends: got %d, want 5", d.Sends)
	}
	if n := eng.Ledger.Outstanding(); n != 0 {
		t.Errorf("outstanding units: %d", n)
	}
	if s.State() != Draining {
		t.Errorf("state: got %s, want draining", s.State())
	}
}

func TestFlushReleasesDelayedFrames(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{Delay: 3})
	for i := 0; i < 4; i++ {
		packet(eng, int64(i), i == 0)
	}
	dmx, _ := eng.OpenInput(t.Context(), "in")

	s, _ := OpenDecoder(eng, st, nil)
	defer s.Close()

	var order []int64
	emit := func(f *media.Frame) error {
		order = append(order, f.Seq)
		return nil
	}
	for i := 0; i < 4; i++ {
		pkt := readOne(t, dmx)
		if err := s.Feed(pkt, emit); err != nil {
			t.Fatalf("Feed: %v", err)
		}
		pkt.Release()
	}
	if len(order) != 1 {
		t.Fatalf("before flush: got %d frames, want 1", len(order))
	}
	if err := s.Flush(emit); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("after flush: got %d frames, want 4", len(order))
	}
	for i, seq := range order {
		if seq != int64(i+1) {
			t.Errorf("frame %d: seq %d, want %d", i, seq, i+1)
		}
	}

	res, err := s.Drain()
	if err != nil || res.Status != EndOfStream {
		t.Errorf("Drain after flush = %s, %v; want end-of-stream", res.Status, err)
	}
}

func TestSubmitAfterFlushIsUsageError(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{})
	s, _ := OpenDecoder(eng, st, nil)
	defer s.Close()

	if err := s.Flush(func(*media.Frame) error { return nil }); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := s.Submit(media.NewPacket(nil)); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("Submit after flush: err = %v, want ErrUsage", err)
	}
	if err := s.Flush(nil); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("second Flush: err = %v, want ErrUsage", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{})
	s, _ := OpenDecoder(eng, st, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := eng.Decoders[0].Closed; got != 1 {
		t.Errorf("decoder closed %d times, want 1", got)
	}
	if _, err := s.Drain(); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("Drain after Close: err = %v, want ErrUsage", err)
	}
}

func TestFatalSendIsCodecError(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{FailSendAt: 2})
	packet(eng, 0, true)
	packet(eng, 1, false)
	dmx, _ := eng.OpenInput(t.Context(), "in")

	s, _ := OpenDecoder(eng, st, nil)
	defer s.Close()

	emit := func(*media.Frame) error { return nil }
	first := readOne(t, dmx)
	defer first.Release()
	if err := s.Feed(first, emit); err != nil {
		t.Fatalf("first Feed: %v", err)
	}

	second := readOne(t, dmx)
	defer second.Release()
	err := s.Feed(second, emit)
	var ce *engine.CodecError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *engine.CodecError", err)
	}
	if ce.Op != "decode" || ce.Stream != 0 {
		t.Errorf("got %s stream %d, want decode stream 0", ce.Op, ce.Stream)
	}
	if !errors.Is(err, enginetest.ErrInjected) {
		t.Error("CodecError should wrap the engine error")
	}
}

func TestEmitErrorReleasesFrame(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{FramesPerPacket: 2})
	packet(eng, 0, true)
	dmx, _ := eng.OpenInput(t.Context(), "in")

	s, _ := OpenDecoder(eng, st, nil)
	defer s.Close()

	boom := errors.New("downstream failed")
	pkt := readOne(t, dmx)
	err := s.Feed(pkt, func(*media.Frame) error { return boom })
	pkt.Release()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want downstream error", err)
	}
	if got, want := eng.Ledger.Released(enginetest.KindFrame), eng.Ledger.Allocated(enginetest.KindFrame); got != want {
		t.Errorf("frames released: got %d, want %d", got, want)
	}
	if eng.Ledger.DoubleReleases() != 0 {
		t.Errorf("double releases: %d", eng.Ledger.DoubleReleases())
	}
}

func TestOpenDecoderUnsupported(t *testing.T) {
	t.Parallel()

	eng, st := newVideoEngine(enginetest.DecoderScript{})
	eng.NoDecoder = true

	_, err := OpenDecoder(eng, st, nil)
	var uc *engine.UnsupportedCodecError
	if !errors.As(err, &uc) {
		t.Fatalf("err = %v, want *engine.UnsupportedCodecError", err)
	}
	if uc.Codec != "h264" {
		t.Errorf("codec: got %q, want h264", uc.Codec)
	}
}
