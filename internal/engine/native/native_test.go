package native

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/mpegts"
	"github.com/zsiec/avpipe/internal/pipeline"
	"github.com/zsiec/avpipe/internal/rational"
)

// bits writes MSB-first fields for building parameter sets.
type bits struct {
	buf []byte
	n   int
}

func (b *bits) u(width int, v uint) {
	for i := width - 1; i >= 0; i-- {
		if b.n%8 == 0 {
			b.buf = append(b.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			b.buf[len(b.buf)-1] |= 1 << (7 - uint(b.n%8))
		}
		b.n++
	}
}

func (b *bits) ue(v uint) {
	v++
	width := 0
	for x := v; x > 1; x >>= 1 {
		width++
	}
	b.u(width, 0)
	b.u(width+1, v)
}

// testSPS is a baseline 640x360 SPS at 25 fps, escaped and with its header.
func testSPS() []byte {
	b := &bits{}
	b.u(8, 66)
	b.u(8, 0)
	b.u(8, 30)
	b.ue(0)
	b.ue(0)
	b.ue(2)
	b.ue(1)
	b.u(1, 0)
	b.ue(39) // 640 / 16 - 1
	b.ue(22) // 368 / 16 - 1
	b.u(1, 1)
	b.u(1, 1)
	b.u(1, 1)
	b.ue(0)
	b.ue(0)
	b.ue(0)
	b.ue(4)
	b.u(1, 1) // vui
	b.u(4, 0)
	b.u(1, 1) // timing
	b.u(32, 1)
	b.u(32, 50)
	b.u(1, 1)
	b.u(1, 1) // stop bit
	out := []byte{0x67}
	zeros := 0
	for _, v := range b.buf {
		if zeros >= 2 && v <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, v)
		if v == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func adts(payload int) []byte {
	n := 7 + payload
	h := []byte{0xFF, 0xF1, 1<<6 | 3<<2, 2<<6 | byte(n>>11)&0x03, byte(n >> 3), byte(n&0x07)<<5 | 0x1F, 0xFC}
	return append(h, make([]byte, payload)...)
}

// writeTestTS writes a program with H.264 video and AAC audio: 10 video
// units at 25 fps with a key frame every 5, and one AAC frame per 1920
// ticks.
func writeTestTS(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	vpid, _ := m.AddStream(mpegts.StreamTypeH264)
	apid, _ := m.AddStream(mpegts.StreamTypeAAC)

	for i := 0; i < 10; i++ {
		key := i%5 == 0
		var data []byte
		if key {
			data = annexB([]byte{0x09, 0xF0}, testSPS(), []byte{0x68, 0xCE, 0x38, 0x80}, []byte{0x65, 0x88, byte(i)})
		} else {
			data = annexB([]byte{0x41, 0x9A, byte(i)})
		}
		pts := int64(i) * 3600
		if err := m.WritePES(vpid, pts+3600, pts, key, data); err != nil {
			t.Fatal(err)
		}
		if err := m.WritePES(apid, int64(i)*1920, int64(i)*1920, false, adts(50)); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "in.ts")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, d engine.Demuxer) []*media.Packet {
	t.Helper()
	var out []*media.Packet
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, pkt)
	}
}

func TestOpenAndProbe(t *testing.T) {
	t.Parallel()

	eng := New(Options{}, nil)
	d, err := eng.OpenInput(context.Background(), writeTestTS(t))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.FormatName() != "mpegts" {
		t.Errorf("format = %q", d.FormatName())
	}
	streams := d.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	if streams[0].Params.CodecID != "h264" || streams[1].Params.CodecID != "aac" {
		t.Errorf("codecs = %s, %s", streams[0].Params.CodecID, streams[1].Params.CodecID)
	}
	if streams[0].TimeBase != rational.MustNew(1, 90000) {
		t.Errorf("time base = %s", streams[0].TimeBase)
	}

	if err := d.Probe(); err != nil {
		t.Fatal(err)
	}
	streams = d.Streams()
	v, a := streams[0].Params, streams[1].Params
	if v.Width != 640 || v.Height != 360 {
		t.Errorf("video = %dx%d, want 640x360", v.Width, v.Height)
	}
	if len(v.Extradata) == 0 {
		t.Error("video extradata missing")
	}
	if got := d.GuessFrameRate(0); got != rational.MustNew(25, 1) {
		t.Errorf("frame rate = %s, want 25/1", got)
	}
	if a.SampleRate != 48000 || a.Channels != 2 {
		t.Errorf("audio = %d Hz %d ch", a.SampleRate, a.Channels)
	}

	pkts := readAll(t, d)
	if len(pkts) != 20 {
		t.Fatalf("got %d packets, want 20", len(pkts))
	}
	keys := 0
	var videoPTS []int64
	for _, p := range pkts {
		if p.StreamIndex == 0 {
			videoPTS = append(videoPTS, p.PTS)
			if p.KeyFrame {
				keys++
			}
			if p.Duration != 3600 {
				t.Errorf("video duration = %d, want 3600", p.Duration)
			}
		} else if p.Duration != 1920 {
			t.Errorf("audio duration = %d, want 1920", p.Duration)
		}
		p.Release()
	}
	if keys != 2 {
		t.Errorf("got %d video key frames, want 2", keys)
	}
	for i, pts := range videoPTS {
		if want := int64(i)*3600 + 3600; pts != want {
			t.Errorf("video pts %d = %d, want %d", i, pts, want)
		}
	}
	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	eng := New(Options{ProbePackets: 4}, nil)
	ctx := context.Background()

	_, err := eng.OpenInput(ctx, filepath.Join(t.TempDir(), "missing.ts"))
	var oe *engine.OpenError
	if !errors.As(err, &oe) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}

	junk := filepath.Join(t.TempDir(), "junk.ts")
	if err := os.WriteFile(junk, bytes.Repeat([]byte("not a transport stream"), 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.OpenInput(ctx, junk); !errors.As(err, &oe) {
		t.Errorf("junk err = %v, want OpenError", err)
	}

	if _, err := eng.OpenInput(ctx, "srt://:9000"); !errors.As(err, &oe) {
		t.Errorf("srt without host err = %v, want OpenError", err)
	}
}

func TestNoCodecs(t *testing.T) {
	t.Parallel()

	eng := New(Options{}, nil)
	var uc *engine.UnsupportedCodecError
	if _, err := eng.NewDecoder(media.Stream{Params: media.CodecParameters{CodecID: "h264"}}); !errors.As(err, &uc) || uc.Direction != "decoder" {
		t.Errorf("decoder err = %v", err)
	}
	if _, err := eng.NewEncoder(engine.EncoderConfig{Codec: "libx265"}); !errors.As(err, &uc) || uc.Codec != "libx265" {
		t.Errorf("encoder err = %v", err)
	}
}

func TestRemuxRoundTrip(t *testing.T) {
	t.Parallel()

	eng := New(Options{}, nil)
	in, err := eng.OpenInput(context.Background(), writeTestTS(t))
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if err := in.Probe(); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(t.TempDir(), "out.ts")
	out, err := eng.CreateOutput(outPath, "")
	if err != nil {
		t.Fatal(err)
	}
	// Audio first so output indices are swapped.
	streams := in.Streams()
	if _, err := out.AddStream(streams[1]); err != nil {
		t.Fatal(err)
	}
	if _, err := out.AddStream(streams[0]); err != nil {
		t.Fatal(err)
	}
	if err := out.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	if _, err := out.AddStream(streams[0]); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("AddStream after header err = %v, want ErrUsage", err)
	}
	for _, p := range readAll(t, in) {
		p.StreamIndex = 1 - p.StreamIndex
		if err := out.WritePacket(p); err != nil {
			t.Fatal(err)
		}
		p.Release()
	}
	if err := out.WriteTrailer(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	back, err := eng.OpenInput(context.Background(), outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer back.Close()
	if err := back.Probe(); err != nil {
		t.Fatal(err)
	}
	got := back.Streams()
	if len(got) != 2 || got[0].Params.CodecID != "aac" || got[1].Params.Width != 640 {
		t.Fatalf("streams = %+v", got)
	}
	pkts := readAll(t, back)
	if len(pkts) != 20 {
		t.Fatalf("got %d packets, want 20", len(pkts))
	}
	for _, p := range pkts {
		p.Release()
	}
}

func TestCreateOutputContainer(t *testing.T) {
	t.Parallel()

	eng := New(Options{}, nil)
	dir := t.TempDir()
	if _, err := eng.CreateOutput(filepath.Join(dir, "out.mp4"), ""); !errors.Is(err, errUnsupportedContainer) {
		t.Errorf("mp4 err = %v", err)
	}
	m, err := eng.CreateOutput(filepath.Join(dir, "out.bin"), "mpegts")
	if err != nil {
		t.Fatalf("hinted output: %v", err)
	}
	defer m.Close()
	if err := m.WritePacket(media.NewPacket(nil)); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("write before header err = %v, want ErrUsage", err)
	}
	if err := m.WriteHeader(); !errors.Is(err, engine.ErrUsage) {
		t.Errorf("header without streams err = %v, want ErrUsage", err)
	}
	var uc *engine.UnsupportedCodecError
	if _, err := m.AddStream(media.Stream{Params: media.CodecParameters{CodecID: "vp9"}}); !errors.As(err, &uc) {
		t.Errorf("vp9 err = %v, want UnsupportedCodecError", err)
	}
}

func TestInterleaveByDTS(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := &muxer{log: New(Options{}, nil).log, out: nopWriteCloser{&buf}}
	m.bw = bufio.NewWriter(&buf)
	m.ts = mpegts.NewMuxer(m.bw)
	for _, codec := range []string{"h264", "aac"} {
		if _, err := m.AddStream(media.Stream{Params: media.CodecParameters{CodecID: codec}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.WriteHeader(); err != nil {
		t.Fatal(err)
	}

	write := func(stream int, dts int64) {
		p := media.NewPacket(nil)
		p.StreamIndex, p.PTS, p.DTS, p.Data = stream, dts, dts, []byte{byte(dts)}
		if err := m.WritePacket(p); err != nil {
			t.Fatal(err)
		}
	}
	write(0, 0)
	write(0, 3000)
	write(0, 6000)
	if m.queued != 3 {
		t.Fatalf("queued = %d, want 3 while audio is empty", m.queued)
	}
	write(1, 1000)
	// 0 and 1000 go out; 3000 waits for more audio.
	if m.queued != 2 {
		t.Errorf("queued = %d, want 2", m.queued)
	}
	if err := m.WriteTrailer(); err != nil {
		t.Fatal(err)
	}
	if m.queued != 0 {
		t.Errorf("queued = %d after trailer", m.queued)
	}

	d := mpegts.NewDemuxer(context.Background(), &buf)
	var order []int64
	for {
		data, err := d.Next()
		if err != nil {
			break
		}
		if data.PES != nil {
			order = append(order, data.PES.DTS)
		}
	}
	// Units complete per PID, so only check that every unit arrived.
	if len(order) != 4 {
		t.Errorf("got %d units, want 4", len(order))
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	eng, err := engine.Select(Name)
	if err != nil {
		t.Fatal(err)
	}
	if eng.Name() != Name {
		t.Errorf("name = %q", eng.Name())
	}
	if len(eng.Formats()) == 0 {
		t.Error("no formats listed")
	}
}

// corruptPES is a TS packet on pid that starts a PES unit too short for its
// optional header. The discontinuity flag keeps the continuity check quiet.
func corruptPES(pid uint16) []byte {
	unit := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80}
	buf := make([]byte, 188)
	buf[0] = 0x47
	buf[1] = 0x40 | byte(pid>>8)&0x1F
	buf[2] = byte(pid)
	buf[3] = 0x30
	buf[4] = byte(183 - len(unit))
	buf[5] = 0x80
	for i := 6; i < 188-len(unit); i++ {
		buf[i] = 0xFF
	}
	copy(buf[188-len(unit):], unit)
	return buf
}

func TestCorruptPESIsReadError(t *testing.T) {
	t.Parallel()

	good, err := os.ReadFile(writeTestTS(t))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "corrupt.ts")
	if err := os.WriteFile(path, append(good, corruptPES(0x100)...), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := New(Options{}, nil)
	d, err := eng.OpenInput(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Probe(); err != nil {
		t.Fatal(err)
	}

	packets, readErrors := 0, 0
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		var re *engine.ReadError
		if errors.As(err, &re) {
			readErrors++
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		packets++
		pkt.Release()
	}
	if readErrors != 1 {
		t.Errorf("got %d read errors, want 1", readErrors)
	}
	if packets != 20 {
		t.Errorf("got %d packets, want 20", packets)
	}
}

func TestRemuxKeepsUnknownStreamType(t *testing.T) {
	t.Parallel()

	const id3 = 0x15
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	vpid, _ := m.AddStream(mpegts.StreamTypeH264)
	mpid, _ := m.AddStream(id3)
	for i := 0; i < 6; i++ {
		key := i%3 == 0
		data := annexB([]byte{0x41, 0x9A, byte(i)})
		if key {
			data = annexB(testSPS(), []byte{0x68, 0xCE, 0x38, 0x80}, []byte{0x65, 0x88, byte(i)})
		}
		dts := int64(i) * 3600
		if err := m.WritePES(vpid, dts, dts, key, data); err != nil {
			t.Fatal(err)
		}
		if err := m.WritePES(mpid, dts, dts, false, []byte("ID3\x04\x00")); err != nil {
			t.Fatal(err)
		}
	}
	in := filepath.Join(t.TempDir(), "id3.ts")
	if err := os.WriteFile(in, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := New(Options{}, nil)
	out := filepath.Join(t.TempDir(), "out.ts")
	p := pipeline.New(eng, pipeline.Config{Mode: pipeline.Remux, Input: in, Output: out}, nil)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := p.Stats().PacketsWritten; got != 12 {
		t.Errorf("wrote %d packets, want 12", got)
	}

	back, err := eng.OpenInput(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	defer back.Close()
	streams := back.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(streams))
	}
	if got := streams[1].Params.CodecTag; got != id3 {
		t.Errorf("stream type = 0x%02X, want 0x%02X", got, id3)
	}
	if streams[1].Params.Kind != media.KindData {
		t.Errorf("kind = %s, want data", streams[1].Params.Kind)
	}
	for _, pkt := range readAll(t, back) {
		pkt.Release()
	}
}
