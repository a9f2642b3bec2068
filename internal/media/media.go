// Package media defines the stream, packet and frame types that flow between
// the container and codec engines and the pipeline orchestrator.
package media

import (
	"bytes"
	"fmt"

	"github.com/zsiec/avpipe/internal/rational"
)

// Kind is the media type carried by a stream.
type Kind int

// Stream kinds.
const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindSubtitle
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// CodecParameters describes how a stream is coded. Native carries the
// engine's own parameter object so a passthrough copy loses nothing the
// Go fields do not model.
type CodecParameters struct {
	Kind         Kind
	CodecID      string // engine codec name, e.g. "h264", "hevc", "aac"
	CodecTag     uint32
	BitRate      int64
	Width        int
	Height       int
	PixelFormat  string
	SampleRate   int
	Channels     int
	SampleFormat string
	Extradata    []byte
	Native       any
}

// Clone returns a copy that shares no mutable byte slices with p.
func (p CodecParameters) Clone() CodecParameters {
	c := p
	if p.Extradata != nil {
		c.Extradata = append([]byte(nil), p.Extradata...)
	}
	return c
}

// Equal reports whether the modeled fields and extradata are identical.
func (p CodecParameters) Equal(q CodecParameters) bool {
	return p.Kind == q.Kind &&
		p.CodecID == q.CodecID &&
		p.CodecTag == q.CodecTag &&
		p.BitRate == q.BitRate &&
		p.Width == q.Width &&
		p.Height == q.Height &&
		p.PixelFormat == q.PixelFormat &&
		p.SampleRate == q.SampleRate &&
		p.Channels == q.Channels &&
		p.SampleFormat == q.SampleFormat &&
		bytes.Equal(p.Extradata, q.Extradata)
}

// Describe renders the kind-specific parameters for logs and the info report.
func (p CodecParameters) Describe() string {
	switch p.Kind {
	case KindVideo:
		return fmt.Sprintf("%s %dx%d", p.CodecID, p.Width, p.Height)
	case KindAudio:
		return fmt.Sprintf("%s %d Hz %d ch", p.CodecID, p.SampleRate, p.Channels)
	case KindSubtitle:
		return p.CodecID + " subtitles"
	default:
		return p.CodecID
	}
}

// Stream is one elementary stream of a container. It is immutable once read
// from a source; Native is the engine's handle for the same stream.
type Stream struct {
	Index        int
	Params       CodecParameters
	TimeBase     rational.Rational
	AvgFrameRate rational.Rational // zero value when unknown
	Native       any
}

// Packet is one compressed unit. Its owner must call Release exactly once;
// Release is idempotent so a deferred release after an explicit one is safe.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Pos         int64 // byte position in the source, -1 when unknown
	KeyFrame    bool
	Data        []byte
	Native      any

	release  func()
	released bool
}

// NewPacket returns an empty packet with unknown timestamps. release, when
// non-nil, returns the packet's buffers to the engine that produced it.
func NewPacket(release func()) *Packet {
	return &Packet{
		PTS:     rational.NoPTS,
		DTS:     rational.NoPTS,
		Pos:     -1,
		release: release,
	}
}

// Release hands the packet's buffers back to their engine.
func (p *Packet) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	if p.release != nil {
		p.release()
	}
	p.Data = nil
	p.Native = nil
}

// Released reports whether Release has run.
func (p *Packet) Released() bool { return p.released }

// Frame is one decoded picture or block of audio samples. Video planes are
// row-strided: row y of plane i starts at Planes[i][y*Strides[i]].
type Frame struct {
	StreamIndex int
	PTS         int64
	Width       int
	Height      int
	Format      string
	Planes      [][]byte
	Strides     []int
	SampleCount int
	KeyFrame    bool
	PictureType byte // 'I', 'P', 'B' or '?'
	PacketSize  int
	Seq         int64 // assigned by the decode session, starting at 1
	Native      any

	release  func()
	released bool
	load     func() ([][]byte, []int, error)
	loadErr  error
}

// NewFrame returns an empty frame whose buffers are returned with release.
func NewFrame(release func()) *Frame {
	return &Frame{PTS: rational.NoPTS, PictureType: '?', release: release}
}

// Release hands the frame's buffers back to their engine.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	if f.release != nil {
		f.release()
	}
	f.Planes = nil
	f.Native = nil
	f.load = nil
}

// Released reports whether Release has run.
func (f *Frame) Released() bool { return f.released }

// SetPlaneLoader defers filling Planes and Strides until Plane is first
// called. load runs at most once and never after Release.
func (f *Frame) SetPlaneLoader(load func() ([][]byte, []int, error)) {
	f.load = load
	f.loadErr = nil
}

// Plane returns plane i with its row stride.
func (f *Frame) Plane(i int) ([]byte, int, bool) {
	if f.load != nil && !f.released {
		load := f.load
		f.load = nil
		planes, strides, err := load()
		if err != nil {
			f.loadErr = err
		} else {
			f.Planes, f.Strides = planes, strides
		}
	}
	if i < 0 || i >= len(f.Planes) || i >= len(f.Strides) {
		return nil, 0, false
	}
	return f.Planes[i], f.Strides[i], true
}

// PlaneErr reports why the deferred plane load failed, if it did.
func (f *Frame) PlaneErr() error { return f.loadErr }
