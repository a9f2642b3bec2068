// Package engine declares the capability interfaces the pipeline consumes
// from a media codec engine: container demux and mux, codec open, and the
// submit/receive halves of decoders and encoders. Implementations live in
// the ffmpeg and native subpackages.
package engine

import (
	"context"

	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// Engine opens containers and codecs.
type Engine interface {
	// Name identifies the engine in logs and the formats listing.
	Name() string

	// OpenInput opens location and reads enough of the container to list
	// its streams. Failures are *OpenError.
	OpenInput(ctx context.Context, location string) (Demuxer, error)

	// CreateOutput creates or truncates location. formatHint names the
	// container; empty means guess from the location.
	CreateOutput(location, formatHint string) (Muxer, error)

	// NewDecoder opens a decoder for st. A missing decoder is
	// *UnsupportedCodecError.
	NewDecoder(st media.Stream) (Decoder, error)

	// NewEncoder opens the encoder named in cfg.
	NewEncoder(cfg EncoderConfig) (Encoder, error)

	// Formats lists the codecs and containers the engine supports.
	Formats() []Format
}

// Demuxer yields the compressed packets of one input container.
type Demuxer interface {
	FormatName() string

	// Probe scans ahead until stream parameters are known. Failures are
	// reported as-is and wrapped by callers.
	Probe() error

	Streams() []media.Stream

	// GuessFrameRate returns the best frame rate estimate for stream i, or
	// the zero Rational when there is none.
	GuessFrameRate(i int) rational.Rational

	// ReadPacket returns the next packet in container order, io.EOF at end
	// of input. The caller owns the packet and must release it.
	ReadPacket() (*media.Packet, error)

	Close() error
}

// Muxer writes one output container.
type Muxer interface {
	// AddStream registers an output stream built from tmpl and returns its
	// index. Params.Native, when set by the same engine, is copied verbatim.
	AddStream(tmpl media.Stream) (int, error)

	// NeedsGlobalHeader reports whether encoders feeding this container
	// must put parameter sets in extradata.
	NeedsGlobalHeader() bool

	WriteHeader() error

	// TimeBase is the stream's time base as chosen by the container. It is
	// only final after WriteHeader.
	TimeBase(i int) rational.Rational

	// WritePacket buffers pkt for interleaved, DTS-ordered output. Timing
	// must already be in the output stream's time base. The muxer does not
	// take ownership of pkt.
	WritePacket(pkt *media.Packet) error

	WriteTrailer() error

	// Close releases the container. It does not write a trailer.
	Close() error
}

// Decoder is the engine half of a decode session.
type Decoder interface {
	// SendPacket submits pkt; nil signals end of input. ErrAgain means
	// frames must be received before pkt is accepted.
	SendPacket(pkt *media.Packet) error

	// ReceiveFrame returns the next decoded frame, ErrAgain when more input
	// is needed, or io.EOF once flushed dry.
	ReceiveFrame() (*media.Frame, error)

	Close() error
}

// Encoder is the engine half of an encode session.
type Encoder interface {
	// SendFrame submits f; nil signals end of input.
	SendFrame(f *media.Frame) error

	// ReceivePacket returns the next encoded packet, ErrAgain or io.EOF.
	ReceivePacket() (*media.Packet, error)

	// Parameters describes the encoded stream for the muxer.
	Parameters() media.CodecParameters

	TimeBase() rational.Rational

	Close() error
}

// EncoderConfig selects and configures a video encoder.
type EncoderConfig struct {
	Codec        string
	Width        int
	Height       int
	PixelFormat  string // empty means yuv420p
	TimeBase     rational.Rational
	FrameRate    rational.Rational
	BitRate      int64
	RCBufferSize int
	RCMaxRate    int64
	RCMinRate    int64
	GOPSize      int

	// PrivateKey/PrivateValue set one codec-private option, e.g.
	// "x265-params" = "keyint=60:min-keyint=60:scenecut=0".
	PrivateKey   string
	PrivateValue string

	GlobalHeader bool
}

// FormatKind classifies an entry of Engine.Formats.
type FormatKind string

// Format kinds.
const (
	FormatDemuxer FormatKind = "demuxer"
	FormatMuxer   FormatKind = "muxer"
	FormatDecoder FormatKind = "decoder"
	FormatEncoder FormatKind = "encoder"
)

// Format is one supported codec or container.
type Format struct {
	Kind        FormatKind
	Name        string
	Description string
}
