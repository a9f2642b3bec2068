// Package native is a pure-Go engine: it demuxes and muxes MPEG transport
// streams from files, standard input/output and SRT callers. It has no
// codecs, so it serves remux and inspection but not frame dumps or
// transcoding.
package native

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
)

// Name is the engine's registry name.
const Name = "native"

// Priority ranks the native engine below engines with codec support.
const Priority = 10

var errNoCodecs = errors.New("the native engine has no codecs")

// Options tunes the native engine.
type Options struct {
	// SRTLatency is the receive latency requested when dialing srt://
	// locations.
	SRTLatency time.Duration

	// ProbePackets bounds how many PES units OpenInput and Probe scan
	// ahead looking for the program map and stream parameters.
	ProbePackets int
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{SRTLatency: 120 * time.Millisecond, ProbePackets: 512}
}

func init() {
	engine.Register(Name, Priority, Factory(DefaultOptions(), nil))
}

// Factory returns an engine.Factory building a native engine with opts.
func Factory(opts Options, log *slog.Logger) engine.Factory {
	return func() (engine.Engine, error) {
		return New(opts, log), nil
	}
}

// Engine implements engine.Engine.
type Engine struct {
	log  *slog.Logger
	opts Options
}

// New creates a native engine. Zero option fields take their defaults.
// If log is nil, slog.Default() is used.
func New(opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultOptions()
	if opts.SRTLatency <= 0 {
		opts.SRTLatency = def.SRTLatency
	}
	if opts.ProbePackets <= 0 {
		opts.ProbePackets = def.ProbePackets
	}
	return &Engine{log: log.With("component", "native"), opts: opts}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// OpenInput implements engine.Engine.
func (e *Engine) OpenInput(ctx context.Context, location string) (engine.Demuxer, error) {
	rc, err := openLocation(ctx, location, e.opts.SRTLatency, e.log)
	if err != nil {
		return nil, &engine.OpenError{Location: location, Err: err}
	}
	d := newDemuxer(ctx, rc, e.opts.ProbePackets, e.log)
	if err := d.readProgram(); err != nil {
		_ = rc.Close()
		return nil, &engine.OpenError{Location: location, Err: err}
	}
	return d, nil
}

// CreateOutput implements engine.Engine.
func (e *Engine) CreateOutput(location, formatHint string) (engine.Muxer, error) {
	return createMuxer(location, formatHint, e.log)
}

// NewDecoder implements engine.Engine. The native engine has no decoders.
func (e *Engine) NewDecoder(st media.Stream) (engine.Decoder, error) {
	return nil, &engine.UnsupportedCodecError{Codec: st.Params.CodecID, Direction: "decoder", Err: errNoCodecs}
}

// NewEncoder implements engine.Engine. The native engine has no encoders.
func (e *Engine) NewEncoder(cfg engine.EncoderConfig) (engine.Encoder, error) {
	return nil, &engine.UnsupportedCodecError{Codec: cfg.Codec, Direction: "encoder", Err: errNoCodecs}
}

// Formats implements engine.Engine.
func (e *Engine) Formats() []engine.Format {
	return []engine.Format{
		{Kind: engine.FormatDemuxer, Name: "mpegts", Description: "MPEG-TS (file, stdin, srt://)"},
		{Kind: engine.FormatMuxer, Name: "mpegts", Description: "MPEG-TS (file, stdout)"},
	}
}
