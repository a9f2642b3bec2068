//go:build ffmpeg

package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// Engine implements engine.Engine with libavformat and libavcodec.
type Engine struct {
	log *slog.Logger
}

// New creates the FFmpeg engine and routes FFmpeg's own log output to log
// at warning level and above. If log is nil, slog.Default() is used.
func New(log *slog.Logger) (engine.Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ffmpeg")

	astiav.SetLogLevel(astiav.LogLevelWarning)
	astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		if l <= astiav.LogLevelError {
			log.Error(msg)
			return
		}
		log.Debug(msg)
	})
	return &Engine{log: log}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// OpenInput implements engine.Engine.
func (e *Engine) OpenInput(ctx context.Context, location string) (engine.Demuxer, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, &engine.OpenError{Location: location, Err: fmt.Errorf("alloc format context failed")}
	}
	if err := fc.OpenInput(location, nil, nil); err != nil {
		fc.Free()
		return nil, &engine.OpenError{Location: location, Err: wrap("open input", err)}
	}
	return &demuxer{ctx: ctx, fc: fc}, nil
}

// CreateOutput implements engine.Engine.
func (e *Engine) CreateOutput(location, formatHint string) (engine.Muxer, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, formatHint, location)
	if err != nil {
		return nil, wrap("alloc output context", err)
	}
	if fc == nil {
		return nil, fmt.Errorf("no muxer for %q", location)
	}
	return &muxer{fc: fc, location: location}, nil
}

// NewDecoder implements engine.Engine.
func (e *Engine) NewDecoder(st media.Stream) (engine.Decoder, error) {
	return newDecoder(st)
}

// NewEncoder implements engine.Engine.
func (e *Engine) NewEncoder(cfg engine.EncoderConfig) (engine.Encoder, error) {
	return newEncoder(cfg)
}

// Formats lists the codecs libavcodec was built with.
func (e *Engine) Formats() []engine.Format {
	var out []engine.Format
	for _, c := range astiav.Codecs() {
		kind := engine.FormatDecoder
		if c.IsEncoder() {
			kind = engine.FormatEncoder
		}
		out = append(out, engine.Format{Kind: kind, Name: c.Name(), Description: c.ID().Name()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func toRational(r astiav.Rational) rational.Rational {
	if r.Den() == 0 {
		return rational.Rational{}
	}
	q, err := rational.New(r.Num(), r.Den())
	if err != nil {
		return rational.Rational{}
	}
	return q
}

func fromRational(r rational.Rational) astiav.Rational {
	return astiav.NewRational(r.Num(), r.Den())
}

func kindOf(t astiav.MediaType) media.Kind {
	switch t {
	case astiav.MediaTypeVideo:
		return media.KindVideo
	case astiav.MediaTypeAudio:
		return media.KindAudio
	case astiav.MediaTypeSubtitle:
		return media.KindSubtitle
	case astiav.MediaTypeData:
		return media.KindData
	}
	return media.KindUnknown
}

// paramsOf mirrors cp into Go fields and keeps cp as the native handle.
func paramsOf(cp *astiav.CodecParameters) media.CodecParameters {
	p := media.CodecParameters{
		Kind:      kindOf(cp.MediaType()),
		CodecID:   cp.CodecID().Name(),
		CodecTag:  uint32(cp.CodecTag()),
		BitRate:   cp.BitRate(),
		Extradata: append([]byte(nil), cp.ExtraData()...),
		Native:    cp,
	}
	switch p.Kind {
	case media.KindVideo:
		p.Width, p.Height = cp.Width(), cp.Height()
		p.PixelFormat = cp.PixelFormat().String()
	case media.KindAudio:
		p.SampleRate = cp.SampleRate()
		p.Channels = cp.ChannelLayout().Channels()
		p.SampleFormat = cp.SampleFormat().String()
	}
	return p
}
