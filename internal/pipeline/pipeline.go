// Package pipeline drives a source container through passthrough, decode
// and re-encode paths into a sink. One Pipeline performs one run in one of
// the modes below; all work happens on the calling goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
	"github.com/zsiec/avpipe/internal/source"
)

// maxConsecutiveReadErrors stops a run whose input keeps failing.
const maxConsecutiveReadErrors = 64

// Mode selects what a run does with the input.
type Mode int

// Run modes. Transmux is an alias of Remux.
const (
	FrameDump Mode = iota
	Remux
	Transcode
)

func (m Mode) String() string {
	switch m {
	case FrameDump:
		return "frames"
	case Remux:
		return "remux"
	case Transcode:
		return "transcode"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a command name to its Mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "frames":
		return FrameDump, nil
	case "remux", "transmux":
		return Remux, nil
	case "transcode":
		return Transcode, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", name)
	}
}

// FrameSink receives decoded frames in frame-dump mode. The frame is only
// valid for the duration of the call.
type FrameSink interface {
	WriteFrame(f *media.Frame) error
}

// Config describes one run.
type Config struct {
	Mode       Mode
	Input      string
	Output     string
	FormatHint string

	// Encoder is the template for re-encoded video. Size, time base, frame
	// rate and global header are filled in from the input and the sink.
	Encoder engine.EncoderConfig

	// FrameRate overrides the re-encoded stream's frame rate. The zero
	// value uses the input's.
	FrameRate rational.Rational

	// FrameCount is the number of video packets decoded in frame-dump mode.
	FrameCount int
	Frames     FrameSink
}

// Pipeline runs one Config against an engine.
type Pipeline struct {
	log   *slog.Logger
	eng   engine.Engine
	cfg   Config
	stats counters
}

// New creates a Pipeline. A nil logger uses slog.Default().
func New(eng engine.Engine, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log: log.With("component", "pipeline", "mode", cfg.Mode.String()),
		eng: eng,
		cfg: cfg,
	}
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() Stats { return p.stats.snapshot() }

// Run executes the configured mode. The output, when there is one, is
// always finalized and closed before Run returns, including after a fatal
// error or cancellation of ctx.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	src, err := source.Open(ctx, p.eng, p.cfg.Input, p.log)
	if err != nil {
		return err
	}
	defer func() { err = joinErr(err, src.Close()) }()

	if err := src.Probe(); err != nil {
		return err
	}

	switch p.cfg.Mode {
	case FrameDump:
		return p.runFrames(ctx, src)
	case Remux, Transcode:
		return p.runMux(ctx, src)
	default:
		return fmt.Errorf("%w: mode %s", engine.ErrUsage, p.cfg.Mode)
	}
}

// readLoop reads packets until end of input and passes each to handle,
// releasing it afterwards. Corrupt packets are skipped. handle returns
// false to stop early.
func (p *Pipeline) readLoop(ctx context.Context, src *source.Source, handle func(*media.Packet) (bool, error)) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := src.ReadNext()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var re *engine.ReadError
		if errors.As(err, &re) {
			p.stats.readErrors.Add(1)
			consecutive++
			p.log.Warn("skipping unreadable packet", "error", engine.Describe(err))
			if consecutive >= maxConsecutiveReadErrors {
				return fmt.Errorf("%d consecutive read errors: %w", consecutive, err)
			}
			continue
		}
		if err != nil {
			return err
		}
		consecutive = 0
		p.stats.read.Add(1)

		more, err := handlePacket(pkt, handle)
		if err != nil || !more {
			return err
		}
	}
}

func handlePacket(pkt *media.Packet, handle func(*media.Packet) (bool, error)) (bool, error) {
	defer pkt.Release()
	return handle(pkt)
}

func joinErr(err, other error) error {
	switch {
	case other == nil:
		return err
	case err == nil:
		return other
	default:
		return errors.Join(err, other)
	}
}
