package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zsiec/avpipe/internal/codec"
	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
	"github.com/zsiec/avpipe/internal/sink"
	"github.com/zsiec/avpipe/internal/source"
)

const tsRounding = rational.RoundNearInf | rational.PassMinMax

// reencoder is the decode and encode session pair of one input stream.
type reencoder struct {
	in        int
	out       int
	inTB      rational.Rational
	frameRate rational.Rational
	duration  int64
	dec       *codec.DecodeSession
	enc       *codec.EncodeSession
}

// muxRun is the state of one remux or transcode run.
type muxRun struct {
	p       *Pipeline
	log     *slog.Logger
	src     *source.Source
	snk     *sink.Sink
	mapping Mapping
	inTB    []rational.Rational
	outTB   []rational.Rational
	reenc   map[int]*reencoder
	dropped map[int]bool
}

func (p *Pipeline) runMux(ctx context.Context, src *source.Source) (err error) {
	streams := src.Streams()

	target := -1
	if p.cfg.Mode == Transcode {
		target = firstVideo(streams)
		if target < 0 {
			return fmt.Errorf("transcode %s: no video stream", src.Location())
		}
	}
	mapping := BuildMapping(streams, target)

	snk, err := sink.Create(p.eng, p.cfg.Output, p.cfg.FormatHint, p.log)
	if err != nil {
		return err
	}

	r := &muxRun{
		p:       p,
		log:     p.log,
		src:     src,
		snk:     snk,
		mapping: mapping,
		reenc:   make(map[int]*reencoder),
		dropped: make(map[int]bool),
	}
	defer func() { err = joinErr(err, r.finish(err)) }()

	if err := r.setup(streams); err != nil {
		return err
	}
	return p.readLoop(ctx, src, r.handle)
}

func (r *muxRun) setup(streams []media.Stream) error {
	r.inTB = make([]rational.Rational, len(streams))
	for i, st := range streams {
		r.inTB[i] = st.TimeBase
		route := r.mapping.Route(i)

		var tmpl media.Stream
		switch route.Action {
		case PassThrough:
			tmpl = media.Stream{
				Params:       st.Params.Clone(),
				TimeBase:     st.TimeBase,
				AvgFrameRate: st.AvgFrameRate,
				Native:       st.Native,
			}
		case Reencode:
			re, t, err := r.openReencoder(st, route.Output)
			if err != nil {
				return err
			}
			r.reenc[i] = re
			tmpl = t
		default:
			continue
		}

		idx, err := r.snk.AddStream(tmpl)
		if err != nil {
			return err
		}
		if idx != route.Output {
			return fmt.Errorf("%w: output stream %d registered as %d", engine.ErrUsage, route.Output, idx)
		}
	}

	if err := r.snk.FinalizeHeaders(); err != nil {
		return err
	}

	r.outTB = make([]rational.Rational, r.mapping.Outputs())
	for j := range r.outTB {
		tb, err := r.snk.TimeBase(j)
		if err != nil {
			return err
		}
		r.outTB[j] = tb
	}
	for _, re := range r.reenc {
		re.duration = frameDuration(r.outTB[re.out], re.frameRate)
		if re.duration == 0 {
			r.log.Warn("encoded packet duration is zero", "stream", re.in,
				"time_base", r.outTB[re.out].String(), "frame_rate", re.frameRate.String())
		}
	}

	for i := 0; i < r.mapping.Len(); i++ {
		route := r.mapping.Route(i)
		r.log.Info("stream mapped",
			"input", i,
			"output", route.Output,
			"action", route.Action.String(),
			"in_time_base", r.inTB[i].String(),
			"out_time_base", r.outTB[route.Output].String())
	}
	return nil
}

func (r *muxRun) openReencoder(st media.Stream, out int) (*reencoder, media.Stream, error) {
	guess := r.src.GuessFrameRate(st.Index)
	rate := r.p.cfg.FrameRate
	if rate.IsZero() || !rate.Valid() {
		rate = guess
	}
	tb, err := rate.Inverse()
	if err != nil {
		return nil, media.Stream{}, fmt.Errorf("stream %d: no usable frame rate (%s): %w", st.Index, rate, err)
	}

	durationRate := r.p.cfg.FrameRate
	if durationRate.IsZero() || !durationRate.Valid() {
		durationRate = st.AvgFrameRate
	}
	if durationRate.IsZero() || !durationRate.Valid() {
		durationRate = guess
	}

	dec, err := codec.OpenDecoder(r.p.eng, st, r.log)
	if err != nil {
		return nil, media.Stream{}, err
	}

	cfg := r.p.cfg.Encoder
	cfg.Width = st.Params.Width
	cfg.Height = st.Params.Height
	cfg.TimeBase = tb
	cfg.FrameRate = rate
	cfg.GlobalHeader = r.snk.NeedsGlobalHeader()

	enc, err := codec.OpenEncoder(r.p.eng, st.Index, cfg, r.log)
	if err != nil {
		return nil, media.Stream{}, joinErr(err, dec.Close())
	}

	re := &reencoder{
		in:        st.Index,
		out:       out,
		inTB:      st.TimeBase,
		frameRate: durationRate,
		dec:       dec,
		enc:       enc,
	}
	tmpl := media.Stream{
		Params:       enc.Parameters(),
		TimeBase:     enc.TimeBase(),
		AvgFrameRate: rate,
	}
	return re, tmpl, nil
}

func (r *muxRun) handle(pkt *media.Packet) (bool, error) {
	route := r.mapping.Route(pkt.StreamIndex)
	switch route.Action {
	case PassThrough:
		return true, r.passthrough(pkt, route.Output)
	case Reencode:
		re := r.reenc[pkt.StreamIndex]
		return true, re.dec.Feed(pkt, r.encodeFrame(re))
	default:
		r.p.stats.dropped.Add(1)
		if !r.dropped[pkt.StreamIndex] {
			r.dropped[pkt.StreamIndex] = true
			r.log.Warn("dropping packets of unmapped stream", "stream", pkt.StreamIndex)
		}
		return true, nil
	}
}

func (r *muxRun) passthrough(pkt *media.Packet, out int) error {
	in := r.inTB[pkt.StreamIndex]
	to := r.outTB[out]
	pkt.PTS = rational.Rescale(pkt.PTS, in, to, tsRounding)
	pkt.DTS = rational.Rescale(pkt.DTS, in, to, tsRounding)
	pkt.Duration = rational.RescaleQ(pkt.Duration, in, to)
	pkt.Pos = -1
	return r.write(pkt, out)
}

func (r *muxRun) encodeFrame(re *reencoder) func(*media.Frame) error {
	write := r.writeEncoded(re)
	return func(f *media.Frame) error {
		r.p.stats.decoded.Add(1)
		return re.enc.Feed(f, write)
	}
}

// writeEncoded stamps an encoded packet with its output stream, the fixed
// per-frame duration and timestamps rescaled from the input time base.
func (r *muxRun) writeEncoded(re *reencoder) func(*media.Packet) error {
	return func(pkt *media.Packet) error {
		r.p.stats.encoded.Add(1)
		to := r.outTB[re.out]
		pkt.Duration = re.duration
		pkt.PTS = rational.Rescale(pkt.PTS, re.inTB, to, tsRounding)
		pkt.DTS = rational.Rescale(pkt.DTS, re.inTB, to, tsRounding)
		pkt.Pos = -1
		return r.write(pkt, re.out)
	}
}

// write hands pkt to the sink. Muxer rejections are logged and counted but
// do not stop the run.
func (r *muxRun) write(pkt *media.Packet, out int) error {
	err := r.snk.Write(pkt, out)
	if err == nil {
		r.p.stats.written.Add(1)
		return nil
	}
	var we *engine.WriteError
	if errors.As(err, &we) {
		r.p.stats.writeErrors.Add(1)
		r.log.Warn("write failed", "stream", out, "pts", pkt.PTS, "dts", pkt.DTS, "error", engine.Describe(err))
		return nil
	}
	return err
}

// finish flushes every encoder into the sink and closes the sink. Decoders
// are flushed first when the input ended cleanly so their trailing frames
// reach the encoder.
func (r *muxRun) finish(runErr error) error {
	var errs []error

	indexes := make([]int, 0, len(r.reenc))
	for i := range r.reenc {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		re := r.reenc[i]
		if r.snk.HeaderWritten() {
			if runErr == nil && re.dec.State() == codec.Open {
				if err := re.dec.Flush(r.encodeFrame(re)); err != nil {
					errs = append(errs, fmt.Errorf("flush decoder: %w", err))
				}
			}
			if re.enc.State() == codec.Open {
				if err := re.enc.Flush(r.writeEncoded(re)); err != nil {
					errs = append(errs, fmt.Errorf("flush encoder: %w", err))
				}
			}
		}
		errs = append(errs, re.dec.Close(), re.enc.Close())
	}

	errs = append(errs, r.snk.Close())

	st := r.p.Stats()
	r.log.Info("run finished",
		"read", st.PacketsRead,
		"written", st.PacketsWritten,
		"dropped", st.PacketsDropped,
		"read_errors", st.ReadErrors,
		"write_errors", st.WriteErrors,
		"decoded", st.FramesDecoded,
		"encoded", st.PacketsEncoded)
	if runErr != nil {
		r.log.Error("run stopped early", "error", engine.Describe(runErr))
	}
	return errors.Join(errs...)
}
