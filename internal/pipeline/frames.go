package pipeline

import (
	"context"
	"fmt"

	"github.com/zsiec/avpipe/internal/codec"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/source"
)

// runFrames decodes the first video stream and hands every frame to the
// configured FrameSink, stopping after FrameCount video packets. The
// decoder is flushed only when the input ends before the budget is spent.
func (p *Pipeline) runFrames(ctx context.Context, src *source.Source) (err error) {
	if p.cfg.Frames == nil {
		return fmt.Errorf("frames: no frame sink configured")
	}
	streams := src.Streams()
	video := firstVideo(streams)
	if video < 0 {
		return fmt.Errorf("frames %s: no video stream", src.Location())
	}

	dec, err := codec.OpenDecoder(p.eng, streams[video], p.log)
	if err != nil {
		return err
	}
	defer func() { err = joinErr(err, dec.Close()) }()

	emit := func(f *media.Frame) error {
		p.stats.decoded.Add(1)
		p.log.Info("frame",
			"seq", f.Seq,
			"type", string(f.PictureType),
			"size", f.PacketSize,
			"pts", f.PTS,
			"key_frame", f.KeyFrame)
		return p.cfg.Frames.WriteFrame(f)
	}

	budget := p.cfg.FrameCount
	processed := 0
	err = p.readLoop(ctx, src, func(pkt *media.Packet) (bool, error) {
		if pkt.StreamIndex != video {
			p.stats.dropped.Add(1)
			return true, nil
		}
		p.log.Debug("packet", "pts", pkt.PTS, "size", len(pkt.Data))
		if err := dec.Feed(pkt, emit); err != nil {
			return false, err
		}
		processed++
		return budget <= 0 || processed < budget, nil
	})
	if err != nil {
		return err
	}

	if budget <= 0 || processed < budget {
		if err := dec.Flush(emit); err != nil {
			return err
		}
	}
	p.log.Info("frames finished", "packets", processed, "frames", dec.Frames())
	return nil
}
