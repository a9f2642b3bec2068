//go:build ffmpeg

package ffmpeg

import (
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

type demuxer struct {
	ctx     context.Context
	fc      *astiav.FormatContext
	streams []media.Stream
	closed  bool
}

func (d *demuxer) FormatName() string {
	if f := d.fc.InputFormat(); f != nil {
		return f.Name()
	}
	return ""
}

func (d *demuxer) Probe() error {
	if err := d.fc.FindStreamInfo(nil); err != nil {
		return wrap("find stream info", err)
	}
	d.streams = nil
	return nil
}

func (d *demuxer) Streams() []media.Stream {
	if d.streams == nil {
		for i, s := range d.fc.Streams() {
			d.streams = append(d.streams, media.Stream{
				Index:        i,
				Params:       paramsOf(s.CodecParameters()),
				TimeBase:     toRational(s.TimeBase()),
				AvgFrameRate: toRational(s.AvgFrameRate()),
				Native:       s,
			})
		}
	}
	out := make([]media.Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

func (d *demuxer) GuessFrameRate(i int) rational.Rational {
	ss := d.fc.Streams()
	if i < 0 || i >= len(ss) {
		return rational.Rational{}
	}
	return toRational(d.fc.GuessFrameRate(ss[i], nil))
}

func (d *demuxer) ReadPacket() (*media.Packet, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	p := astiav.AllocPacket()
	if err := d.fc.ReadFrame(p); err != nil {
		p.Free()
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, wrap("read frame", err)
	}
	return packetOf(p), nil
}

// packetOf wraps p; releasing the result frees p.
func packetOf(p *astiav.Packet) *media.Packet {
	pkt := media.NewPacket(p.Free)
	pkt.StreamIndex = p.StreamIndex()
	pkt.PTS = p.Pts()
	pkt.DTS = p.Dts()
	pkt.Duration = p.Duration()
	pkt.Pos = p.Pos()
	pkt.KeyFrame = p.Flags().Has(astiav.PacketFlagKey)
	pkt.Data = p.Data()
	pkt.Native = p
	return pkt
}

// syncPacket copies the Go-side timing of pkt into its native packet, or
// builds a native packet from pkt's data when it has none. The returned
// packet is a new reference the caller must free.
func syncPacket(pkt *media.Packet) (*astiav.Packet, error) {
	out := astiav.AllocPacket()
	if src, ok := pkt.Native.(*astiav.Packet); ok && src != nil {
		if err := out.Ref(src); err != nil {
			out.Free()
			return nil, wrap("packet ref", err)
		}
	} else {
		if err := out.FromData(append([]byte(nil), pkt.Data...)); err != nil {
			out.Free()
			return nil, wrap("packet from data", err)
		}
		if pkt.KeyFrame {
			out.SetFlags(out.Flags().Add(astiav.PacketFlagKey))
		}
	}
	out.SetStreamIndex(pkt.StreamIndex)
	out.SetPts(pkt.PTS)
	out.SetDts(pkt.DTS)
	out.SetDuration(pkt.Duration)
	out.SetPos(pkt.Pos)
	return out, nil
}

func (d *demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.fc.CloseInput()
	d.fc.Free()
	return nil
}
