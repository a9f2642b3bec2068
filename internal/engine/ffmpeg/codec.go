//go:build ffmpeg

package ffmpeg

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// codecErr maps FFmpeg's EAGAIN and EOF onto the engine contract.
func codecErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return engine.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	}
	return wrap(op, err)
}

type decoder struct {
	cc    *astiav.CodecContext
	sizes packetSizes // for the frame log
}

func newDecoder(st media.Stream) (*decoder, error) {
	cp, ok := st.Params.Native.(*astiav.CodecParameters)
	if !ok || cp == nil {
		return nil, &engine.UnsupportedCodecError{Codec: st.Params.CodecID, Direction: "decoder",
			Err: errors.New("stream parameters did not come from the ffmpeg engine")}
	}
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return nil, &engine.UnsupportedCodecError{Codec: st.Params.CodecID, Direction: "decoder"}
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc codec context failed")
	}
	if err := cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, wrap("codec parameters to context", err)
	}
	if st.TimeBase.Valid() {
		cc.SetTimeBase(fromRational(st.TimeBase))
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, &engine.UnsupportedCodecError{Codec: st.Params.CodecID, Direction: "decoder", Err: wrap("open decoder", err)}
	}
	return &decoder{cc: cc}, nil
}

func (d *decoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		return codecErr("send packet", d.cc.SendPacket(nil))
	}
	p, err := syncPacket(pkt)
	if err != nil {
		return err
	}
	defer p.Free()
	if err := codecErr("send packet", d.cc.SendPacket(p)); err != nil {
		return err
	}
	d.sizes.add(pkt.PTS, len(pkt.Data))
	return nil
}

func (d *decoder) ReceiveFrame() (*media.Frame, error) {
	f := astiav.AllocFrame()
	if err := d.cc.ReceiveFrame(f); err != nil {
		f.Free()
		err = codecErr("receive frame", err)
		if errors.Is(err, io.EOF) {
			d.sizes.reset()
		}
		return nil, err
	}

	frame := media.NewFrame(f.Free)
	frame.PTS = f.Pts()
	frame.Width = f.Width()
	frame.Height = f.Height()
	frame.Native = f
	if s := f.PictureType().String(); len(s) == 1 {
		frame.PictureType = s[0]
	}
	frame.KeyFrame = f.KeyFrame()
	if n, ok := d.sizes.take(frame.PTS); ok {
		frame.PacketSize = n
	}

	if frame.Width > 0 {
		frame.Format = f.PixelFormat().String()
		frame.SetPlaneLoader(func() ([][]byte, []int, error) { return lumaPlane(f) })
	} else {
		frame.SampleCount = f.NbSamples()
	}
	return frame, nil
}

// lumaPlane copies plane 0 of f out of the decoder's buffers. The stride is
// the copy's own line size, which drops the decoder's row padding.
func lumaPlane(f *astiav.Frame) ([][]byte, []int, error) {
	img, err := f.Data().GuessImageFormat()
	if err != nil {
		return nil, nil, wrap("frame image format", err)
	}
	if err := f.Data().ToImage(img); err != nil {
		return nil, nil, wrap("frame data", err)
	}
	switch v := img.(type) {
	case *image.YCbCr:
		return [][]byte{v.Y}, []int{v.YStride}, nil
	case *image.NYCbCrA:
		return [][]byte{v.Y}, []int{v.YStride}, nil
	case *image.Gray:
		return [][]byte{v.Pix}, []int{v.Stride}, nil
	}
	return nil, nil, fmt.Errorf("pixel format %s has no luma plane", f.PixelFormat())
}

func (d *decoder) Close() error {
	d.cc.Free()
	return nil
}

type encoder struct {
	cc     *astiav.CodecContext
	params *astiav.CodecParameters
	tb     rational.Rational
	codec  string
}

func newEncoder(cfg engine.EncoderConfig) (*encoder, error) {
	codec := astiav.FindEncoderByName(cfg.Codec)
	if codec == nil {
		return nil, &engine.UnsupportedCodecError{Codec: cfg.Codec, Direction: "encoder"}
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc codec context failed")
	}

	pixFmt := cfg.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	cc.SetWidth(cfg.Width)
	cc.SetHeight(cfg.Height)
	cc.SetPixelFormat(astiav.FindPixelFormatByName(pixFmt))
	cc.SetTimeBase(fromRational(cfg.TimeBase))
	if cfg.FrameRate.Valid() {
		cc.SetFramerate(fromRational(cfg.FrameRate))
	}
	if cfg.GlobalHeader {
		cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	set := func(k, v string) {
		if v != "" && v != "0" {
			_ = opts.Set(k, v, astiav.NewDictionaryFlags())
		}
	}
	set("b", strconv.FormatInt(cfg.BitRate, 10))
	set("bufsize", strconv.Itoa(cfg.RCBufferSize))
	set("maxrate", strconv.FormatInt(cfg.RCMaxRate, 10))
	set("minrate", strconv.FormatInt(cfg.RCMinRate, 10))
	set("g", strconv.Itoa(cfg.GOPSize))
	if cfg.PrivateKey != "" {
		set(cfg.PrivateKey, cfg.PrivateValue)
	}

	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, &engine.UnsupportedCodecError{Codec: cfg.Codec, Direction: "encoder", Err: wrap("open encoder", err)}
	}

	params := astiav.AllocCodecParameters()
	if err := params.FromCodecContext(cc); err != nil {
		params.Free()
		cc.Free()
		return nil, wrap("codec context to parameters", err)
	}
	return &encoder{cc: cc, params: params, tb: toRational(cc.TimeBase()), codec: cfg.Codec}, nil
}

func (e *encoder) SendFrame(f *media.Frame) error {
	if f == nil {
		return codecErr("send frame", e.cc.SendFrame(nil))
	}
	nf, ok := f.Native.(*astiav.Frame)
	if !ok || nf == nil {
		return fmt.Errorf("frame did not come from the ffmpeg engine")
	}
	nf.SetPts(f.PTS)
	nf.SetPictureType(astiav.PictureTypeNone)
	return codecErr("send frame", e.cc.SendFrame(nf))
}

func (e *encoder) ReceivePacket() (*media.Packet, error) {
	p := astiav.AllocPacket()
	if err := e.cc.ReceivePacket(p); err != nil {
		p.Free()
		return nil, codecErr("receive packet", err)
	}
	return packetOf(p), nil
}

func (e *encoder) Parameters() media.CodecParameters { return paramsOf(e.params) }

func (e *encoder) TimeBase() rational.Rational { return e.tb }

func (e *encoder) Close() error {
	e.params.Free()
	e.cc.Free()
	return nil
}
