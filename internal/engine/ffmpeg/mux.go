//go:build ffmpeg

package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

type muxer struct {
	fc       *astiav.FormatContext
	location string
	io       *astiav.IOContext
	streams  []*astiav.Stream
	header   bool
	closed   bool
}

func (m *muxer) AddStream(tmpl media.Stream) (int, error) {
	if m.header {
		return -1, fmt.Errorf("%w: add stream after header", engine.ErrUsage)
	}
	src, ok := tmpl.Params.Native.(*astiav.CodecParameters)
	if !ok || src == nil {
		return -1, errors.New("stream parameters did not come from the ffmpeg engine")
	}
	s := m.fc.NewStream(nil)
	if s == nil {
		return -1, errors.New("new stream failed")
	}
	if err := src.Copy(s.CodecParameters()); err != nil {
		return -1, wrap("copy codec parameters", err)
	}
	s.CodecParameters().SetCodecTag(0)
	if tmpl.TimeBase.Valid() {
		s.SetTimeBase(fromRational(tmpl.TimeBase))
	}
	m.streams = append(m.streams, s)
	return len(m.streams) - 1, nil
}

func (m *muxer) NeedsGlobalHeader() bool {
	return m.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)
}

func (m *muxer) WriteHeader() error {
	if m.header {
		return fmt.Errorf("%w: header already written", engine.ErrUsage)
	}
	if !m.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioc, err := astiav.OpenIOContext(m.location, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return wrap("open io context", err)
		}
		m.io = ioc
		m.fc.SetPb(ioc)
	}
	if err := m.fc.WriteHeader(nil); err != nil {
		return wrap("write header", err)
	}
	m.header = true
	return nil
}

// TimeBase reads the time base the muxer settled on in WriteHeader.
func (m *muxer) TimeBase(i int) rational.Rational {
	if i < 0 || i >= len(m.streams) {
		return rational.Rational{}
	}
	return toRational(m.streams[i].TimeBase())
}

// WritePacket writes a new reference to pkt, leaving pkt to its owner.
func (m *muxer) WritePacket(pkt *media.Packet) error {
	if !m.header {
		return fmt.Errorf("%w: write before header", engine.ErrUsage)
	}
	p, err := syncPacket(pkt)
	if err != nil {
		return err
	}
	defer p.Free()
	return wrap("write frame", m.fc.WriteInterleavedFrame(p))
}

func (m *muxer) WriteTrailer() error {
	if !m.header {
		return fmt.Errorf("%w: trailer without header", engine.ErrUsage)
	}
	return wrap("write trailer", m.fc.WriteTrailer())
}

func (m *muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.io != nil {
		err = wrap("close io context", m.io.Close())
	}
	m.fc.Free()
	return err
}
