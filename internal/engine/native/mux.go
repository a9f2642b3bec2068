package native

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/mpegts"
	"github.com/zsiec/avpipe/internal/rational"
)

// maxQueued bounds the interleaving queue. Past it the earliest packet is
// written even if some stream has nothing queued.
const maxQueued = 256

var errUnsupportedContainer = errors.New("the native engine only writes MPEG-TS")

type queued struct {
	pts, dts int64
	key      bool
	data     []byte
}

type muxStream struct {
	pid    uint16
	params media.CodecParameters
	queue  []queued
}

// muxer implements engine.Muxer for MPEG-TS output.
type muxer struct {
	log      *slog.Logger
	location string
	out      io.WriteCloser
	bw       *bufio.Writer
	ts       *mpegts.Muxer
	streams  []*muxStream
	queued   int
	header   bool
	trailer  bool
	closed   bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func createMuxer(location, formatHint string, log *slog.Logger) (*muxer, error) {
	if !isTSOutput(location, formatHint) {
		return nil, fmt.Errorf("create %s: %w", location, errUnsupportedContainer)
	}
	var out io.WriteCloser
	if location == "-" {
		out = nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(location)
		if err != nil {
			return nil, err
		}
		out = f
	}
	bw := bufio.NewWriterSize(out, 64*1024)
	return &muxer{
		log:      log,
		location: location,
		out:      out,
		bw:       bw,
		ts:       mpegts.NewMuxer(bw),
	}, nil
}

func isTSOutput(location, hint string) bool {
	switch strings.ToLower(hint) {
	case "mpegts", "ts":
		return true
	case "":
	default:
		return false
	}
	if location == "-" {
		return true
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".ts", ".m2ts", ".mts", ".trp":
		return true
	}
	return false
}

func (m *muxer) AddStream(tmpl media.Stream) (int, error) {
	if m.header {
		return -1, fmt.Errorf("%w: add stream after header", engine.ErrUsage)
	}
	st, ok := streamTypeForCodec(tmpl.Params.CodecID)
	if !ok {
		st, ok = sourceStreamType(tmpl)
	}
	if !ok {
		return -1, &engine.UnsupportedCodecError{Codec: tmpl.Params.CodecID, Direction: "muxer", Err: errUnsupportedContainer}
	}
	pid, err := m.ts.AddStream(st)
	if err != nil {
		return -1, err
	}
	m.streams = append(m.streams, &muxStream{pid: pid, params: tmpl.Params.Clone()})
	return len(m.streams) - 1, nil
}

// sourceStreamType recovers the PMT stream type of a stream read from a
// transport stream, so codecs this engine has no name for still pass
// through.
func sourceStreamType(tmpl media.Stream) (uint8, bool) {
	if es, ok := tmpl.Native.(mpegts.PMTStream); ok && es.StreamType != 0 {
		return es.StreamType, true
	}
	if tag := tmpl.Params.CodecTag; tag > 0 && tag <= 0xFF {
		return uint8(tag), true
	}
	return 0, false
}

func (m *muxer) NeedsGlobalHeader() bool { return false }

func (m *muxer) WriteHeader() error {
	if m.header {
		return fmt.Errorf("%w: header already written", engine.ErrUsage)
	}
	if len(m.streams) == 0 {
		return fmt.Errorf("%w: no streams", engine.ErrUsage)
	}
	m.header = true
	return nil
}

// TimeBase is 1/90000 for every stream.
func (m *muxer) TimeBase(int) rational.Rational { return timeBase }

// WritePacket queues a copy of pkt and writes packets in DTS order once
// every stream has one queued.
func (m *muxer) WritePacket(pkt *media.Packet) error {
	if !m.header || m.trailer {
		return fmt.Errorf("%w: write outside header and trailer", engine.ErrUsage)
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("no output stream %d", pkt.StreamIndex)
	}
	s := m.streams[pkt.StreamIndex]
	s.queue = append(s.queue, queued{
		pts:  pkt.PTS,
		dts:  pkt.DTS,
		key:  pkt.KeyFrame,
		data: append([]byte(nil), pkt.Data...),
	})
	m.queued++
	return m.interleave(false)
}

// interleave writes the earliest queued packet while every stream has one,
// the queue is over its bound, or flushAll is set.
func (m *muxer) interleave(flushAll bool) error {
	for m.queued > 0 {
		ready := flushAll || m.queued > maxQueued
		if !ready {
			ready = true
			for _, s := range m.streams {
				if len(s.queue) == 0 {
					ready = false
					break
				}
			}
		}
		if !ready {
			return nil
		}
		if err := m.writeEarliest(); err != nil {
			return err
		}
	}
	return nil
}

func (m *muxer) writeEarliest() error {
	var best *muxStream
	var bestTS int64
	for _, s := range m.streams {
		if len(s.queue) == 0 {
			continue
		}
		ts := orderKey(s.queue[0])
		if best == nil || rational.Compare(ts, timeBase, bestTS, timeBase) < 0 {
			best, bestTS = s, ts
		}
	}
	q := best.queue[0]
	best.queue[0] = queued{}
	best.queue = best.queue[1:]
	m.queued--
	return m.ts.WritePES(best.pid, wrap33(q.pts), wrap33(q.dts), q.key, q.data)
}

// orderKey is the DTS, falling back to PTS.
func orderKey(q queued) int64 {
	if q.dts != rational.NoPTS {
		return q.dts
	}
	return q.pts
}

// wrap33 maps a timestamp onto the 33-bit PES clock; unknown stays -1.
func wrap33(ts int64) int64 {
	if ts == rational.NoPTS {
		return -1
	}
	return ts & (1<<33 - 1)
}

func (m *muxer) WriteTrailer() error {
	if !m.header {
		return fmt.Errorf("%w: trailer without header", engine.ErrUsage)
	}
	if m.trailer {
		return nil
	}
	m.trailer = true
	if err := m.interleave(true); err != nil {
		return err
	}
	if err := m.bw.Flush(); err != nil {
		return err
	}
	m.log.Debug("mpegts written", "location", m.location, "bytes", m.ts.Written())
	return nil
}

func (m *muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.out.Close()
}
