package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/avpipe/internal/bitstream"
	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/mpegts"
	"github.com/zsiec/avpipe/internal/rational"
)

var (
	errNoProgram = errors.New("no program map found")
	errNoStreams = errors.New("program has no elementary streams")
)

// timeBase is the 90 kHz clock of every transport stream.
var timeBase = rational.MustNew(1, mpegts.ClockRate)

// demuxer implements engine.Demuxer over an MPEG transport stream.
type demuxer struct {
	log        *slog.Logger
	rc         io.ReadCloser
	ts         *mpegts.Demuxer
	probeLimit int

	streams []media.Stream
	byPID   map[uint16]int
	known   []bool // stream parameters found
	extra   [][]byte

	queue  []*media.Packet
	probed bool
	eof    bool
	closed bool
}

func newDemuxer(ctx context.Context, rc io.ReadCloser, probeLimit int, log *slog.Logger) *demuxer {
	return &demuxer{
		log:        log,
		rc:         rc,
		ts:         mpegts.NewDemuxer(ctx, rc),
		probeLimit: probeLimit,
		byPID:      make(map[uint16]int),
	}
}

// readProgram reads until the first PMT and builds the stream list from it
// in declaration order. Earlier PES units cannot be attributed and are
// dropped.
func (d *demuxer) readProgram() error {
	for units := 0; units < d.probeLimit; {
		data, err := d.ts.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if data.PES != nil {
			units++
			continue
		}
		if data.PMT == nil {
			continue
		}
		if len(data.PMT.Streams) == 0 {
			return errNoStreams
		}
		for i, es := range data.PMT.Streams {
			kind, codec := codecForStreamType(es.StreamType)
			d.streams = append(d.streams, media.Stream{
				Index:    i,
				Params:   media.CodecParameters{Kind: kind, CodecID: codec, CodecTag: uint32(es.StreamType)},
				TimeBase: timeBase,
				Native:   es,
			})
			d.byPID[es.PID] = i
		}
		d.known = make([]bool, len(d.streams))
		d.extra = make([][]byte, len(d.streams))
		d.log.Debug("program map", "program", data.PMT.ProgramNumber, "streams", len(d.streams), "pcr_pid", data.PMT.PCRPID)
		return nil
	}
	return errNoProgram
}

func (d *demuxer) FormatName() string { return "mpegts" }

// Probe scans ahead until every audio and video stream has its parameters
// or the probe budget runs out. Scanned packets are queued for ReadPacket.
func (d *demuxer) Probe() error {
	if d.probed {
		return nil
	}
	d.probed = true
	for units := 0; units < d.probeLimit && !d.allKnown(); units++ {
		pkt, err := d.next()
		if errors.Is(err, io.EOF) {
			break
		}
		var re *engine.ReadError
		if errors.As(err, &re) {
			d.log.Warn("skipping corrupt unit while probing", "error", err)
			continue
		}
		if err != nil {
			return err
		}
		d.queue = append(d.queue, pkt)
	}
	for i, st := range d.streams {
		if !d.known[i] && (st.Params.Kind == media.KindVideo || st.Params.Kind == media.KindAudio) {
			d.log.Warn("stream parameters not found", "index", i, "codec", st.Params.CodecID)
		}
	}
	return nil
}

func (d *demuxer) allKnown() bool {
	for i, st := range d.streams {
		if !d.known[i] && (st.Params.Kind == media.KindVideo || st.Params.Kind == media.KindAudio) {
			return false
		}
	}
	return true
}

func (d *demuxer) Streams() []media.Stream {
	out := make([]media.Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// GuessFrameRate returns the SPS timing of a video stream.
func (d *demuxer) GuessFrameRate(i int) rational.Rational {
	if i < 0 || i >= len(d.streams) {
		return rational.Rational{}
	}
	return d.streams[i].AvgFrameRate
}

func (d *demuxer) ReadPacket() (*media.Packet, error) {
	if d.closed {
		return nil, fmt.Errorf("%w: read after close", engine.ErrUsage)
	}
	if len(d.queue) > 0 {
		pkt := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		return pkt, nil
	}
	return d.next()
}

// next returns the next PES unit of a mapped stream as a packet.
func (d *demuxer) next() (*media.Packet, error) {
	if d.eof {
		return nil, io.EOF
	}
	for {
		data, err := d.ts.Next()
		if errors.Is(err, io.EOF) {
			d.eof = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		idx, ok := d.byPID[data.PID]
		if !ok {
			continue
		}
		if data.Err != nil {
			return nil, &engine.ReadError{Err: fmt.Errorf("stream %d pid 0x%04X: %w", idx, data.PID, data.Err)}
		}
		if data.PES == nil {
			continue
		}
		return d.packet(idx, data), nil
	}
}

func (d *demuxer) packet(idx int, data *mpegts.DemuxerData) *media.Packet {
	st := &d.streams[idx]
	pes := data.PES

	pkt := media.NewPacket(nil)
	pkt.StreamIndex = idx
	pkt.Data = pes.Data
	pkt.Pos = (d.ts.Packets() - 1) * 188
	if pes.PTS >= 0 {
		pkt.PTS = pes.PTS
	}
	if pes.DTS >= 0 {
		pkt.DTS = pes.DTS
	}
	pkt.KeyFrame = data.RandomAccess || st.Params.Kind != media.KindVideo

	switch st.Params.CodecID {
	case "h264":
		d.inspectH264(idx, pkt)
	case "hevc":
		d.inspectHEVC(idx, pkt)
	case "aac":
		d.inspectAAC(idx, pkt)
	default:
		d.known[idx] = true
	}
	if st.Params.Kind == media.KindVideo && st.AvgFrameRate.Valid() && !st.AvgFrameRate.IsZero() && pkt.Duration == 0 {
		if inv, err := st.AvgFrameRate.Inverse(); err == nil {
			pkt.Duration = rational.RescaleQ(1, inv, timeBase)
		}
	}
	return pkt
}

func (d *demuxer) inspectH264(idx int, pkt *media.Packet) {
	st := &d.streams[idx]
	for _, nal := range bitstream.SplitAnnexB(pkt.Data, false) {
		switch nal.Type {
		case bitstream.NALIDR:
			pkt.KeyFrame = true
		case bitstream.NALSPS:
			if d.known[idx] {
				continue
			}
			sps, err := bitstream.ParseSPS(nal.Data)
			if err != nil {
				d.log.Debug("bad SPS", "index", idx, "error", err)
				continue
			}
			st.Params.Width, st.Params.Height = sps.Width, sps.Height
			st.Params.PixelFormat = sps.PixelFormat()
			if sps.FrameRate.Valid() {
				st.AvgFrameRate = sps.FrameRate
			}
			d.extra[idx] = appendNAL(nil, nal.Data)
		case bitstream.NALPPS:
			if !d.known[idx] && d.extra[idx] != nil {
				st.Params.Extradata = appendNAL(d.extra[idx], nal.Data)
				d.known[idx] = true
			}
		}
	}
}

func (d *demuxer) inspectHEVC(idx int, pkt *media.Packet) {
	st := &d.streams[idx]
	for _, nal := range bitstream.SplitAnnexB(pkt.Data, true) {
		switch {
		case bitstream.IsHEVCKeyframe(nal.Type):
			pkt.KeyFrame = true
		case nal.Type == bitstream.HEVCNALVPS && !d.known[idx]:
			d.extra[idx] = appendNAL(nil, nal.Data)
		case nal.Type == bitstream.HEVCNALSPS && !d.known[idx]:
			sps, err := bitstream.ParseHEVCSPS(nal.Data)
			if err != nil {
				d.log.Debug("bad SPS", "index", idx, "error", err)
				continue
			}
			st.Params.Width, st.Params.Height = sps.Width, sps.Height
			st.Params.PixelFormat = sps.PixelFormat()
			d.extra[idx] = appendNAL(d.extra[idx], nal.Data)
		case nal.Type == bitstream.HEVCNALPPS && !d.known[idx] && st.Params.Width > 0:
			st.Params.Extradata = appendNAL(d.extra[idx], nal.Data)
			d.known[idx] = true
		}
	}
}

func (d *demuxer) inspectAAC(idx int, pkt *media.Packet) {
	st := &d.streams[idx]
	headers, _ := bitstream.SplitADTS(pkt.Data)
	if len(headers) == 0 {
		return
	}
	h := headers[0]
	if !d.known[idx] {
		st.Params.SampleRate = h.SampleRate
		st.Params.Channels = h.Channels
		st.Params.SampleFormat = "fltp"
		st.Params.Extradata = h.AudioSpecificConfig()
		d.known[idx] = true
	}
	pkt.Duration = rational.RescaleQ(int64(len(headers)*bitstream.SamplesPerFrame), rational.MustNew(1, h.SampleRate), timeBase)
}

func appendNAL(dst, nal []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return append(dst, nal...)
}

func (d *demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for _, pkt := range d.queue {
		pkt.Release()
	}
	d.queue = nil
	return d.rc.Close()
}
