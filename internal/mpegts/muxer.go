package mpegts

import (
	"errors"
	"fmt"
	"io"
)

const (
	muxPMTPID      = 0x1000
	muxFirstPID    = 0x100
	muxProgram     = 1
	muxMaxStreams  = 16
	tablesInterval = 40 // PES units between PAT/PMT repeats
)

// ErrStarted is returned by AddStream once data has been written.
var ErrStarted = errors.New("mpegts: muxer already started")

// Muxer writes a single-program transport stream. Streams are declared with
// AddStream before the first WritePES; PAT and PMT are written ahead of the
// first unit and repeated periodically.
type Muxer struct {
	w           io.Writer
	streams     []PMTStream
	streamIDs   map[uint16]byte
	cc          map[uint16]uint8
	pcrPID      uint16
	started     bool
	sinceTables int
	buf         [packetSize]byte
	written     int64
}

// NewMuxer returns a muxer writing packets to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{
		w:         w,
		streamIDs: make(map[uint16]byte),
		cc:        make(map[uint16]uint8),
	}
}

// AddStream declares an elementary stream and returns its PID. The first
// video stream carries the PCR, or the first stream when there is no video.
func (m *Muxer) AddStream(streamType uint8) (uint16, error) {
	if m.started {
		return 0, ErrStarted
	}
	if len(m.streams) >= muxMaxStreams {
		return 0, fmt.Errorf("mpegts: at most %d streams", muxMaxStreams)
	}
	pid := uint16(muxFirstPID + len(m.streams))
	var video, audio byte
	for _, st := range m.streams {
		switch {
		case isVideoType(st.StreamType):
			video++
		case isAudioType(st.StreamType):
			audio++
		}
	}
	switch {
	case isVideoType(streamType):
		m.streamIDs[pid] = 0xE0 + video
		if video == 0 {
			m.pcrPID = pid
		}
	case isAudioType(streamType):
		m.streamIDs[pid] = 0xC0 + audio
	default:
		m.streamIDs[pid] = 0xBD // private_stream_1
	}
	if len(m.streams) == 0 {
		m.pcrPID = pid
	}
	m.streams = append(m.streams, PMTStream{PID: pid, StreamType: streamType})
	return pid, nil
}

func isVideoType(t uint8) bool {
	return t == StreamTypeMPEG2Video || t == StreamTypeH264 || t == StreamTypeH265
}

func isAudioType(t uint8) bool {
	return t == StreamTypeMPEG1Audio || t == StreamTypeMPEG2Audio || t == StreamTypeAAC
}

// Written returns the number of bytes written so far.
func (m *Muxer) Written() int64 { return m.written }

// WritePES writes one access unit as a PES packet. pts and dts are 90 kHz
// values, negative when unknown. randomAccess marks the unit as a key frame.
func (m *Muxer) WritePES(pid uint16, pts, dts int64, randomAccess bool, data []byte) error {
	streamID, ok := m.streamIDs[pid]
	if !ok {
		return fmt.Errorf("mpegts: unknown PID 0x%04X", pid)
	}
	if len(m.streams) == 0 {
		return errors.New("mpegts: no streams")
	}
	if !m.started || m.sinceTables >= tablesInterval || (randomAccess && pid == m.pcrPID) {
		if err := m.writeTables(); err != nil {
			return err
		}
		m.started = true
		m.sinceTables = 0
	}
	m.sinceTables++

	pcr := int64(-1)
	if pid == m.pcrPID {
		switch {
		case dts >= 0:
			pcr = dts * 300
		case pts >= 0:
			pcr = pts * 300
		}
	}
	unit := append(pesHeader(streamID, pts, dts, len(data)), data...)
	return m.writeUnit(pid, unit, pcr, randomAccess)
}

func (m *Muxer) writeTables() error {
	if err := m.writeSection(pidPAT, buildPAT(1, muxProgram, muxPMTPID)); err != nil {
		return err
	}
	return m.writeSection(muxPMTPID, buildPMT(muxProgram, m.pcrPID, m.streams))
}

// writeSection writes a PSI section in one packet padded with 0xFF.
func (m *Muxer) writeSection(pid uint16, section []byte) error {
	pkt := m.buf[:]
	m.putHeader(pid, true, false)
	pkt[4] = 0x00 // pointer field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return m.flushPacket()
}

// writeUnit splits a PES packet across transport packets. The first packet
// carries the PCR and random access flag; the last is padded with
// adaptation field stuffing.
func (m *Muxer) writeUnit(pid uint16, unit []byte, pcr int64, randomAccess bool) error {
	first := true
	for len(unit) > 0 {
		var af []byte
		hasAF := false
		if first && (pcr >= 0 || randomAccess) {
			hasAF = true
			flags := byte(0)
			if randomAccess {
				flags |= 0x40
			}
			af = append(af, flags)
			if pcr >= 0 {
				af[0] |= 0x10
				var b [6]byte
				putPCR(b[:], pcr)
				af = append(af, b[:]...)
			}
		}

		space := packetSize - 4
		if hasAF {
			space -= 1 + len(af)
		}
		n := min(space, len(unit))
		if stuffing := space - n; stuffing > 0 {
			if !hasAF {
				hasAF = true
				stuffing-- // the length byte
				if stuffing > 0 {
					af = append(af, 0x00)
					stuffing--
				}
			}
			for ; stuffing > 0; stuffing-- {
				af = append(af, 0xFF)
			}
		}

		pkt := m.buf[:]
		m.putHeader(pid, first, hasAF)
		off := 4
		if hasAF {
			pkt[4] = byte(len(af))
			off += 1 + copy(pkt[5:], af)
		}
		copy(pkt[off:], unit[:n])
		if err := m.flushPacket(); err != nil {
			return err
		}
		unit = unit[n:]
		first = false
	}
	return nil
}

func (m *Muxer) putHeader(pid uint16, start, hasAF bool) {
	pkt := m.buf[:]
	pkt[0] = syncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if start {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | m.cc[pid]
	if hasAF {
		pkt[3] |= 0x20
	}
	m.cc[pid] = (m.cc[pid] + 1) & 0x0F
}

func (m *Muxer) flushPacket() error {
	n, err := m.w.Write(m.buf[:])
	m.written += int64(n)
	if err != nil {
		return fmt.Errorf("mpegts: write: %w", err)
	}
	return nil
}
