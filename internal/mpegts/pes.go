package mpegts

import (
	"errors"
	"fmt"
)

var errNotPES = errors.New("mpegts: missing PES start code")

func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether a stream id carries the optional PES
// header (padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 E and the
// program stream directory do not).
func hasOptionalHeader(id byte) bool {
	switch id {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, errNotPES
	}

	pes := &PESData{StreamID: payload[3], PTS: -1, DTS: -1}
	length := int(payload[4])<<8 | int(payload[5])
	end := len(payload)
	if length > 0 && 6+length < end {
		end = 6 + length
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	flags := payload[7] >> 6
	start := 9 + int(payload[8])
	if start > end {
		start = end
	}
	switch flags {
	case 2:
		if len(payload) >= 14 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = pes.PTS
		}
	case 3:
		if len(payload) >= 19 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = parseTimestamp(payload[14:19])
		}
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp extracts a 33-bit timestamp from 5 PES bytes.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

// putTimestamp encodes a 33-bit timestamp with the 4-bit prefix marker.
func putTimestamp(b []byte, marker byte, ts int64) {
	ts &= 0x1FFFFFFFF
	b[0] = marker<<4 | byte(ts>>29)&0x0E | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14) | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1) | 0x01
}

// pesHeader builds a PES header for data of n bytes. Video streams, and
// any unit too large for the 16-bit length, use an unbounded length.
func pesHeader(streamID byte, pts, dts int64, n int) []byte {
	hdrData := 0
	flags := byte(0)
	if pts >= 0 {
		hdrData = 5
		flags = 0x80
		if dts >= 0 && dts != pts {
			hdrData = 10
			flags = 0xC0
		}
	}
	h := make([]byte, 9+hdrData)
	h[2] = 0x01
	h[3] = streamID
	length := 3 + hdrData + n
	if length > 0xFFFF || streamID&0xF0 == 0xE0 {
		length = 0
	}
	h[4] = byte(length >> 8)
	h[5] = byte(length)
	h[6] = 0x80 // marker bits
	if streamID&0xF0 == 0xE0 {
		h[6] |= 0x04 // data_alignment_indicator
	}
	h[7] = flags
	h[8] = byte(hdrData)
	switch flags {
	case 0x80:
		putTimestamp(h[9:], 0x2, pts)
	case 0xC0:
		putTimestamp(h[9:], 0x3, pts)
		putTimestamp(h[14:], 0x1, dts)
	}
	return h
}
