package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, want %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{PCR: -1}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	offset := 4
	if h.HasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 {
			flags := buf[offset+1]
			h.DiscontinuityIndicator = flags&0x80 != 0
			h.RandomAccessIndicator = flags&0x40 != 0
			if flags&0x10 != 0 && afLen >= 7 && offset+7 < packetSize {
				p.PCR = parsePCR(buf[offset+2 : offset+8])
			}
		}
		offset += 1 + afLen
		if offset > packetSize {
			offset = packetSize
		}
	}

	if h.HasPayload && offset < packetSize {
		p.Payload = make([]byte, packetSize-offset)
		copy(p.Payload, buf[offset:])
	}
	return p, nil
}

// parsePCR decodes the 6-byte program clock reference into 27 MHz units.
func parsePCR(b []byte) int64 {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4]>>7)
	ext := int64(b[4]&0x01)<<8 | int64(b[5])
	return base*300 + ext
}

// putPCR encodes a 27 MHz clock value into 6 bytes.
func putPCR(b []byte, pcr int64) {
	base := (pcr / 300) & 0x1FFFFFFFF
	ext := pcr % 300
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base<<7) | 0x7E | byte(ext>>8)
	b[5] = byte(ext)
}
