package bitstream

import "errors"

// ErrBadADTS is returned for a malformed ADTS header.
var ErrBadADTS = errors.New("bitstream: invalid ADTS header")

var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTS is one parsed ADTS header.
type ADTS struct {
	Profile    int // audio object type minus one
	SampleRate int
	Channels   int
	HeaderLen  int
	FrameLen   int // header plus payload
}

// SamplesPerFrame is the AAC frame length in samples.
const SamplesPerFrame = 1024

// ParseADTS parses the ADTS header at the start of data.
func ParseADTS(data []byte) (ADTS, error) {
	if len(data) < 7 {
		return ADTS{}, ErrShort
	}
	if data[0] != 0xFF || data[1]&0xF0 != 0xF0 {
		return ADTS{}, ErrBadADTS
	}
	h := ADTS{HeaderLen: 7}
	if data[1]&0x01 == 0 {
		h.HeaderLen = 9
	}
	h.Profile = int(data[2] >> 6)
	idx := int(data[2]>>2) & 0x0F
	if idx >= len(adtsSampleRates) {
		return ADTS{}, ErrBadADTS
	}
	h.SampleRate = adtsSampleRates[idx]
	h.Channels = int(data[2]&0x01)<<2 | int(data[3]>>6)
	h.FrameLen = int(data[3]&0x03)<<11 | int(data[4])<<3 | int(data[5]>>5)
	if h.FrameLen < h.HeaderLen {
		return ADTS{}, ErrBadADTS
	}
	return h, nil
}

// SplitADTS splits an ADTS stream into frames, skipping bytes until a sync
// word. A truncated final frame is left out.
func SplitADTS(data []byte) ([]ADTS, [][]byte) {
	var headers []ADTS
	var frames [][]byte
	for off := 0; len(data)-off >= 7; {
		h, err := ParseADTS(data[off:])
		if err != nil {
			off++
			continue
		}
		if off+h.FrameLen > len(data) {
			break
		}
		headers = append(headers, h)
		frames = append(frames, data[off:off+h.FrameLen])
		off += h.FrameLen
	}
	return headers, frames
}

// AudioSpecificConfig builds the two-byte MPEG-4 AudioSpecificConfig for h,
// used as extradata for AAC streams.
func (h ADTS) AudioSpecificConfig() []byte {
	idx := 0
	for i, r := range adtsSampleRates {
		if r == h.SampleRate {
			idx = i
			break
		}
	}
	aot := h.Profile + 1
	return []byte{
		byte(aot<<3 | idx>>1),
		byte((idx&1)<<7 | h.Channels<<3),
	}
}
