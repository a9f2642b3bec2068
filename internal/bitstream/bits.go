// Package bitstream parses the codec headers the native engine needs to
// describe streams without decoding them: H.264 and H.265 sequence
// parameter sets, Annex B NAL framing and AAC ADTS headers.
package bitstream

import "errors"

// ErrShort is returned when a header ends before a required field.
var ErrShort = errors.New("bitstream: data too short")

// bitReader reads MSB-first bit fields. The first read past the end sets
// err; later reads return zero so parsers can check once per section.
type bitReader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) u1() uint { return br.u(1) }

func (br *bitReader) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if br.err != nil {
			return 0
		}
		if br.pos >= len(br.data) {
			br.err = ErrShort
			return 0
		}
		v = v<<1 | uint(br.data[br.pos]>>(7-br.bit)&1)
		br.bit++
		if br.bit == 8 {
			br.bit = 0
			br.pos++
		}
	}
	return v
}

// ue reads an unsigned Exp-Golomb code.
func (br *bitReader) ue() uint {
	zeros := 0
	for br.u1() == 0 {
		if br.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			br.err = ErrShort
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + br.u(zeros)
}

// se reads a signed Exp-Golomb code.
func (br *bitReader) se() int {
	v := br.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (br *bitReader) skip(n int) { br.u(n) }

// unescape strips emulation prevention bytes (00 00 03 -> 00 00).
func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
