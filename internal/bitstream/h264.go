package bitstream

import (
	"fmt"

	"github.com/zsiec/avpipe/internal/rational"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALSlice = 1
	NALIDR   = 5
	NALSEI   = 6
	NALSPS   = 7
	NALPPS   = 8
	NALAUD   = 9
)

// SPS holds the fields of an H.264 sequence parameter set needed to
// describe a stream.
type SPS struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	ChromaFormat    int
	BitDepth        int

	// FrameRate comes from VUI timing info as time_scale / (2 *
	// num_units_in_tick). It is the zero Rational when absent.
	FrameRate rational.Rational
}

// CodecString returns the RFC 6381 codec string, e.g. "avc1.64001F".
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// PixelFormat names the decoded picture layout, e.g. "yuv420p".
func (s SPS) PixelFormat() string {
	return pixelFormat(s.ChromaFormat, s.BitDepth)
}

func pixelFormat(chroma, depth int) string {
	name := "yuv420p"
	switch chroma {
	case 0:
		name = "gray"
	case 2:
		name = "yuv422p"
	case 3:
		name = "yuv444p"
	}
	if depth > 8 {
		name += fmt.Sprintf("%dle", depth)
	}
	return name
}

// highProfile reports whether profile_idc carries chroma and bit depth
// fields in the SPS.
func highProfile(p uint) bool {
	switch p {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit, header byte included.
func ParseSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, ErrShort
	}
	br := newBitReader(unescape(nal[1:]))

	profile := br.u(8)
	s := SPS{
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(br.u(8)),
		LevelIDC:        byte(br.u(8)),
		ChromaFormat:    1,
		BitDepth:        8,
	}
	br.ue() // seq_parameter_set_id

	separatePlanes := false
	if highProfile(profile) {
		s.ChromaFormat = int(br.ue())
		if s.ChromaFormat == 3 {
			separatePlanes = br.u1() == 1
		}
		s.BitDepth = int(br.ue()) + 8
		br.ue()    // bit_depth_chroma_minus8
		br.skip(1) // qpprime_y_zero_transform_bypass_flag
		if br.u1() == 1 {
			lists := 8
			if s.ChromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if br.u1() == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(br, size)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() { // pic_order_cnt_type
	case 0:
		br.ue()
	case 1:
		br.skip(1)
		br.se()
		br.se()
		n := br.ue()
		for i := uint(0); i < n && br.err == nil; i++ {
			br.se()
		}
	}
	br.ue()    // max_num_ref_frames
	br.skip(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue() + 1
	heightUnits := br.ue() + 1
	frameMbsOnly := br.u1()
	if frameMbsOnly == 0 {
		br.skip(1) // mb_adaptive_frame_field_flag
	}
	br.skip(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if br.u1() == 1 {
		cropL, cropR, cropT, cropB = br.ue(), br.ue(), br.ue(), br.ue()
	}
	if br.err != nil {
		return SPS{}, br.err
	}

	subW, subH := uint(2), uint(2)
	chroma := s.ChromaFormat
	if separatePlanes {
		chroma = 0
	}
	switch chroma {
	case 0, 3:
		subW, subH = 1, 1
	case 2:
		subW, subH = 2, 1
	}
	cropUnitY := subH * (2 - frameMbsOnly)
	s.Width = int(widthMbs*16 - subW*(cropL+cropR))
	s.Height = int(heightUnits*16*(2-frameMbsOnly) - cropUnitY*(cropT+cropB))

	if br.u1() == 1 {
		s.FrameRate = parseVUITiming(br)
	}
	return s, nil
}

func skipScalingList(br *bitReader, size int) {
	last, next := 8, 8
	for j := 0; j < size && br.err == nil; j++ {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// parseVUITiming reads VUI parameters up to timing_info. A truncated VUI
// yields the zero Rational rather than an error.
func parseVUITiming(br *bitReader) rational.Rational {
	if br.u1() == 1 { // aspect_ratio_info_present_flag
		if br.u(8) == 255 {
			br.skip(32)
		}
	}
	if br.u1() == 1 { // overscan_info_present_flag
		br.skip(1)
	}
	if br.u1() == 1 { // video_signal_type_present_flag
		br.skip(4)
		if br.u1() == 1 {
			br.skip(24)
		}
	}
	if br.u1() == 1 { // chroma_loc_info_present_flag
		br.ue()
		br.ue()
	}
	if br.u1() == 0 || br.err != nil { // timing_info_present_flag
		return rational.Rational{}
	}
	unitsInTick := br.u(32)
	timeScale := br.u(32)
	if br.err != nil || unitsInTick == 0 || timeScale == 0 {
		return rational.Rational{}
	}
	fr, err := rational.New(int(timeScale), int(2*unitsInTick))
	if err != nil {
		return rational.Rational{}
	}
	return reduce(fr)
}

func reduce(r rational.Rational) rational.Rational {
	a, b := r.Num(), r.Den()
	if a < 0 {
		a = -a
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a <= 1 {
		return r
	}
	return rational.MustNew(r.Num()/a, r.Den()/a)
}
