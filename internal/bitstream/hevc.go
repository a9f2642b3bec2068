package bitstream

import "fmt"

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
	HEVCNALSEISuffix = 40
)

// HEVCNALType extracts the type from the first byte of an H.265 NAL header.
func HEVCNALType(b byte) byte { return (b >> 1) & 0x3F }

// IsHEVCKeyframe reports whether t is a random access point (BLA, IDR, CRA).
func IsHEVCKeyframe(t byte) bool { return t >= HEVCNALBlaWLP && t <= HEVCNALCraNut }

// HEVCSPS holds the fields of an H.265 sequence parameter set needed to
// describe a stream.
type HEVCSPS struct {
	Width        int
	Height       int
	ProfileIDC   byte
	TierFlag     byte
	LevelIDC     byte
	ChromaFormat int
	BitDepth     int
}

// PixelFormat names the decoded picture layout.
func (s HEVCSPS) PixelFormat() string { return pixelFormat(s.ChromaFormat, s.BitDepth) }

// Profile names the general profile, e.g. "Main 10".
func (s HEVCSPS) Profile() string {
	switch s.ProfileIDC {
	case 1:
		return "Main"
	case 2:
		return "Main 10"
	case 3:
		return "Main Still Picture"
	case 4:
		return "Rext"
	default:
		return fmt.Sprintf("profile %d", s.ProfileIDC)
	}
}

// ParseHEVCSPS parses an H.265 SPS NAL unit, two-byte header included.
func ParseHEVCSPS(nal []byte) (HEVCSPS, error) {
	if len(nal) < 4 {
		return HEVCSPS{}, ErrShort
	}
	br := newBitReader(unescape(nal[2:]))

	br.skip(4) // sps_video_parameter_set_id
	subLayers := br.u(3)
	br.skip(1) // sps_temporal_id_nesting_flag

	var s HEVCSPS
	br.skip(2) // general_profile_space
	s.TierFlag = byte(br.u1())
	s.ProfileIDC = byte(br.u(5))
	br.skip(32) // general_profile_compatibility_flags
	br.skip(48) // general constraint flags
	s.LevelIDC = byte(br.u(8))

	if subLayers > 0 {
		profilePresent := make([]bool, subLayers)
		levelPresent := make([]bool, subLayers)
		for i := range profilePresent {
			profilePresent[i] = br.u1() == 1
			levelPresent[i] = br.u1() == 1
		}
		for i := subLayers; i < 8; i++ {
			br.skip(2)
		}
		for i := range profilePresent {
			if profilePresent[i] {
				br.skip(88)
			}
			if levelPresent[i] {
				br.skip(8)
			}
		}
	}

	br.ue() // sps_seq_parameter_set_id
	s.ChromaFormat = int(br.ue())
	if s.ChromaFormat == 3 {
		br.skip(1)
	}
	s.Width = int(br.ue())
	s.Height = int(br.ue())
	if br.err != nil {
		return HEVCSPS{}, br.err
	}

	if br.u1() == 1 { // conformance_window_flag
		l, r, t, b := br.ue(), br.ue(), br.ue(), br.ue()
		subW, subH := uint(1), uint(1)
		switch s.ChromaFormat {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW, subH = 2, 1
		}
		if br.err == nil {
			s.Width -= int((l + r) * subW)
			s.Height -= int((t + b) * subH)
		}
	}
	s.BitDepth = int(br.ue()) + 8
	if br.err != nil {
		s.BitDepth = 8
	}
	return s, nil
}
