package bitstream

// NAL is one NAL unit of an Annex B stream. Data includes the NAL header
// and excludes the start code.
type NAL struct {
	Type byte
	Data []byte
}

// SplitAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
// hevc selects the two-byte H.265 header for the NAL type.
func SplitAnnexB(data []byte, hevc bool) []NAL {
	minLen := 1
	if hevc {
		minLen = 2
	}

	var starts, ends []int
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+3)
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				ends = append(ends, i)
				starts = append(starts, i+4)
				i += 4
				continue
			}
		}
		i++
	}

	var nals []NAL
	for k, start := range starts {
		end := len(data)
		if k+1 < len(ends) {
			end = ends[k+1]
		}
		if end-start < minLen {
			continue
		}
		nal := data[start:end]
		typ := nal[0] & 0x1F
		if hevc {
			typ = HEVCNALType(nal[0])
		}
		nals = append(nals, NAL{Type: typ, Data: nal})
	}
	return nals
}

// IsAnnexB reports whether data begins with a start code. Length-prefixed
// (AVCC/HVCC) payloads, as found in MP4 and Matroska, do not.
func IsAnnexB(data []byte) bool {
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1
}

// SplitLengthPrefixed splits an AVCC/HVCC payload whose NAL units carry a
// size prefix of sizeLen bytes. Trailing garbage stops the scan.
func SplitLengthPrefixed(data []byte, sizeLen int, hevc bool) []NAL {
	if sizeLen < 1 || sizeLen > 4 {
		return nil
	}
	var nals []NAL
	for len(data) >= sizeLen {
		n := 0
		for _, b := range data[:sizeLen] {
			n = n<<8 | int(b)
		}
		data = data[sizeLen:]
		if n <= 0 || n > len(data) {
			break
		}
		nal := data[:n]
		data = data[n:]
		typ := nal[0] & 0x1F
		if hevc {
			typ = HEVCNALType(nal[0])
		}
		nals = append(nals, NAL{Type: typ, Data: nal})
	}
	return nals
}
