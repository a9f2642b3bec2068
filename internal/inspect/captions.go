package inspect

import (
	"sort"

	"github.com/zsiec/ccx"

	"github.com/zsiec/avpipe/internal/bitstream"
)

// captionScanner records which caption channels appear in the A/53 cc_data
// of a video stream's SEI NAL units.
type captionScanner struct {
	hevc    bool
	sizeLen int
	format  string
	seen    map[int]bool
	dtvcc   []byte
}

func newCaptionScanner(hevc bool, extradata []byte) *captionScanner {
	return &captionScanner{
		hevc:    hevc,
		sizeLen: lengthSize(hevc, extradata),
		seen:    make(map[int]bool),
	}
}

func (c *captionScanner) scan(data []byte) {
	for _, nal := range c.splitNALs(data) {
		if c.hevc && nal.Type != bitstream.HEVCNALSEIPrefix {
			continue
		}
		if !c.hevc && nal.Type != bitstream.NALSEI {
			continue
		}
		cd := ccx.ExtractCaptions(nal.Data)
		if cd == nil {
			continue
		}

		for _, pair := range cd.CC608Pairs {
			// 0x80 0x80 is padding once parity is stripped.
			if pair.Data[0]&0x7F == 0 && pair.Data[1]&0x7F == 0 {
				continue
			}
			if pair.Channel >= 1 && pair.Channel <= 4 {
				c.seen[pair.Channel] = true
			}
		}

		for _, t := range cd.DTVCC {
			if t.Start {
				c.drainDTVCC()
				c.dtvcc = c.dtvcc[:0]
			}
			c.dtvcc = append(c.dtvcc, t.Data[0], t.Data[1])
		}
	}
}

func (c *captionScanner) drainDTVCC() {
	if len(c.dtvcc) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(c.dtvcc[0])
	if len(c.dtvcc) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(c.dtvcc[:size]) {
		if block.ServiceNum >= 1 {
			c.seen[block.ServiceNum+6] = true
		}
	}
}

func (c *captionScanner) channels() []int {
	c.drainDTVCC()
	c.dtvcc = nil
	return sortedKeys(c.seen)
}

// lengthSize returns the NAL length prefix size recorded in an avcC or
// hvcC configuration record, or 4 when extradata is not one.
func lengthSize(hevc bool, extradata []byte) int {
	if len(extradata) == 0 || extradata[0] != 1 {
		return 4
	}
	if hevc {
		if len(extradata) < 23 {
			return 4
		}
		return int(extradata[21]&0x03) + 1
	}
	if len(extradata) < 5 {
		return 4
	}
	return int(extradata[4]&0x03) + 1
}

func sortedKeys(m map[int]bool) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// splitNALs splits a video packet, deciding the framing on first use.
func (c *captionScanner) splitNALs(data []byte) []bitstream.NAL {
	if c.format == "" {
		if bitstream.IsAnnexB(data) {
			c.format = "annexb"
		} else {
			c.format = "length-prefixed"
		}
	}
	if c.format == "annexb" {
		return bitstream.SplitAnnexB(data, c.hevc)
	}
	return bitstream.SplitLengthPrefixed(data, c.sizeLen, c.hevc)
}
