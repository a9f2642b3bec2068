package mpegts

import "sort"

const pidPAT = 0x0000

// pmtPIDs is the set of PIDs announced as PMT carriers by the PAT.
type pmtPIDs map[uint16]bool

// pidBuffer collects the packets of one PID until a unit boundary.
type pidBuffer struct {
	pid     uint16
	packets []*Packet
	pmts    pmtPIDs
}

// add buffers p and returns the packets of a completed unit, if any.
func (b *pidBuffer) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		b.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	// A continuity gap without the discontinuity indicator loses the
	// buffered unit; a repeated counter is a duplicate.
	if len(b.packets) > 0 && !p.Header.DiscontinuityIndicator {
		prev := b.packets[len(b.packets)-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil
			}
			b.packets = nil
		}
	}

	// A continuation with nothing buffered has lost its start.
	if !p.Header.PayloadUnitStartIndicator && len(b.packets) == 0 {
		return nil
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(b.packets) > 0 {
		done = b.packets
		b.packets = nil
	}
	b.packets = append(b.packets, p)

	if done == nil && b.isPSI() && sectionsComplete(b.packets) {
		done = b.packets
		b.packets = nil
	}
	return done
}

func (b *pidBuffer) isPSI() bool {
	return b.pid == pidPAT || b.pmts[b.pid]
}

func (b *pidBuffer) flush() []*Packet {
	done := b.packets
	b.packets = nil
	return done
}

// sectionsComplete reports whether the buffered payload holds every PSI
// section it started.
func sectionsComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return false
	}
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true
		}
		offset += 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if offset > len(payload) {
			return false
		}
	}
	return true
}

func joinPayloads(packets []*Packet) []byte {
	if len(packets) == 1 {
		return packets[0].Payload
	}
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// bufferSet holds one pidBuffer per PID.
type bufferSet struct {
	bufs map[uint16]*pidBuffer
	pmts pmtPIDs
}

func newBufferSet(pmts pmtPIDs) *bufferSet {
	return &bufferSet{bufs: make(map[uint16]*pidBuffer), pmts: pmts}
}

func (s *bufferSet) add(p *Packet) []*Packet {
	b, ok := s.bufs[p.Header.PID]
	if !ok {
		b = &pidBuffer{pid: p.Header.PID, pmts: s.pmts}
		s.bufs[p.Header.PID] = b
	}
	return b.add(p)
}

// drain returns every partial unit in PID order, PAT first.
func (s *bufferSet) drain() [][]*Packet {
	pids := make([]int, 0, len(s.bufs))
	for pid := range s.bufs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := s.bufs[uint16(pid)].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}
