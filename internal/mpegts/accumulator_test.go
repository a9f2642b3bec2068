package mpegts

import "testing"

func pkt(pid uint16, cc uint8, pusi bool) *Packet {
	return &Packet{
		Header:  PacketHeader{PID: pid, HasPayload: true, PayloadUnitStartIndicator: pusi, ContinuityCounter: cc},
		Payload: []byte{cc},
		PCR:     -1,
	}
}

func TestPIDBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		packets []*Packet
		want    int // packets in the unit flushed by the final packet
	}{
		{"start flushes previous", []*Packet{pkt(0x100, 0, true), pkt(0x100, 1, false), pkt(0x100, 2, true)}, 2},
		{"wraparound", []*Packet{pkt(0x100, 15, true), pkt(0x100, 0, false), pkt(0x100, 1, true)}, 2},
		{"gap drops unit", []*Packet{pkt(0x100, 0, true), pkt(0x100, 1, false), pkt(0x100, 5, false), pkt(0x100, 6, true)}, 0},
		{"duplicate ignored", []*Packet{pkt(0x100, 3, true), pkt(0x100, 3, false), pkt(0x100, 4, true)}, 1},
		{"continuation without start", []*Packet{pkt(0x100, 7, false), pkt(0x100, 8, true)}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &pidBuffer{pid: 0x100, pmts: pmtPIDs{}}
			var got []*Packet
			for _, p := range tt.packets {
				got = b.add(p)
			}
			if len(got) != tt.want {
				t.Errorf("got %d packets, want %d", len(got), tt.want)
			}
		})
	}
}

func TestPIDBufferSignalledDiscontinuity(t *testing.T) {
	t.Parallel()

	b := &pidBuffer{pid: 0x100, pmts: pmtPIDs{}}
	b.add(pkt(0x100, 0, true))
	b.add(pkt(0x100, 1, false))
	jump := pkt(0x100, 9, false)
	jump.Header.DiscontinuityIndicator = true
	b.add(jump)
	if got := b.add(pkt(0x100, 10, true)); len(got) != 3 {
		t.Errorf("got %d packets, want 3", len(got))
	}
}

func TestPIDBufferTransportError(t *testing.T) {
	t.Parallel()

	b := &pidBuffer{pid: 0x100, pmts: pmtPIDs{}}
	b.add(pkt(0x100, 0, true))
	bad := pkt(0x100, 1, false)
	bad.Header.TransportErrorIndicator = true
	b.add(bad)
	if got := b.add(pkt(0x100, 2, true)); got != nil {
		t.Errorf("got %d packets after TEI, want none", len(got))
	}
}

func TestPIDBufferCompletesPSI(t *testing.T) {
	t.Parallel()

	section := buildPAT(1, 1, 0x1000)
	p := &Packet{
		Header:  PacketHeader{PID: pidPAT, HasPayload: true, PayloadUnitStartIndicator: true},
		Payload: append([]byte{0}, section...),
	}
	b := &pidBuffer{pid: pidPAT, pmts: pmtPIDs{}}
	if got := b.add(p); len(got) != 1 {
		t.Errorf("complete PAT not flushed, got %d packets", len(got))
	}
}

func TestSectionsComplete(t *testing.T) {
	t.Parallel()

	section := buildPMT(1, 0x100, []PMTStream{{PID: 0x100, StreamType: StreamTypeH264}})
	full := append([]byte{0}, section...)
	if !sectionsComplete([]*Packet{{Payload: full}}) {
		t.Error("full section reported incomplete")
	}
	if sectionsComplete([]*Packet{{Payload: full[:10]}}) {
		t.Error("truncated section reported complete")
	}
	padded := append(append([]byte{}, full...), 0xFF, 0xFF)
	if !sectionsComplete([]*Packet{{Payload: padded}}) {
		t.Error("padded section reported incomplete")
	}
}

func TestBufferSetDrainOrder(t *testing.T) {
	t.Parallel()

	s := newBufferSet(pmtPIDs{})
	s.add(pkt(0x200, 0, true))
	s.add(pkt(0x100, 0, true))
	all := s.drain()
	if len(all) != 2 {
		t.Fatalf("got %d units, want 2", len(all))
	}
	if all[0][0].Header.PID != 0x100 {
		t.Errorf("first drained PID = 0x%X, want 0x100", all[0][0].Header.PID)
	}
	if len(s.drain()) != 0 {
		t.Error("second drain returned units")
	}
}
