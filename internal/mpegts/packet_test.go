package mpegts

import "testing"

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F)
	if pusi {
		buf[1] |= 0x40
	}
	n := copy(buf[4:], payload)
	for i := 4 + n; i < packetSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

func TestParsePacketHeader(t *testing.T) {
	t.Parallel()

	p, err := parsePacket(makePacket(0x1FFF, 5, true, []byte{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	if p.Header.PID != 0x1FFF {
		t.Errorf("PID = 0x%X, want 0x1FFF", p.Header.PID)
	}
	if p.Header.ContinuityCounter != 5 {
		t.Errorf("CC = %d, want 5", p.Header.ContinuityCounter)
	}
	if !p.Header.PayloadUnitStartIndicator || !p.Header.HasPayload {
		t.Errorf("header = %+v", p.Header)
	}
	if len(p.Payload) != 184 || p.Payload[0] != 1 {
		t.Errorf("payload len %d first %d", len(p.Payload), p.Payload[0])
	}
	if p.PCR != -1 {
		t.Errorf("PCR = %d, want -1", p.PCR)
	}
}

func TestParsePacketAdaptationField(t *testing.T) {
	t.Parallel()

	buf := makePacket(0x100, 0, true, nil)
	buf[3] = 0x30
	buf[4] = 7
	buf[5] = 0x80 | 0x40 | 0x10
	putPCR(buf[6:12], 27_000_000*10+123)

	p, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Header.DiscontinuityIndicator || !p.Header.RandomAccessIndicator {
		t.Errorf("flags = %+v", p.Header)
	}
	if p.PCR != 27_000_000*10+123 {
		t.Errorf("PCR = %d, want %d", p.PCR, 27_000_000*10+123)
	}
	if len(p.Payload) != packetSize-12 {
		t.Errorf("payload len = %d, want %d", len(p.Payload), packetSize-12)
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()

	if _, err := parsePacket(make([]byte, 100)); err == nil {
		t.Error("short packet accepted")
	}
	if _, err := parsePacket(make([]byte, packetSize)); err == nil {
		t.Error("bad sync byte accepted")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	for _, ts := range []int64{0, 1, 90000, 1<<32 + 17, 1<<33 - 1} {
		var b [5]byte
		putTimestamp(b[:], 0x2, ts)
		if got := parseTimestamp(b[:]); got != ts {
			t.Errorf("got %d, want %d", got, ts)
		}
	}
}

func FuzzParsePacket(f *testing.F) {
	pkt := makePacket(0, 0, true, nil)
	f.Add(pkt)
	af := makePacket(0x100, 0, false, nil)
	af[3] = 0x30
	af[4] = 0xB7
	f.Add(af)

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != packetSize {
			return
		}
		_, _ = parsePacket(data)
	})
}
