// Package mpegts reads and writes MPEG-2 transport streams. The demuxer
// discovers programs from PAT/PMT and reassembles PES payloads with their
// PTS/DTS; the muxer packs elementary stream units into a single-program
// stream with PCR and periodic tables.
package mpegts

// Stream types carried in the PMT (ISO/IEC 13818-1 Table 2-34 and ATSC).
const (
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivate    = 0x06
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
	StreamTypeAC3        = 0x81
	StreamTypeSCTE35     = 0x86
)

// ClockRate is the 90 kHz clock all PTS and DTS values are expressed in.
const ClockRate = 90000

// Packet is a parsed 188-byte transport stream packet.
type Packet struct {
	Header  PacketHeader
	PCR     int64 // -1 when absent; 27 MHz units
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is one logical unit from the demuxer. Exactly one of PAT, PMT,
// PES or Err is non-nil. Err reports a PES unit on PID that started with a
// start code but could not be parsed; the unit itself is dropped.
type DemuxerData struct {
	PID          uint16
	RandomAccess bool // set on the first TS packet of the unit
	PAT          *PATData
	PMT          *PMTData
	PES          *PESData
	Err          error
}

// PATData is a parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Programs          []PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PMTData is a parsed Program Map Table. Streams keep declaration order.
type PMTData struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []PMTStream
}

// PMTStream describes one elementary stream of a program.
type PMTStream struct {
	PID        uint16
	StreamType uint8
}

// PESData is a reassembled Packetized Elementary Stream packet. PTS and DTS
// are -1 when absent; when only PTS is present DTS equals PTS.
type PESData struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	Data     []byte
}

// PacketsParser intercepts the accumulated packets of one unit before the
// standard parsing. With skip set the demuxer drops the unit after
// returning ds.
type PacketsParser func(ps []*Packet) (ds []*DemuxerData, skip bool, err error)
