package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errShortSection = errors.New("mpegts: section too short")

// parsePSI parses every PAT and PMT section in a PSI payload that starts
// with a pointer field. Other tables are skipped.
func parsePSI(payload []byte, pid uint16) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, errShortSection
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field %d out of range", payload[0])
	}

	var out []*DemuxerData
	for offset+3 <= len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF || payload[offset+1]&0x80 == 0 {
			break
		}
		end := offset + 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if end > len(payload) {
			break
		}
		section := payload[offset:end]
		offset = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{PID: pid, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{PID: pid, PMT: pmt})
		}
	}
	return out, nil
}

// parsePAT parses one PAT section including its CRC.
func parsePAT(section []byte) (*PATData, error) {
	if len(section) < 12 {
		return nil, errShortSection
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}

	pat := &PATData{TransportStreamID: uint16(section[3])<<8 | uint16(section[4])}
	for i := 8; i+4 <= len(section)-4; i += 4 {
		program := uint16(section[i])<<8 | uint16(section[i+1])
		if program == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, PATProgram{
			ProgramNumber: program,
			PMTPID:        uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return pat, nil
}

// parsePMT parses one PMT section including its CRC.
func parsePMT(section []byte) (*PMTData, error) {
	if len(section) < 16 {
		return nil, errShortSection
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}

	pmt := &PMTData{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	end := len(section) - 4
	offset := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	for offset+5 <= end {
		pmt.Streams = append(pmt.Streams, PMTStream{
			StreamType: section[offset],
			PID:        uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		})
		offset += 5 + (int(section[offset+3]&0x0F)<<8 | int(section[offset+4]))
	}
	return pmt, nil
}

// buildPAT returns a PAT section for a single program, CRC included.
func buildPAT(tsID, program, pmtPID uint16) []byte {
	s := []byte{
		tableIDPAT, 0xB0, 13,
		byte(tsID >> 8), byte(tsID),
		0xC1, 0x00, 0x00,
		byte(program >> 8), byte(program),
		0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	return appendCRC32(s)
}

// buildPMT returns a PMT section for streams, CRC included.
func buildPMT(program, pcrPID uint16, streams []PMTStream) []byte {
	length := 13 + 5*len(streams)
	s := []byte{
		tableIDPMT, 0xB0 | byte(length>>8), byte(length),
		byte(program >> 8), byte(program),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00,
	}
	for _, st := range streams {
		s = append(s, st.StreamType, 0xE0|byte(st.PID>>8), byte(st.PID), 0xF0, 0x00)
	}
	return appendCRC32(s)
}
