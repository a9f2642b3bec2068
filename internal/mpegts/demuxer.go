package mpegts

import (
	"bufio"
	"context"
	"errors"
	"io"
)

// maxResync bounds how many bytes the demuxer skips looking for the sync
// byte before giving up on the input.
const maxResync = 64 * packetSize

// ErrNoSync is returned when no transport stream sync can be found.
var ErrNoSync = errors.New("mpegts: lost sync")

// Demuxer reads transport stream packets and returns PAT, PMT and PES units
// in stream order.
type Demuxer struct {
	ctx     context.Context
	r       *bufio.Reader
	buf     [packetSize]byte
	bufs    *bufferSet
	pmts    pmtPIDs
	pending []*DemuxerData
	parser  PacketsParser
	eof     bool
	packets int64
}

// DemuxerOption configures a Demuxer.
type DemuxerOption func(*Demuxer)

// WithPacketsParser installs a parser that sees each unit first.
func WithPacketsParser(p PacketsParser) DemuxerOption {
	return func(d *Demuxer) { d.parser = p }
}

// NewDemuxer creates a demuxer reading from r. The context is checked
// between packets.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...DemuxerOption) *Demuxer {
	pmts := make(pmtPIDs)
	d := &Demuxer{
		ctx:  ctx,
		r:    bufio.NewReaderSize(r, 64*packetSize),
		pmts: pmts,
		bufs: newBufferSet(pmts),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Packets returns the number of transport packets read so far.
func (d *Demuxer) Packets() int64 { return d.packets }

// Next returns the next unit. At end of input the partial units still
// buffered are returned, then io.EOF.
func (d *Demuxer) Next() (*DemuxerData, error) {
	for {
		if len(d.pending) > 0 {
			next := d.pending[0]
			d.pending = d.pending[1:]
			return next, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		err := d.readPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.eof = true
			for _, packets := range d.bufs.drain() {
				d.process(packets)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		pkt, err := parsePacket(d.buf[:])
		if err != nil {
			continue
		}
		if done := d.bufs.add(pkt); done != nil {
			d.process(done)
		}
	}
}

// readPacket fills d.buf with the next packet, resynchronising on the sync
// byte when the input is misaligned.
func (d *Demuxer) readPacket() error {
	skipped := 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if b == syncByte {
			// Mid-stream the packet must be followed by another sync
			// byte; the last packet of the input is taken as is.
			if next, err := d.r.Peek(packetSize); err == nil && next[packetSize-1] != syncByte {
				skipped++
				if skipped > maxResync {
					return ErrNoSync
				}
				continue
			}
			d.buf[0] = b
			if _, err := io.ReadFull(d.r, d.buf[1:]); err != nil {
				return err
			}
			d.packets++
			return nil
		}
		skipped++
		if skipped > maxResync {
			return ErrNoSync
		}
	}
}

// process turns one unit's packets into demuxer data. Corrupt units are
// dropped.
func (d *Demuxer) process(packets []*Packet) {
	if d.parser != nil {
		ds, skip, err := d.parser(packets)
		if err != nil {
			return
		}
		if skip {
			d.pending = append(d.pending, ds...)
			return
		}
	}

	first := packets[0]
	pid := first.Header.PID
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return
	}

	if pid == pidPAT || d.pmts[pid] {
		results, _ := parsePSI(payload, pid)
		for _, r := range results {
			if r.PAT != nil {
				for _, p := range r.PAT.Programs {
					d.pmts[p.PMTPID] = true
				}
			}
		}
		d.pending = append(d.pending, results...)
		return
	}

	if !isPESPayload(payload) {
		return
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.pending = append(d.pending, &DemuxerData{PID: pid, Err: err})
		return
	}
	d.pending = append(d.pending, &DemuxerData{
		PID:          pid,
		RandomAccess: first.Header.RandomAccessIndicator,
		PES:          pes,
	})
}
