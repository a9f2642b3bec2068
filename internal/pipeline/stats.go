package pipeline

import "sync/atomic"

// Stats are the run counters. They may be read while Run is in progress.
type Stats struct {
	PacketsRead    int64
	PacketsWritten int64
	PacketsDropped int64
	ReadErrors     int64
	WriteErrors    int64
	FramesDecoded  int64
	PacketsEncoded int64
}

type counters struct {
	read        atomic.Int64
	written     atomic.Int64
	dropped     atomic.Int64
	readErrors  atomic.Int64
	writeErrors atomic.Int64
	decoded     atomic.Int64
	encoded     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsRead:    c.read.Load(),
		PacketsWritten: c.written.Load(),
		PacketsDropped: c.dropped.Load(),
		ReadErrors:     c.readErrors.Load(),
		WriteErrors:    c.writeErrors.Load(),
		FramesDecoded:  c.decoded.Load(),
		PacketsEncoded: c.encoded.Load(),
	}
}
