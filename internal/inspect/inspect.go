// Package inspect scans an input container and reports its streams, packet
// counts and the caption channels carried in its video SEI.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
	"github.com/zsiec/avpipe/internal/source"
)

// DefaultMaxPackets bounds the scan when Run is given no limit.
const DefaultMaxPackets = 2000

// StreamReport describes one stream of the input.
type StreamReport struct {
	Index      int
	Kind       media.Kind
	Codec      string
	BitRate    int64
	Width      int
	Height     int
	SampleRate int
	Channels   int
	TimeBase   rational.Rational
	FrameRate  rational.Rational

	Packets   int64
	KeyFrames int64
	Bytes     int64

	// NALFormat is "annexb" or "length-prefixed" for H.264 and H.265
	// streams, and empty otherwise.
	NALFormat string

	// Captions lists the caption channels seen: 1-4 for CEA-608 CC1-CC4,
	// 7 and up for CEA-708 service n+6.
	Captions []int
}

// Report is the result of one scan.
type Report struct {
	Location   string
	Format     string
	Streams    []StreamReport
	Packets    int64
	ReadErrors int64

	// Truncated is set when the scan stopped at its packet limit before
	// the end of input.
	Truncated bool
}

// Run opens location on eng, probes it and reads up to maxPackets packets.
// maxPackets <= 0 uses DefaultMaxPackets.
func Run(ctx context.Context, eng engine.Engine, location string, maxPackets int, log *slog.Logger) (*Report, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "inspect")
	if maxPackets <= 0 {
		maxPackets = DefaultMaxPackets
	}

	src, err := source.Open(ctx, eng, location, log)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := src.Probe(); err != nil {
		return nil, err
	}

	streams := src.Streams()
	rep := &Report{
		Location: location,
		Format:   src.FormatName(),
		Streams:  make([]StreamReport, len(streams)),
	}
	scanners := make([]*captionScanner, len(streams))
	for i, st := range streams {
		p := st.Params
		rep.Streams[i] = StreamReport{
			Index:      st.Index,
			Kind:       p.Kind,
			Codec:      p.CodecID,
			BitRate:    p.BitRate,
			Width:      p.Width,
			Height:     p.Height,
			SampleRate: p.SampleRate,
			Channels:   p.Channels,
			TimeBase:   st.TimeBase,
			FrameRate:  src.GuessFrameRate(i),
		}
		if p.CodecID == "h264" || p.CodecID == "hevc" {
			scanners[i] = newCaptionScanner(p.CodecID == "hevc", p.Extradata)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rep.Packets >= int64(maxPackets) {
			rep.Truncated = true
			break
		}

		pkt, err := src.ReadNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var re *engine.ReadError
			if !errors.As(err, &re) {
				return nil, err
			}
			rep.ReadErrors++
			log.Warn("skipping corrupt packet", "error", err)
			continue
		}

		rep.Packets++
		if i := pkt.StreamIndex; i >= 0 && i < len(rep.Streams) {
			sr := &rep.Streams[i]
			sr.Packets++
			sr.Bytes += int64(len(pkt.Data))
			if pkt.KeyFrame {
				sr.KeyFrames++
			}
			if sc := scanners[i]; sc != nil {
				sc.scan(pkt.Data)
			}
		}
		pkt.Release()
	}

	for i, sc := range scanners {
		if sc == nil {
			continue
		}
		rep.Streams[i].NALFormat = sc.format
		rep.Streams[i].Captions = sc.channels()
	}

	log.Debug("scan finished", "packets", rep.Packets, "read_errors", rep.ReadErrors, "truncated", rep.Truncated)
	return rep, nil
}

// Write prints the report in a human-readable layout.
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Format %s | # Streams %d\n", r.Format, len(r.Streams))
	fmt.Fprintf(&b, "Location %s\n", r.Location)

	for _, s := range r.Streams {
		fmt.Fprintf(&b, "\nStream #%d:\n", s.Index)
		fmt.Fprintf(&b, "Codec %s, bit rate %d, time base %s\n", s.Codec, s.BitRate, s.TimeBase)
		switch s.Kind {
		case media.KindVideo:
			fmt.Fprintf(&b, "Video codec: resolution %d x %d", s.Width, s.Height)
			if !s.FrameRate.IsZero() {
				fmt.Fprintf(&b, ", frame rate %s", s.FrameRate)
			}
			b.WriteString("\n")
		case media.KindAudio:
			fmt.Fprintf(&b, "Audio codec: %d channels, sample rate %d\n", s.Channels, s.SampleRate)
		case media.KindSubtitle:
			b.WriteString("Subtitles track\n")
		default:
			fmt.Fprintf(&b, "%s track\n", s.Kind)
		}
		fmt.Fprintf(&b, "Packets %d, key frames %d, bytes %d\n", s.Packets, s.KeyFrames, s.Bytes)
		if s.NALFormat != "" {
			fmt.Fprintf(&b, "NAL format %s\n", s.NALFormat)
		}
		if len(s.Captions) > 0 {
			fmt.Fprintf(&b, "Captions %s\n", captionNames(s.Captions))
		}
	}

	if r.Truncated {
		fmt.Fprintf(&b, "\nScan stopped after %d packets\n", r.Packets)
	}
	if r.ReadErrors > 0 {
		fmt.Fprintf(&b, "Read errors %d\n", r.ReadErrors)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func captionNames(chs []int) string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		if ch <= 4 {
			names[i] = fmt.Sprintf("CC%d", ch)
		} else {
			names[i] = fmt.Sprintf("SERVICE%d", ch-6)
		}
	}
	return strings.Join(names, " ")
}
