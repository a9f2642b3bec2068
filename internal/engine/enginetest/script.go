package enginetest

import (
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/rational"
)

// VideoStream returns a video stream template.
func VideoStream(index int, codec string, tb rational.Rational, w, h int) media.Stream {
	return media.Stream{
		Index: index,
		Params: media.CodecParameters{
			Kind:      media.KindVideo,
			CodecID:   codec,
			Width:     w,
			Height:    h,
			Extradata: []byte{0, 0, 0, 1, 0x67, byte(index)},
		},
		TimeBase: tb,
	}
}

// AudioStream returns an audio stream template.
func AudioStream(index int, codec string, tb rational.Rational, rate, channels int) media.Stream {
	return media.Stream{
		Index: index,
		Params: media.CodecParameters{
			Kind:       media.KindAudio,
			CodecID:    codec,
			SampleRate: rate,
			Channels:   channels,
			Extradata:  []byte{0x12, 0x10},
		},
		TimeBase: tb,
	}
}

// Interleave builds n packets cycling over streams in order. Each stream's
// timestamps advance by step[stream] per packet, and every gop-th packet of
// a stream is a key frame.
func Interleave(n int, step []int64, gop int) []Packet {
	pkts := make([]Packet, 0, n)
	next := make([]int64, len(step))
	seen := make([]int, len(step))
	for i := 0; i < n; i++ {
		s := i % len(step)
		pkts = append(pkts, Packet{
			Stream:   s,
			PTS:      next[s],
			DTS:      next[s],
			Duration: step[s],
			Key:      gop <= 1 || seen[s]%gop == 0,
			Data:     []byte{byte(s), byte(i), byte(i >> 8)},
		})
		next[s] += step[s]
		seen[s]++
	}
	return pkts
}
