package native

import (
	"github.com/zsiec/avpipe/internal/media"
	"github.com/zsiec/avpipe/internal/mpegts"
)

type codecInfo struct {
	streamType uint8
	kind       media.Kind
	codec      string
}

// codecTable maps PMT stream types to codecs. The first entry for a codec
// is the stream type the muxer writes.
var codecTable = []codecInfo{
	{mpegts.StreamTypeH264, media.KindVideo, "h264"},
	{mpegts.StreamTypeH265, media.KindVideo, "hevc"},
	{mpegts.StreamTypeMPEG2Video, media.KindVideo, "mpeg2video"},
	{mpegts.StreamTypeAAC, media.KindAudio, "aac"},
	{mpegts.StreamTypeMPEG1Audio, media.KindAudio, "mp3"},
	{mpegts.StreamTypeMPEG2Audio, media.KindAudio, "mp3"},
	{mpegts.StreamTypeAC3, media.KindAudio, "ac3"},
	{mpegts.StreamTypeSCTE35, media.KindData, "scte_35"},
	{mpegts.StreamTypePrivate, media.KindData, "bin_data"},
}

func codecForStreamType(t uint8) (media.Kind, string) {
	for _, c := range codecTable {
		if c.streamType == t {
			return c.kind, c.codec
		}
	}
	return media.KindData, "unknown"
}

func streamTypeForCodec(codec string) (uint8, bool) {
	for _, c := range codecTable {
		if c.codec == codec {
			return c.streamType, true
		}
	}
	return 0, false
}
