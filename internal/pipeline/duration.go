package pipeline

import "github.com/zsiec/avpipe/internal/rational"

// frameDuration is the duration of one encoded frame in time base tb at
// frame rate fr, computed as tb.den / tb.num / fr.num * fr.den with integer
// division at each step. The truncation matches existing output files and
// is kept as is. Zero components yield 0.
func frameDuration(tb, fr rational.Rational) int64 {
	if tb.Num() == 0 || fr.Num() == 0 {
		return 0
	}
	return int64(tb.Den()) / int64(tb.Num()) / int64(fr.Num()) * int64(fr.Den())
}
