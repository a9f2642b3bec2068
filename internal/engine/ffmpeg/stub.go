//go:build !ffmpeg

package ffmpeg

import (
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
)

// New reports that FFmpeg support was not compiled in.
func New(*slog.Logger) (engine.Engine, error) {
	return nil, engine.ErrNotAvailable
}
