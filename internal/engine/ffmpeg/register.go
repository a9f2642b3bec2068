// Package ffmpeg is the FFmpeg-backed engine, built on go-astiav. It is
// compiled only with the ffmpeg build tag; without it New reports
// engine.ErrNotAvailable and engine selection falls through to the native
// engine.
package ffmpeg

import (
	"log/slog"

	"github.com/zsiec/avpipe/internal/engine"
)

// Name is the engine's registry name.
const Name = "ffmpeg"

// Priority ranks FFmpeg above the native engine.
const Priority = 100

func init() {
	engine.Register(Name, Priority, Factory(nil))
}

// Factory returns an engine.Factory that logs to log.
func Factory(log *slog.Logger) engine.Factory {
	return func() (engine.Engine, error) {
		return New(log)
	}
}
