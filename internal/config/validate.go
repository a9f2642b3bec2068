package config

import (
	"fmt"

	"github.com/zsiec/avpipe/internal/rational"
)

// Validate checks that all configuration values are within acceptable ranges.
// Returns an error describing the first validation failure found.
func (c *Config) Validate() error {
	switch c.Engine {
	case "auto", "ffmpeg", "native":
	default:
		return fmt.Errorf("engine must be auto, ffmpeg or native, got %q", c.Engine)
	}
	switch c.LogLevel {
	case "info", "debug":
	default:
		return fmt.Errorf("log_level must be info or debug, got %q", c.LogLevel)
	}
	if err := c.Transcode.Validate(); err != nil {
		return fmt.Errorf("transcode config: %w", err)
	}
	if err := c.Frames.Validate(); err != nil {
		return fmt.Errorf("frames config: %w", err)
	}
	if err := c.Native.Validate(); err != nil {
		return fmt.Errorf("native config: %w", err)
	}
	return nil
}

// Validate checks encoder settings.
func (t *TranscodeConfig) Validate() error {
	if t.BitRate < 0 || t.RCMaxRate < 0 || t.RCMinRate < 0 || t.RCBufferSize < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if t.GOPSize < 0 {
		return fmt.Errorf("gop_size must not be negative, got %d", t.GOPSize)
	}
	if (t.EncoderParamsKey == "") != (t.EncoderParams == "") {
		return fmt.Errorf("encoder_params_key and encoder_params must be set together")
	}
	if t.FrameRate != "" {
		fr, err := rational.Parse(t.FrameRate)
		if err != nil {
			return fmt.Errorf("frame_rate: %w", err)
		}
		if fr.Num() <= 0 {
			return fmt.Errorf("frame_rate must be positive, got %s", fr)
		}
	}
	return nil
}

// Validate checks frame dump settings.
func (f *FramesConfig) Validate() error {
	if f.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", f.Count)
	}
	return nil
}

// Validate checks native engine settings.
func (n *NativeConfig) Validate() error {
	if n.SRTLatency < 0 {
		return fmt.Errorf("srt_latency must not be negative, got %s", n.SRTLatency)
	}
	if n.ProbePackets < 1 {
		return fmt.Errorf("probe_packets must be at least 1, got %d", n.ProbePackets)
	}
	return nil
}
