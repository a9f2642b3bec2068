// Package config loads the avpipe YAML configuration. Decoding is strict:
// unknown keys are rejected, unset values get explicit defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/rational"
)

// Config is the complete configuration.
type Config struct {
	Engine    string          `yaml:"engine"`    // "auto", "ffmpeg" or "native"
	LogLevel  string          `yaml:"log_level"` // "info" or "debug"
	Transcode TranscodeConfig `yaml:"transcode"`
	Frames    FramesConfig    `yaml:"frames"`
	Native    NativeConfig    `yaml:"native"`
}

// TranscodeConfig configures the video encoder used by transcode.
type TranscodeConfig struct {
	Encoder          string `yaml:"encoder"`
	EncoderParamsKey string `yaml:"encoder_params_key"`
	EncoderParams    string `yaml:"encoder_params"`
	PixelFormat      string `yaml:"pixel_format,omitempty"`
	BitRate          int64  `yaml:"bit_rate"`
	RCBufferSize     int    `yaml:"rc_buffer_size"`
	RCMaxRate        int64  `yaml:"rc_max_rate"`
	RCMinRate        int64  `yaml:"rc_min_rate"`
	GOPSize          int    `yaml:"gop_size"`
	FrameRate        string `yaml:"frame_rate,omitempty"` // "num/den" override, empty uses the input's
}

// FramesConfig configures the frames command.
type FramesConfig struct {
	Count  int    `yaml:"count"`
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// NativeConfig configures the pure-Go engine.
type NativeConfig struct {
	SRTLatency   time.Duration `yaml:"srt_latency"`
	ProbePackets int           `yaml:"probe_packets"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.setDefaults()
	return &c
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Engine == "" {
		c.Engine = engine.Auto
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	t := &c.Transcode
	if t.Encoder == "" {
		t.Encoder = "libx265"
	}
	if t.EncoderParamsKey == "" {
		t.EncoderParamsKey = "x265-params"
	}
	if t.EncoderParams == "" {
		t.EncoderParams = "keyint=60:min-keyint=60:scenecut=0"
	}
	if t.BitRate == 0 {
		t.BitRate = 2_000_000
	}
	if t.RCBufferSize == 0 {
		t.RCBufferSize = 4_000_000
	}
	if t.RCMaxRate == 0 {
		t.RCMaxRate = 2_000_000
	}
	if t.RCMinRate == 0 {
		t.RCMinRate = 2_500_000
	}
	if t.GOPSize == 0 {
		t.GOPSize = 60
	}

	if c.Frames.Count == 0 {
		c.Frames.Count = 7
	}
	if c.Frames.Dir == "" {
		c.Frames.Dir = "."
	}
	if c.Frames.Prefix == "" {
		c.Frames.Prefix = "frame-"
	}

	if c.Native.SRTLatency == 0 {
		c.Native.SRTLatency = 120 * time.Millisecond
	}
	if c.Native.ProbePackets == 0 {
		c.Native.ProbePackets = 512
	}
}

// EncoderConfig converts the transcode settings into an encoder template.
func (c *Config) EncoderConfig() engine.EncoderConfig {
	t := c.Transcode
	return engine.EncoderConfig{
		Codec:        t.Encoder,
		PixelFormat:  t.PixelFormat,
		BitRate:      t.BitRate,
		RCBufferSize: t.RCBufferSize,
		RCMaxRate:    t.RCMaxRate,
		RCMinRate:    t.RCMinRate,
		GOPSize:      t.GOPSize,
		PrivateKey:   t.EncoderParamsKey,
		PrivateValue: t.EncoderParams,
	}
}

// FrameRate returns the configured frame rate override, or the zero
// Rational when none is set.
func (c *Config) FrameRate() (rational.Rational, error) {
	if c.Transcode.FrameRate == "" {
		return rational.Rational{}, nil
	}
	return rational.Parse(c.Transcode.FrameRate)
}
