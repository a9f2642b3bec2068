package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/zsiec/avpipe/internal/config"
	"github.com/zsiec/avpipe/internal/mpegts"
)

func newTestCLI(out *bytes.Buffer) *cli {
	cfg := config.Default()
	cfg.Engine = "native"
	return &cli{cfg: cfg, log: slog.Default(), out: out}
}

func adts(payload int) []byte {
	n := 7 + payload
	h := []byte{0xFF, 0xF1, 1<<6 | 3<<2, 2<<6 | byte(n>>11)&0x03, byte(n >> 3), byte(n&0x07)<<5 | 0x1F, 0xFC}
	return append(h, make([]byte, payload)...)
}

// writeAudioTS writes a single-stream AAC transport stream of n frames.
func writeAudioTS(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	pid, err := m.AddStream(mpegts.StreamTypeAAC)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		ts := int64(i) * 1920
		if err := m.WritePES(pid, ts, ts, false, adts(32)); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "audio.ts")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{"unknown command", "play", nil},
		{"info without input", "info", nil},
		{"remux missing output", "remux", []string{"in.ts"}},
		{"transcode extra arg", "transcode", []string{"a", "b", "c"}},
		{"frames without input", "frames", nil},
		{"frames bad count", "frames", []string{"in.ts", "zero"}},
		{"frames negative count", "frames", []string{"in.ts", "-3"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestCLI(&bytes.Buffer{})
			err := c.run(context.Background(), tt.cmd, tt.args)
			if !errors.Is(err, errUsage) {
				t.Errorf("err = %v, want errUsage", err)
			}
		})
	}
}

func TestFormats(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := newTestCLI(&out).run(context.Background(), "formats", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "engine native") {
		t.Errorf("output missing engine name:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "mpegts") {
		t.Errorf("output missing mpegts:\n%s", out.String())
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	in := writeAudioTS(t, 8)
	if err := newTestCLI(&out).run(context.Background(), "info", []string{in}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Format mpegts | # Streams 1", "Audio codec: 2 channels, sample rate 48000", "Packets 8"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRemuxNative(t *testing.T) {
	t.Parallel()

	in := writeAudioTS(t, 8)
	outPath := filepath.Join(t.TempDir(), "out.ts")
	if err := newTestCLI(&bytes.Buffer{}).run(context.Background(), "remux", []string{in, outPath}); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 || fi.Size()%188 != 0 {
		t.Errorf("output size = %d, want a non-empty multiple of 188", fi.Size())
	}
}

func TestFramesWithoutVideo(t *testing.T) {
	t.Parallel()

	in := writeAudioTS(t, 4)
	c := newTestCLI(&bytes.Buffer{})
	c.cfg.Frames.Dir = t.TempDir()
	err := c.run(context.Background(), "frames", []string{in})
	if err == nil {
		t.Fatal("frames on an input without video succeeded")
	}
	if errors.Is(err, errUsage) {
		t.Errorf("err = %v, want a run error", err)
	}
}

func TestRunGroupReturnsWhenCommandFinishes(t *testing.T) {
	t.Parallel()

	sigCh := make(chan os.Signal, 1)
	want := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- runGroup(context.Background(), sigCh, func(context.Context) error { return want })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, want) {
			t.Errorf("err = %v, want %v", err, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runGroup did not return after the command finished")
	}

	if err := runGroup(context.Background(), sigCh, func(context.Context) error { return nil }); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestRunGroupSignalCancelsCommand(t *testing.T) {
	t.Parallel()

	sigCh := make(chan os.Signal, 1)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runGroup(context.Background(), sigCh, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not cancel the command")
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("AVPIPE_TEST_ENV", "set")
	if got := envOr("AVPIPE_TEST_ENV", "fallback"); got != "set" {
		t.Errorf("got %q, want set", got)
	}
	if got := envOr("AVPIPE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}
