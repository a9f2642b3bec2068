package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/avpipe/internal/config"
	"github.com/zsiec/avpipe/internal/engine"
	"github.com/zsiec/avpipe/internal/engine/ffmpeg"
	"github.com/zsiec/avpipe/internal/engine/native"
	"github.com/zsiec/avpipe/internal/framedump"
	"github.com/zsiec/avpipe/internal/inspect"
	"github.com/zsiec/avpipe/internal/pipeline"
)

var version = "dev"

var errUsage = errors.New("usage")

func main() {
	fs := flag.NewFlagSet("avpipe", flag.ExitOnError)
	configPath := fs.String("config", envOr("AVPIPE_CONFIG", ""), "YAML configuration file")
	engineName := fs.String("engine", envOr("AVPIPE_ENGINE", ""), "engine: auto, ffmpeg or native")
	formatHint := fs.String("format", "", "output container format, guessed from the output name when empty")
	maxPackets := fs.Int("max-packets", inspect.DefaultMaxPackets, "packets scanned by info")
	fs.Usage = func() { usage(fs) }
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avpipe: %v\n", err)
		os.Exit(2)
	}
	if *engineName != "" {
		cfg.Engine = *engineName
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "avpipe: invalid config: %v\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := slog.Default()

	engine.Register(native.Name, native.Priority, native.Factory(native.Options{
		SRTLatency:   cfg.Native.SRTLatency,
		ProbePackets: cfg.Native.ProbePackets,
	}, log))
	engine.Register(ffmpeg.Name, ffmpeg.Priority, ffmpeg.Factory(log))

	args := fs.Args()
	if len(args) == 0 {
		usage(fs)
		os.Exit(2)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	c := &cli{
		cfg:        cfg,
		log:        log,
		formatHint: *formatHint,
		maxPackets: *maxPackets,
		out:        os.Stdout,
	}

	err = runGroup(context.Background(), sigCh, func(ctx context.Context) error {
		return c.run(ctx, args[0], args[1:])
	})
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "avpipe: %v\n\n", err)
			usage(fs)
			os.Exit(2)
		}
		slog.Error("command failed", "command", args[0], "error", engine.Describe(err))
		fmt.Fprintf(os.Stderr, "avpipe: %s\n", engine.Describe(err))
		os.Exit(1)
	}
}

// runGroup runs the command next to a signal watcher. A signal cancels the
// command's context; the watcher exits once the command returns.
func runGroup(ctx context.Context, sigCh <-chan os.Signal, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		return run(ctx)
	})
	return g.Wait()
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "avpipe %s\n\n", version)
	fmt.Fprintln(w, "usage: avpipe [flags] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  frames <input> [count]       dump decoded video frames as PGM files")
	fmt.Fprintln(w, "  remux <input> <output>       copy every stream into a new container")
	fmt.Fprintln(w, "  transmux <input> <output>    same as remux")
	fmt.Fprintln(w, "  transcode <input> <output>   re-encode the video stream, copy the rest")
	fmt.Fprintln(w, "  info <input>                 describe the input's streams")
	fmt.Fprintln(w, "  formats                      list supported codecs and containers")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "flags:")
	fs.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

type cli struct {
	cfg        *config.Config
	log        *slog.Logger
	formatHint string
	maxPackets int
	out        io.Writer
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "formats":
		return c.formats()
	case "info":
		if len(args) != 1 {
			return fmt.Errorf("%w: info <input>", errUsage)
		}
		return c.info(ctx, args[0])
	case "frames":
		return c.frames(ctx, args)
	case "remux", "transmux", "transcode":
		if len(args) != 2 {
			return fmt.Errorf("%w: %s <input> <output>", errUsage, cmd)
		}
		mode, err := pipeline.ParseMode(cmd)
		if err != nil {
			return err
		}
		return c.mux(ctx, mode, args[0], args[1])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *cli) selectEngine() (engine.Engine, error) {
	eng, err := engine.Select(c.cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("select engine %q: %w", c.cfg.Engine, err)
	}
	c.log.Info("avpipe starting", "version", version, "engine", eng.Name())
	return eng, nil
}

func (c *cli) formats() error {
	eng, err := c.selectEngine()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "engine %s\n", eng.Name())
	for _, f := range eng.Formats() {
		if f.Description != "" {
			fmt.Fprintf(c.out, "%-8s %-24s %s\n", f.Kind, f.Name, f.Description)
		} else {
			fmt.Fprintf(c.out, "%-8s %s\n", f.Kind, f.Name)
		}
	}
	return nil
}

func (c *cli) info(ctx context.Context, input string) error {
	eng, err := c.selectEngine()
	if err != nil {
		return err
	}
	rep, err := inspect.Run(ctx, eng, input, c.maxPackets, c.log)
	if err != nil {
		return err
	}
	return rep.Write(c.out)
}

func (c *cli) frames(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: frames <input> [count]", errUsage)
	}
	count := c.cfg.Frames.Count
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: count must be a positive integer, got %q", errUsage, args[1])
		}
		count = n
	}

	eng, err := c.selectEngine()
	if err != nil {
		return err
	}
	w := framedump.NewPGMWriter(c.cfg.Frames.Dir, c.cfg.Frames.Prefix, c.log)
	p := pipeline.New(eng, pipeline.Config{
		Mode:       pipeline.FrameDump,
		Input:      args[0],
		FrameCount: count,
		Frames:     w,
	}, c.log)

	err = p.Run(ctx)
	c.logStats(p.Stats())
	c.log.Info("frames written", "count", w.Count(), "dir", c.cfg.Frames.Dir)
	return err
}

func (c *cli) mux(ctx context.Context, mode pipeline.Mode, input, output string) error {
	fr, err := c.cfg.FrameRate()
	if err != nil {
		return fmt.Errorf("transcode frame rate: %w", err)
	}
	eng, err := c.selectEngine()
	if err != nil {
		return err
	}
	p := pipeline.New(eng, pipeline.Config{
		Mode:       mode,
		Input:      input,
		Output:     output,
		FormatHint: c.formatHint,
		Encoder:    c.cfg.EncoderConfig(),
		FrameRate:  fr,
	}, c.log)

	err = p.Run(ctx)
	c.logStats(p.Stats())
	return err
}

func (c *cli) logStats(s pipeline.Stats) {
	c.log.Info("run finished",
		"packets_read", s.PacketsRead,
		"packets_written", s.PacketsWritten,
		"packets_dropped", s.PacketsDropped,
		"read_errors", s.ReadErrors,
		"write_errors", s.WriteErrors,
		"frames_decoded", s.FramesDecoded,
		"packets_encoded", s.PacketsEncoded,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
