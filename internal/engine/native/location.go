package native

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const srtDialTimeout = 10 * time.Second

// openLocation opens a file path, "-" for standard input, or an srt://
// URL dialed as a caller.
func openLocation(ctx context.Context, location string, latency time.Duration, log *slog.Logger) (io.ReadCloser, error) {
	switch {
	case location == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(location, "srt://"):
		return dialSRT(ctx, location, latency, log)
	default:
		return os.Open(location)
	}
}

// dialSRT dials srt://host:port?streamid=... and returns the connection.
// The dial is abandoned when ctx ends or after srtDialTimeout.
func dialSRT(ctx context.Context, location string, latency time.Duration, log *slog.Logger) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("srt location %q needs host:port", location)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latency
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	log.Info("dialing", "address", u.Host, "stream_id", cfg.StreamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		log.Info("connected", "address", u.Host)
		return res.conn, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("SRT dial timed out after %s", srtDialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
