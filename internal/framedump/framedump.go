// Package framedump writes decoded frames as binary PGM (P5) images, one
// file per frame, using plane 0 only.
package framedump

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zsiec/avpipe/internal/media"
)

// PGMWriter writes "<dir>/<prefix><seq>.pgm" for every frame.
type PGMWriter struct {
	log    *slog.Logger
	dir    string
	prefix string
	count  int
}

// NewPGMWriter returns a writer into dir, which must exist.
func NewPGMWriter(dir, prefix string, log *slog.Logger) *PGMWriter {
	if log == nil {
		log = slog.Default()
	}
	return &PGMWriter{log: log.With("component", "framedump"), dir: dir, prefix: prefix}
}

// Path returns the file name used for frame number seq.
func (w *PGMWriter) Path(seq int64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s%d.pgm", w.prefix, seq))
}

// WriteFrame writes plane 0 of f, Width bytes from each of Height rows.
func (w *PGMWriter) WriteFrame(f *media.Frame) (err error) {
	plane, stride, ok := f.Plane(0)
	if !ok {
		if perr := f.PlaneErr(); perr != nil {
			return fmt.Errorf("frame %d: load picture plane: %w", f.Seq, perr)
		}
		return fmt.Errorf("frame %d: no picture plane", f.Seq)
	}
	if f.Width <= 0 || f.Height <= 0 || stride < f.Width {
		return fmt.Errorf("frame %d: bad geometry %dx%d stride %d", f.Seq, f.Width, f.Height, stride)
	}
	if need := (f.Height-1)*stride + f.Width; len(plane) < need {
		return fmt.Errorf("frame %d: plane holds %d bytes, need %d", f.Seq, len(plane), need)
	}

	path := w.Path(f.Seq)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := Encode(bufio.NewWriter(file), plane, stride, f.Width, f.Height); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.count++
	w.log.Debug("frame written", "path", path)
	return nil
}

// Count returns the number of files written.
func (w *PGMWriter) Count() int { return w.count }

// Encode writes a P5 header with maxval 255 followed by height rows of
// width bytes, row y starting at plane[y*stride], and flushes bw.
func Encode(bw *bufio.Writer, plane []byte, stride, width, height int) error {
	if _, err := fmt.Fprintf(bw, "P5\n%d %d\n%d\n", width, height, 255); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		row := plane[y*stride : y*stride+width]
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}
