//go:build !ffmpeg

package ffmpeg

import (
	"errors"
	"testing"

	"github.com/zsiec/avpipe/internal/engine"
)

func TestStubNotAvailable(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, engine.ErrNotAvailable) {
		t.Errorf("err = %v, want ErrNotAvailable", err)
	}
	if _, err := engine.Select(Name); !errors.Is(err, engine.ErrNotAvailable) {
		t.Errorf("Select err = %v, want ErrNotAvailable", err)
	}
}
