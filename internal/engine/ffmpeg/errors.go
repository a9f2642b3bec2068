package ffmpeg

import "errors"

// avError carries a failing FFmpeg call and the library's own message.
type avError struct {
	op  string
	err error
}

func (e *avError) Error() string { return e.op + ": " + e.err.Error() }

func (e *avError) Unwrap() error { return e.err }

// Describe returns FFmpeg's message for the error code.
func (e *avError) Describe() string { return e.err.Error() }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *avError
	if errors.As(err, &ae) {
		return err
	}
	return &avError{op: op, err: err}
}
