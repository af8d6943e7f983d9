package internal

import (
	"fmt"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// CloseWithErrLogf is making sure we log every error, even those from best effort tiny closers.
func CloseWithErrLogf(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	err := closeNilSafe(closer)
	if err == nil {
		return
	}

	level.Warn(logger).Log("msg", "detected close error", "err", fmt.Errorf(format+", %w", append(a, err)...))
}

// CloseWithErrCapturef runs function and on error return error by argument including the given error.
func CloseWithErrCapturef(err *error, closer io.Closer, format string, a ...interface{}) {
	if err == nil {
		return
	}

	cerr := closeNilSafe(closer)
	if cerr == nil {
		return
	}

	if *err == nil {
		*err = fmt.Errorf(format+", %w", append(a, cerr)...)
		return
	}

	*err = fmt.Errorf("%v, "+format+", close: %w", append([]interface{}{*err}, append(a, cerr)...)...)
}

func closeNilSafe(closer io.Closer) error {
	if closer == nil {
		return nil
	}

	return closer.Close()
}
