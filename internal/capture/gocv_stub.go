//go:build !gocv

package capture

import (
	"context"
	"errors"
)

// ErrGoCVUnavailable is returned when the binary was built without the gocv tag.
var ErrGoCVUnavailable = errors.New("gocv capture not compiled in (rebuild with -tags gocv)")

func GoCVOpener(device string, _ int) Opener {
	return func(context.Context) (Source, error) {
		return nil, &Error{Device: device, Err: ErrGoCVUnavailable}
	}
}
