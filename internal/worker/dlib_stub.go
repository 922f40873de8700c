//go:build !dlib

package worker

import (
	"context"
	"errors"

	"github.com/andresmejia3/vigil/internal/types"
)

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("dlib encoder not compiled in (rebuild with -tags dlib)")

type DlibEncoder struct{}

func NewDlibEncoder(string) (*DlibEncoder, error) {
	return nil, ErrDlibUnavailable
}

func (*DlibEncoder) Encode(context.Context, []byte) ([]types.Face, error) {
	return nil, ErrDlibUnavailable
}

func (*DlibEncoder) Close() error { return nil }
