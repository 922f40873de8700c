//go:build dlib

package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/andresmejia3/vigil/internal/types"
)

// DlibEncoder runs dlib in-process through go-face. modelsDir must hold
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
type DlibEncoder struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

func NewDlibEncoder(modelsDir string) (*DlibEncoder, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibEncoder{rec: rec}, nil
}

func (d *DlibEncoder) Encode(ctx context.Context, img []byte) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		return nil, ErrWorkerClosed
	}

	found, err := d.rec.Recognize(img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	faces := make([]types.Face, len(found))
	for i, f := range found {
		vec := make([]float64, len(f.Descriptor))
		for j, v := range f.Descriptor {
			vec[j] = float64(v)
		}
		r := f.Rectangle
		faces[i] = types.Face{
			Loc: types.Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X},
			Vec: vec,
		}
	}
	return faces, nil
}

func (d *DlibEncoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
