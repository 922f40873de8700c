package cases

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/vigil/internal/registry"
)

// ErrIncomplete marks a case missing a field needed for recognition.
var ErrIncomplete = errors.New("case is missing name, id, contact or image")

// SyncResult is the outcome for one case.
type SyncResult struct {
	Case    Case
	Path    string
	Written bool // false when the image was already on disk
	Err     error
}

// ImagePath is where a case's reference image lives under dir.
func ImagePath(dir string, c Case) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.png", sanitize(c.Name), sanitize(c.AdhaarNumber)))
}

// Sync writes each case's image to dir as PNG, skipping files that already
// exist, and returns the references for every usable case in input order.
// progress, if set, is called once per case.
func Sync(ctx context.Context, list []Case, dir string, log logrus.FieldLogger, progress func(SyncResult)) ([]registry.Reference, []SyncResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create images dir: %w", err)
	}

	refs := make([]registry.Reference, 0, len(list))
	results := make([]SyncResult, 0, len(list))
	for _, c := range list {
		if err := ctx.Err(); err != nil {
			return refs, results, err
		}

		res := syncOne(c, dir)
		results = append(results, res)
		if progress != nil {
			progress(res)
		}
		if res.Err != nil {
			log.WithError(res.Err).WithField("name", c.Name).Warn("case skipped")
			continue
		}
		refs = append(refs, registry.Reference{
			Name:       c.Name,
			ExternalID: c.AdhaarNumber,
			Contact:    c.ContactNumber,
			Path:       res.Path,
		})
	}
	return refs, results, nil
}

func syncOne(c Case, dir string) SyncResult {
	res := SyncResult{Case: c}
	if strings.TrimSpace(c.Name) == "" || c.AdhaarNumber == "" || c.ContactNumber == "" || c.Image == "" {
		res.Err = ErrIncomplete
		return res
	}
	res.Path = ImagePath(dir, c)

	if _, err := os.Stat(res.Path); err == nil {
		return res
	}

	if err := writePNG(res.Path, c.Image); err != nil {
		res.Err = err
		return res
	}
	res.Written = true
	return res
}

// writePNG decodes a base64 payload (optionally a data URL) and stores it as PNG.
func writePNG(path, payload string) error {
	if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return fmt.Errorf("invalid base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("undecodable image: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}

// Source fetches approved cases and syncs their images on every call.
type Source struct {
	Client *Client
	Dir    string
	Log    logrus.FieldLogger
}

func (s *Source) References(ctx context.Context) ([]registry.Reference, error) {
	list, err := s.Client.Approved(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approved cases: %w", err)
	}
	s.Log.WithField("cases", len(list)).Info("fetched approved cases")
	refs, _, err := Sync(ctx, list, s.Dir, s.Log, nil)
	return refs, err
}
