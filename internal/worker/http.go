package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
)

const defaultFaceServiceURL = "http://localhost:8000"

// HTTPEncoder delegates face detection and encoding to a face service.
// The service answers POST {url}/faces with a JSON array of {loc, vec}.
type HTTPEncoder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEncoder creates a client for the face service at baseURL.
func NewHTTPEncoder(baseURL string, timeout time.Duration) *HTTPEncoder {
	if baseURL == "" {
		baseURL = defaultFaceServiceURL
	}
	return &HTTPEncoder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEncoder) Encode(ctx context.Context, img []byte) ([]types.Face, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/faces", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errRes types.ErrorResult
		if json.Unmarshal(body, &errRes) == nil && errRes.Error != "" {
			return nil, fmt.Errorf("face service error (status %d): %s", resp.StatusCode, errRes.Error)
		}
		return nil, fmt.Errorf("face service error (status %d): %s", resp.StatusCode, string(body))
	}

	var faces []types.Face
	if err := json.Unmarshal(body, &faces); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return faces, nil
}
