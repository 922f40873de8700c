// Package cases talks to the case management backend: it lists approved
// missing-person cases and records where they were sighted.
package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/vigil/internal/dispatch"
)

const (
	approvedPath = "/cases/approved/face-recognition"
	sightingPath = "/foundlocation/addlocationhistory"

	// dateLayout is ISO-8601 UTC with milliseconds, as the backend expects.
	dateLayout = "2006-01-02T15:04:05.000Z"

	DefaultTimeout = 10 * time.Second
)

// Case is one approved case as served by the backend.
type Case struct {
	ID            string `json:"caseId,omitempty"`
	Name          string `json:"name"`
	AdhaarNumber  string `json:"adhaarNumber"`
	ContactNumber string `json:"contactNumber"`
	Image         string `json:"image"` // base64, optionally a data URL
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Approved lists the cases cleared for face recognition.
func (c *Client) Approved(ctx context.Context) ([]Case, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+approvedPath, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var list []Case
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return list, nil
}

type sightingRequest struct {
	Name          string `json:"name"`
	AdhaarNumber  string `json:"adhaar_number"`
	ContinentCode string `json:"continent_code"`
	Region        string `json:"region"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	IP            string `json:"ip"`
	City          string `json:"city"`
	Timezone      string `json:"timezone"`
	Country       string `json:"country"`
	Date          string `json:"date"`
}

// RecordSighting stores a located sighting in the backend's location history.
func (c *Client) RecordSighting(ctx context.Context, s dispatch.Sighting) error {
	body, err := json.Marshal(sightingRequest{
		Name:          s.Name,
		AdhaarNumber:  s.ExternalID,
		ContinentCode: s.Location.ContinentCode,
		Region:        s.Location.Region,
		Latitude:      s.Location.Latitude,
		Longitude:     s.Location.Longitude,
		IP:            s.Location.IP,
		City:          s.Location.City,
		Timezone:      s.Location.Timezone,
		Country:       s.Location.Country,
		Date:          s.Time.UTC().Format(dateLayout),
	})
	if err != nil {
		return fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sightingPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
