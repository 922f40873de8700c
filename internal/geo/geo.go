// Package geo looks up the public IP location of this host.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
)

const (
	DefaultURL     = "https://get.geojs.io/v1/ip/geo.json"
	DefaultTimeout = 5 * time.Second
)

// geoJS fields arrive as strings; latitude/longitude are kept verbatim.
type geoJSResponse struct {
	City          string `json:"city"`
	Region        string `json:"region"`
	Country       string `json:"country"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	Timezone      string `json:"timezone"`
	IP            string `json:"ip"`
	ContinentCode string `json:"continent_code"`
}

type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

// Locate returns the current location. Callers treat any error as "unknown".
func (c *Client) Locate(ctx context.Context) (*types.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation failed with status %d", resp.StatusCode)
	}

	var r geoJSResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &types.Location{
		City:          r.City,
		Region:        r.Region,
		Country:       r.Country,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		Timezone:      r.Timezone,
		IP:            r.IP,
		ContinentCode: r.ContinentCode,
	}, nil
}
