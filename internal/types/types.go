package types

import (
	"image"
	"strings"
	"time"
)

// NameKey is the case- and whitespace-insensitive form identities are looked up by.
func NameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Box is a face location in pixel coordinates, in the [top, right, bottom, left]
// order face detectors emit.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Scale multiplies every coordinate by f.
func (b Box) Scale(f int) Box {
	return Box{Top: b.Top * f, Right: b.Right * f, Bottom: b.Bottom * f, Left: b.Left * f}
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Face is one detected face: where it is and its embedding.
type Face struct {
	Loc Box       `json:"loc"`
	Vec []float64 `json:"vec"` // 128-d face encoding
}

// ErrorResult captures the error object returned by a face service on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Location is an IP geolocation snapshot. Coordinates are kept as the strings
// the lookup service returns.
type Location struct {
	City          string `json:"city"`
	Region        string `json:"region"`
	Country       string `json:"country"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	Timezone      string `json:"timezone"`
	IP            string `json:"ip"`
	ContinentCode string `json:"continent_code"`
}

// DetectionEvent is the context captured for the latest qualifying match.
type DetectionEvent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ExternalID string    `json:"adhaar_number"`
	Contact    string    `json:"phone_number"`
	Location   *Location `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
}
