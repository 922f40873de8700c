// Package notify alerts people and systems about detections.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/andresmejia3/vigil/internal/dispatch"
)

const (
	DefaultWhatsAppURL = "https://api.ultramsg.com"
	DefaultCountryCode = "+91"
	DefaultTimeout     = 10 * time.Second
)

var alertTemplate = template.Must(template.New("alert").Parse(`!!!ATTENTION!!!
Your missing person {{.Name}} (Aadhaar: {{.ExternalID}}) has been found!
Location: {{.Location.City}}, {{.Location.Region}}, {{.Location.Country}}
Coordinates: {{.Location.Latitude}}, {{.Location.Longitude}}
Maps: https://www.google.com/maps/place/{{.Location.Latitude}},{{.Location.Longitude}}
Please contact local authorities immediately.
Regards, Milap.AI - Missing Person Recovery System`))

// RenderAlert formats the message body sent to a contact.
func RenderAlert(a dispatch.Alert) (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, a); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WhatsApp sends alerts through an UltraMsg instance.
type WhatsApp struct {
	baseURL     string
	instance    string
	token       string
	countryCode string
	client      *http.Client
}

type WhatsAppConfig struct {
	BaseURL     string
	InstanceID  string
	Token       string
	CountryCode string
	Timeout     time.Duration
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWhatsAppURL
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &WhatsApp{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		instance:    cfg.InstanceID,
		token:       cfg.Token,
		countryCode: cfg.CountryCode,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Recipient prefixes bare numbers with the configured country code.
func (w *WhatsApp) Recipient(contact string) string {
	contact = strings.TrimSpace(contact)
	if strings.HasPrefix(contact, "+") {
		return contact
	}
	return w.countryCode + contact
}

func (w *WhatsApp) Notify(ctx context.Context, a dispatch.Alert) error {
	body, err := RenderAlert(a)
	if err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}

	form := url.Values{
		"token":    {w.token},
		"to":       {w.Recipient(a.Contact)},
		"body":     {body},
		"priority": {"1"},
	}
	endpoint := fmt.Sprintf("%s/%s/messages/chat", w.baseURL, w.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("whatsapp relay failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// UltraMsg reports some failures with a 200 and an "error" field.
	var res struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(raw, &res) == nil && res.Error != nil {
		return fmt.Errorf("whatsapp relay error: %v", res.Error)
	}
	return nil
}
