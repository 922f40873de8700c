package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		wantErr bool
		city    string
	}{
		{"OK", http.StatusOK, `{"city":"Pune","region":"Maharashtra","country":"India","latitude":"18.52","longitude":"73.85","timezone":"Asia/Kolkata","ip":"1.2.3.4","continent_code":"AS"}`, 0, false, "Pune"},
		{"Server error", http.StatusInternalServerError, ``, 0, true, ""},
		{"Garbage body", http.StatusOK, `<html>`, 0, true, ""},
		{"Timeout", http.StatusOK, `{}`, 200 * time.Millisecond, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			loc, err := NewClient(srv.URL, 50*time.Millisecond).Locate(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Locate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (loc.City != tt.city || loc.Latitude != "18.52" || loc.ContinentCode != "AS") {
				t.Errorf("Locate() = %+v", loc)
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", 0)
	if c.url != DefaultURL || c.client.Timeout != DefaultTimeout {
		t.Errorf("defaults not applied: %q %v", c.url, c.client.Timeout)
	}
}
