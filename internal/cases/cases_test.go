package cases

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/worker/workertest"
)

func TestApproved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cases/approved/face-recognition" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"alice","adhaarNumber":"123412341234","contactNumber":"9999999999","image":"abc"}]`))
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL+"/api/", time.Second).Approved(context.Background())
	if err != nil {
		t.Fatalf("Approved() error = %v", err)
	}
	if len(list) != 1 || list[0].AdhaarNumber != "123412341234" || list[0].ContactNumber != "9999999999" {
		t.Errorf("Approved() = %+v", list)
	}
}

func TestApproved_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Approved(context.Background()); err == nil {
		t.Error("expected error for 503")
	}
}

func TestRecordSighting(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/foundlocation/addlocationhistory" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := dispatch.Sighting{
		Name:       "alice",
		ExternalID: "123412341234",
		Location:   types.Location{City: "Pune", Region: "MH", Country: "India", Latitude: "18.5", Longitude: "73.8", IP: "1.2.3.4", Timezone: "Asia/Kolkata", ContinentCode: "AS"},
		Time:       time.Date(2024, 3, 9, 14, 5, 7, 250_000_000, time.FixedZone("IST", 5*3600+1800)),
	}
	if err := NewClient(srv.URL, time.Second).RecordSighting(context.Background(), s); err != nil {
		t.Fatalf("RecordSighting() error = %v", err)
	}

	want := map[string]string{
		"name":           "alice",
		"adhaar_number":  "123412341234",
		"city":           "Pune",
		"continent_code": "AS",
		"latitude":       "18.5",
		"date":           "2024-03-09T08:35:07.250Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRecordSighting_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).RecordSighting(context.Background(), dispatch.Sighting{Name: "x"})
	if err == nil {
		t.Error("expected error for 400")
	}
}

func TestSync(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	dir := t.TempDir()
	pngB64 := base64.StdEncoding.EncodeToString(workertest.PNG(t, 8, 8, workertest.Red))
	jpegB64 := base64.StdEncoding.EncodeToString(workertest.JPEG(t, 8, 8, workertest.Blue))

	list := []Case{
		{Name: "alice", AdhaarNumber: "1", ContactNumber: "9", Image: pngB64},
		{Name: "bob", AdhaarNumber: "2", ContactNumber: "8", Image: "data:image/jpeg;base64," + jpegB64},
		{Name: "carol", AdhaarNumber: "3", Image: pngB64},                          // no contact
		{Name: "dave", AdhaarNumber: "4", ContactNumber: "7", Image: "!!notb64!!"}, // bad payload
	}

	var seen int
	refs, results, err := Sync(context.Background(), list, dir, log, func(SyncResult) { seen++ })
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if seen != len(list) || len(results) != len(list) {
		t.Errorf("progress called %d times, results %d", seen, len(results))
	}
	if len(refs) != 2 || refs[0].Name != "alice" || refs[1].Name != "bob" {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[1].Path != filepath.Join(dir, "bob_2.png") || refs[1].Contact != "8" {
		t.Errorf("bob ref = %+v", refs[1])
	}
	if !errors.Is(results[2].Err, ErrIncomplete) {
		t.Errorf("carol err = %v, want ErrIncomplete", results[2].Err)
	}
	if results[3].Err == nil {
		t.Error("dave should fail to decode")
	}

	data, err := os.ReadFile(refs[1].Path)
	if err != nil || len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Errorf("bob image should be re-encoded as PNG")
	}

	// Second pass leaves existing files alone.
	_, again, err := Sync(context.Background(), list[:2], dir, log, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range again {
		if r.Written {
			t.Errorf("%s rewritten on second sync", r.Case.Name)
		}
	}
}

func TestSource(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	img := base64.StdEncoding.EncodeToString(workertest.PNG(t, 8, 8, workertest.Red))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Case{{Name: "alice", AdhaarNumber: "1", ContactNumber: "9", Image: img}})
	}))
	defer srv.Close()

	src := &Source{Client: NewClient(srv.URL, time.Second), Dir: t.TempDir(), Log: log}
	refs, err := src.References(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].ExternalID != "1" {
		t.Errorf("References() = %+v", refs)
	}
}

func TestImagePath_Sanitizes(t *testing.T) {
	got := ImagePath("/imgs", Case{Name: "a/b", AdhaarNumber: "1"})
	if got != filepath.Join("/imgs", "a_b_1.png") {
		t.Errorf("ImagePath() = %q", got)
	}
}
