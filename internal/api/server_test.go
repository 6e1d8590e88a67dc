package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/device"
	"github.com/josiah-nelson/sfplib/internal/eeprom"
	"github.com/josiah-nelson/sfplib/internal/session"
	"github.com/josiah-nelson/sfplib/internal/store"
)

// fakeDevice satisfies the Device interface without hardware.
type fakeDevice struct {
	version    string
	captureErr error
	writeErr   error
	capture    *device.CaptureResult
	lastWrite  struct {
		hash   string
		verify bool
	}
}

func (f *fakeDevice) FirmwareVersion() string { return f.version }

func (f *fakeDevice) Status(ctx context.Context) (*session.Status, error) {
	return &session.Status{Raw: "module=1", ModulePresent: true}, nil
}

func (f *fakeDevice) Capture(ctx context.Context) (*device.CaptureResult, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.capture, nil
}

func (f *fakeDevice) WriteProfile(ctx context.Context, hash string, verify bool) (*device.WriteResult, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.lastWrite.hash = hash
	f.lastWrite.verify = verify
	return &device.WriteResult{Hash: hash, Verified: verify}, nil
}

func (f *fakeDevice) Erase(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, dev Device) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	backups := store.NewBackups(st, t.TempDir(), 7, zerolog.Nop())
	return NewServer(st, backups, dev, zerolog.Nop()), st
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func sampleProfile() []byte {
	data := make([]byte, 256)
	data[0] = 0x03
	copy(data[20:36], []byte("VENDORCO        "))
	return data
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("body %v", body)
	}
	if body["device"] != false {
		t.Error("device reported attached with nil device")
	}
}

func TestImportListGetDelete(t *testing.T) {
	s, _ := newTestServer(t, nil)
	data := sampleProfile()

	rec := doRequest(t, s, http.MethodPost, "/api/v1/profiles/import", data)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status %d: %s", rec.Code, rec.Body.String())
	}
	hash := decodeBody(t, rec)["hash"].(string)

	// Re-import dedupes with 200.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/profiles/import", data)
	if rec.Code != http.StatusOK {
		t.Errorf("re-import status %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/profiles/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	profiles := decodeBody(t, rec)["profiles"].([]any)
	if len(profiles) != 1 {
		t.Errorf("%d profiles listed, want 1", len(profiles))
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/profiles/"+hash+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/profiles/"+hash+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/v1/profiles/"+hash+"/", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status %d", rec.Code)
	}
}

func TestExportProfileRoundTrips(t *testing.T) {
	s, st := newTestServer(t, nil)
	data := sampleProfile()
	hash, _, err := st.Import(data, store.NewSource("import", "", ""))
	if err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/profiles/"+hash+"/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("exported bytes differ")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type %q", ct)
	}
}

func TestImportRejectsEmptyBody(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/profiles/import", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d", rec.Code)
	}
}

func TestDeviceRoutesWithoutDevice(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/device/status", "/api/v1/device/version"} {
		rec := doRequest(t, s, http.MethodGet, path, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status %d, want 503", path, rec.Code)
		}
	}
}

func TestCapture(t *testing.T) {
	img, _ := eeprom.NewImage(sampleProfile(), 256, eeprom.SourceDevice)
	dev := &fakeDevice{
		version: "1.0.10",
		capture: &device.CaptureResult{
			Hash:     img.Checksum(),
			New:      true,
			Size:     256,
			Metadata: eeprom.Parse(img),
		},
	}
	s, _ := newTestServer(t, dev)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/device/capture", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("capture status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["new"] != true {
		t.Errorf("body %v", body)
	}

	// Duplicate capture answers 200, not 201.
	dev.capture.New = false
	rec = doRequest(t, s, http.MethodPost, "/api/v1/device/capture", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate capture status %d", rec.Code)
	}
}

func TestWriteRequiresHash(t *testing.T) {
	s, _ := newTestServer(t, &fakeDevice{version: "1.0.10"})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/device/write", []byte(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d", rec.Code)
	}
}

func TestWriteVerifiesByDefault(t *testing.T) {
	dev := &fakeDevice{version: "1.0.10"}
	s, _ := newTestServer(t, dev)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/device/write",
		[]byte(`{"hash":"sha256:abc"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !dev.lastWrite.verify {
		t.Error("verification skipped without opt-out")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/device/write",
		[]byte(`{"hash":"sha256:abc","no_verify":true}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if dev.lastWrite.verify {
		t.Error("verification ran despite opt-out")
	}
}

func TestDeviceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", session.ErrSessionBusy, http.StatusConflict},
		{"timeout", session.ErrReadTimeout, http.StatusGatewayTimeout},
		{"protocol", &session.ProtocolError{Command: "POST /sif/write"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeDevice{version: "1.0.10", captureErr: tt.err})
			rec := doRequest(t, s, http.MethodPost, "/api/v1/device/capture", nil)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteUnknownProfileIs404(t *testing.T) {
	dev := &fakeDevice{version: "1.0.10", writeErr: store.ErrNotFound}
	s, _ := newTestServer(t, dev)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/device/write",
		[]byte(`{"hash":"sha256:missing"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d", rec.Code)
	}
}

func TestBackupRoutes(t *testing.T) {
	s, st := newTestServer(t, nil)
	if _, _, err := st.Import(sampleProfile(), store.NewSource("import", "", "")); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/backups/", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create backup status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/backups/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list backups status %d", rec.Code)
	}
	backups := decodeBody(t, rec)["backups"].([]any)
	if len(backups) != 1 {
		t.Errorf("%d backups listed, want 1", len(backups))
	}
}
