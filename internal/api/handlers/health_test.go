package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeIndex — подмена индекса для проверки readiness.
type fakeIndex struct {
	ready bool
}

func (f *fakeIndex) IsReady() bool { return f.ready }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(t.TempDir(), t.TempDir(), &fakeIndex{ready: true})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rr := httptest.NewRecorder()
	h.HealthLive(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("парсинг ответа: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status: ожидалось 'ok', получено %v", resp["status"])
	}
	if resp["service"] != "photostore" {
		t.Errorf("service: ожидалось 'photostore', получено %v", resp["service"])
	}
}

func TestHealthReady_OK(t *testing.T) {
	h := NewHealthHandler(t.TempDir(), t.TempDir(), &fakeIndex{ready: true})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	h.HealthReady(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("парсинг ответа: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status: ожидалось 'ok', получено %v", resp["status"])
	}
}

func TestHealthReady_IndexNotReady(t *testing.T) {
	h := NewHealthHandler(t.TempDir(), t.TempDir(), &fakeIndex{ready: false})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	h.HealthReady(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rr.Code)
	}
}

func TestHealthReady_BadDataDir(t *testing.T) {
	h := NewHealthHandler("/nonexistent/data/dir", t.TempDir(), &fakeIndex{ready: true})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	h.HealthReady(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("парсинг ответа: %v", err)
	}
	if resp["status"] != "fail" {
		t.Errorf("status: ожидалось 'fail', получено %v", resp["status"])
	}
}

func TestHealthReady_S3BackendWithoutDataDir(t *testing.T) {
	// Для s3 backend локальная директория данных не используется
	h := NewHealthHandler("", t.TempDir(), &fakeIndex{ready: true})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rr := httptest.NewRecorder()
	h.HealthReady(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rr.Code)
	}
}
