package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/server"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsEndpoints(t *testing.T) {
	store, err := server.NewStore(context.Background(), "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	mux := metricsMux(store)

	if rec := get(t, mux, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("Expected healthz 200, got %d", rec.Code)
	}
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected readyz 503 before ready, got %d", rec.Code)
	}
	store.SetReady(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("Expected readyz 200 when ready, got %d", rec.Code)
	}
	store.SetClosing(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected readyz 503 when closing, got %d", rec.Code)
	}

	store.Add(server.PairInfo{ID: "p1", Remote: "127.0.0.1:1"})
	rec := get(t, mux, "/api/state")
	var st server.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Active != 1 || st.Backend != "memory" {
		t.Errorf("Expected 1 active pair on memory backend, got %+v", st)
	}

	rec = get(t, mux, "/dashboard")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "127.0.0.1:1") {
		t.Errorf("Expected dashboard listing the live pair, got %d %q", rec.Code, rec.Body.String())
	}

	if rec := get(t, mux, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("Expected metrics 200, got %d", rec.Code)
	}
}
