package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/server"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/web"
)

// metricsMux serves Prometheus metrics plus dashboard, health and state endpoints.
func metricsMux(store server.PairStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(store.Stats())
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		st := store.Stats()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := map[string]any{
			"Title":    "realtime relay",
			"Backend":  st.Backend,
			"Ready":    store.Ready() && !store.Closing(),
			"Active":   st.Active,
			"Total":    st.Total,
			"Failures": st.Failures,
			"Pairs":    store.Pairs(),
		}
		if err := web.Render(w, "dashboard", data); err != nil {
			http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if store.Closing() || !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
