package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"safescan/internal/scan"
	"safescan/internal/ws"
)

// statusResponse is the GET /status payload
type statusResponse struct {
	State     string               `json:"state"`
	SessionID string               `json:"session_id,omitempty"`
	Metrics   scan.MetricsSnapshot `json:"metrics"`
	Observers int                  `json:"observers"`
}

// newObserverServer builds the HTTP surface UI observers attach to:
// /ws/scan (event stream), /status (state + metrics), /healthz
func newObserverServer(addr string, scanner *scan.Scanner) *http.Server {
	hub := ws.NewHub()
	scanner.Events().Subscribe(hub)

	r := mux.NewRouter()
	r.Handle("/ws/scan", ws.NewHandler(hub))
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			State:     string(scanner.State()),
			SessionID: scanner.SessionID(),
			Metrics:   scanner.Snapshot(),
			Observers: hub.ClientCount(),
		})
	}).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
