package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

var startedAt = time.Now()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// registerHealthRoutes wires the liveness/readiness surface. db may be nil
// when the server runs on the in-memory execution store.
func registerHealthRoutes(mux *http.ServeMux, db *sql.DB) {
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": Version,
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
		})
	})

	mux.HandleFunc("GET /api/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/ready", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"reason": "database unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("GET /api/metrics", func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		writeJSON(w, http.StatusOK, map[string]any{
			"goroutines":     runtime.NumGoroutine(),
			"heapAllocBytes": mem.HeapAlloc,
			"gcCycles":       mem.NumGC,
			"uptimeSeconds":  int(time.Since(startedAt).Seconds()),
		})
	})

	mux.HandleFunc("GET /api/queue/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
}
