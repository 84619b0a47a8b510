package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
)

// BackendView is the JSON form of one pool entry.
type BackendView struct {
	ID                  int       `json:"id"`
	Address             string    `json:"address"`
	Healthy             bool      `json:"healthy"`
	AvgRTTMs            float64   `json:"avg_rtt_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
}

// NewRouter serves Prometheus metrics on /metrics, the collector snapshot on
// /stats and the pool health table on /backends.
func NewRouter(collector *metrics.Collector, pool *backend.Pool, algorithm string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", collector.Prometheus().Handler())
	mux.HandleFunc("GET /stats", collector.Handler(algorithm))
	mux.HandleFunc("GET /backends", backendsHandler(pool))

	return mux
}

func backendsHandler(pool *backend.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := pool.Snapshot()
		views := make([]BackendView, len(snapshot))
		for i, s := range snapshot {
			views[i] = BackendView{
				ID:                  s.Backend.ID(),
				Address:             s.Backend.Address(),
				Healthy:             s.Healthy,
				AvgRTTMs:            s.AvgRTT,
				ConsecutiveFailures: s.ConsecutiveFailures,
				LastCheck:           s.LastCheck,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
