package metrics

import (
	"encoding/json"
	"net/http"
)

// Handler serves the current Snapshot as JSON, labelled with algorithm.
func (c *Collector) Handler(algorithm string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c.Snapshot(algorithm)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
