// Package router configures the HTTP API of the study binary.
//
// Routes configured:
//   - GET /results?dataset=<name>&nn=<type>&sim=<n> - Evaluation records of one replicate
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/ensagg/pkg/httpx"
	"github.com/HatiCode/ensagg/pkg/storage"
)

// SetupRoutes configures HTTP endpoints for the study binary.
func SetupRoutes(store storage.Store, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.HandleFunc("/results", handleGetResults(store, logger))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleGetResults returns the stored records of one (dataset, nn, sim)
// replicate.
func handleGetResults(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dataset := r.URL.Query().Get("dataset")
		nn := r.URL.Query().Get("nn")
		simStr := r.URL.Query().Get("sim")
		if dataset == "" || nn == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "dataset and nn parameters required")
			return
		}
		sim := 0
		if simStr != "" {
			var err error
			sim, err = strconv.Atoi(simStr)
			if err != nil || sim < 0 {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "sim must be a non-negative integer")
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		keys, err := store.List(ctx, dataset, nn, sim)
		if err != nil {
			logger.Error("failed to list records", "dataset", dataset, "nn", nn, "sim", sim, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if len(keys) == 0 {
			httpx.WriteErrorMessage(w, http.StatusNotFound,
				fmt.Sprintf("no records for dataset=%s nn=%s sim=%d", dataset, nn, sim))
			return
		}

		records := make([]storage.Record, 0, len(keys))
		for _, k := range keys {
			rec, found, err := store.Get(ctx, k)
			if err != nil {
				logger.Error("failed to get record", "key", k.String(), "error", err)
				httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !found {
				// Expired between List and Get; skip.
				continue
			}
			records = append(records, rec)
		}

		if err := httpx.WriteJSON(w, http.StatusOK, records); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
