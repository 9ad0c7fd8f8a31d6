package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/web3-frozen/price-alerts/internal/monitor"
	"github.com/web3-frozen/price-alerts/internal/store"
)

// LoopReporter exposes the state of the polling loops.
type LoopReporter interface {
	Status() []monitor.LoopStatus
}

// StatsSource supplies alert and trigger totals.
type StatsSource interface {
	TriggerStats(ctx context.Context) (store.TriggerStats, error)
}

// Stats reports loop state and trigger totals. A failing stats query still
// returns the loop state.
func Stats(engine LoopReporter, s StatsSource, logger *slog.Logger) http.HandlerFunc {
	type response struct {
		Loops  []monitor.LoopStatus `json:"loops"`
		Alerts *store.TriggerStats  `json:"alerts,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Loops: engine.Status()}
		st, err := s.TriggerStats(r.Context())
		if err != nil {
			logger.Error("trigger stats query failed", "error", err)
		} else {
			resp.Alerts = &st
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
