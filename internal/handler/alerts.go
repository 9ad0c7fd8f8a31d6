package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
	"github.com/web3-frozen/price-alerts/internal/service"
	"github.com/web3-frozen/price-alerts/internal/store"
)

type AlertService interface {
	Create(ctx context.Context, req service.CreateRequest) (alert.Alert, error)
	Reactivate(ctx context.Context, id, ownerID int64, condition, targetPrice string) (alert.Alert, error)
	Delete(ctx context.Context, id, ownerID int64) error
	Get(ctx context.Context, id, ownerID int64) (alert.Alert, error)
	List(ctx context.Context, ownerID int64, onlyActive bool) ([]alert.Alert, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps alert and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, alert.ErrInvalidCondition),
		errors.Is(err, alert.ErrInvalidPrice),
		errors.Is(err, alert.ErrInvalidTarget),
		errors.Is(err, alert.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sources.ErrTokenNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
	default:
		logger.Error("alert request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func ownerParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	return id, err == nil && id != 0
}

func ListAlerts(svc AlertService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerParam(r)
		if !ok {
			http.Error(w, `{"error":"owner_id required"}`, http.StatusBadRequest)
			return
		}
		onlyActive, _ := strconv.ParseBool(r.URL.Query().Get("active"))

		alerts, err := svc.List(r.Context(), owner, onlyActive)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if alerts == nil {
			alerts = []alert.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

func GetAlert(svc AlertService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
			return
		}
		owner, ok := ownerParam(r)
		if !ok {
			http.Error(w, `{"error":"owner_id required"}`, http.StatusBadRequest)
			return
		}

		a, err := svc.Get(r.Context(), id, owner)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func CreateAlert(svc AlertService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.OwnerID == 0 {
			http.Error(w, `{"error":"owner_id required"}`, http.StatusBadRequest)
			return
		}

		a, err := svc.Create(r.Context(), req)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func ReactivateAlert(svc AlertService, logger *slog.Logger) http.HandlerFunc {
	type request struct {
		OwnerID     int64  `json:"owner_id"`
		Condition   string `json:"condition"`
		TargetPrice string `json:"target_price"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.OwnerID == 0 {
			http.Error(w, `{"error":"owner_id required"}`, http.StatusBadRequest)
			return
		}

		a, err := svc.Reactivate(r.Context(), id, req.OwnerID, req.Condition, req.TargetPrice)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func DeleteAlert(svc AlertService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
			return
		}
		owner, ok := ownerParam(r)
		if !ok {
			http.Error(w, `{"error":"owner_id required"}`, http.StatusBadRequest)
			return
		}

		if err := svc.Delete(r.Context(), id, owner); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
