package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/engine"
)

type engineService interface {
	StartAutoTrade(ctx context.Context, userID uint) error
	StopAutoTrade(ctx context.Context, userID uint) error
	StopUserEngine(ctx context.Context, userID uint) error
}

type breakerResetter interface {
	ResetBreaker(ctx context.Context, userID uint) error
}

func engineErrorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, engine.ErrLiveTradingDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrNoTradePermission):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrEngineNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// StartAutoTradeHandler enables automated trading for the caller.
func StartAutoTradeHandler(svc engineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.StartAutoTrade(r.Context(), userID); err != nil {
			logger.WithError(err).Warn("Auto-trade start refused")
			http.Error(w, err.Error(), engineErrorStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "started"}); err != nil {
			logger.WithError(err).Error("failed to encode response")
		}
	}
}

// StopAutoTradeHandler disables automated trading for the caller.
func StopAutoTradeHandler(svc engineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.StopAutoTrade(r.Context(), userID); err != nil {
			logger.WithError(err).Error("Auto-trade stop failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "stopped"}); err != nil {
			logger.WithError(err).Error("failed to encode response")
		}
	}
}

// StopEngineHandler tears down the caller's engine and exchange connection.
func StopEngineHandler(svc engineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.StopUserEngine(r.Context(), userID); err != nil {
			http.Error(w, err.Error(), engineErrorStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResetBreakerHandler clears the caller's tripped circuit breaker. This is
// the only way a tripped breaker re-enables trading.
func ResetBreakerHandler(svc breakerResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.ResetBreaker(r.Context(), userID); err != nil {
			logger.WithError(err).Error("Breaker reset failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "reset"}); err != nil {
			logger.WithError(err).Error("failed to encode response")
		}
	}
}
