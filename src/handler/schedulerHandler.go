package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
	"tradeengine/src/scheduler"
)

type schedulerRunner interface {
	RunInterval(ctx context.Context, interval time.Duration, force bool) error
}

type schedulerStateReader interface {
	Get(ctx context.Context, intervalKey string) (*model.SchedulerState, error)
}

var allowedIntervals = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"10m": 10 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"60m": 60 * time.Minute,
}

// TriggerSchedulerHandler runs one research pass out of band. Operator runs
// force the interval lease, so a lease abandoned by a crashed process does
// not block the trigger.
func TriggerSchedulerHandler(runner schedulerRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interval, ok := allowedIntervals[r.URL.Query().Get("interval")]
		if !ok {
			http.Error(w, "interval must be one of 5m, 10m, 15m, 30m, 60m", http.StatusBadRequest)
			return
		}

		if err := runner.RunInterval(r.Context(), interval, true); err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			logger.WithError(err).Warn("Triggered research run failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "completed"}); err != nil {
			logger.WithError(err).Error("failed to encode response")
		}
	}
}

// SchedulerStateHandler reports the last-run outcome for an interval.
func SchedulerStateHandler(reader schedulerStateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("interval")
		if _, ok := allowedIntervals[name]; !ok {
			http.Error(w, "interval must be one of 5m, 10m, 15m, 30m, 60m", http.StatusBadRequest)
			return
		}

		state, err := reader.Get(r.Context(), "research:"+name)
		if err != nil {
			logger.WithError(err).Error("failed to read scheduler state")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if state == nil {
			http.Error(w, "no runs recorded for interval", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			logger.WithError(err).Error("failed to encode scheduler state")
		}
	}
}
