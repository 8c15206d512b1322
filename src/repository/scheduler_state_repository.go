package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrCursorVerification reports that a cursor write could not be read back
// with the expected value. The caller rolls the cursor back and aborts the
// run so rotation position is never silently lost or duplicated.
var ErrCursorVerification = errors.New("scheduler cursor write verification failed")

// SchedulerStateRepository persists the per-interval rotation cursor and the
// outcome of every run.
type SchedulerStateRepository struct {
	db *gorm.DB
}

func NewSchedulerStateRepository() *SchedulerStateRepository {
	return &SchedulerStateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SchedulerStateRepository) WithDB(db *gorm.DB) *SchedulerStateRepository {
	return &SchedulerStateRepository{db: db}
}

// Get returns the state row for an interval, or (nil, nil) if absent.
func (r *SchedulerStateRepository) Get(ctx context.Context, intervalKey string) (*model.SchedulerState, error) {
	var state model.SchedulerState
	err := r.db.WithContext(ctx).
		Where("interval_key = ?", intervalKey).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// AdvanceCursor writes the new cursor, reads it back and verifies the stored
// value before returning. On verification failure the previous cursor is
// restored and ErrCursorVerification is returned.
func (r *SchedulerStateRepository) AdvanceCursor(ctx context.Context, intervalKey string, prev, next int) error {
	if err := r.writeCursor(ctx, intervalKey, next); err != nil {
		return err
	}

	state, err := r.Get(ctx, intervalKey)
	if err != nil {
		return err
	}
	if state == nil || state.LastProcessedIndex != next {
		logger.WithFields(map[string]interface{}{
			"repo":     "SchedulerStateRepository",
			"interval": intervalKey,
			"expected": next,
		}).Error("Cursor read-back mismatch, restoring previous cursor")

		if restoreErr := r.writeCursor(ctx, intervalKey, prev); restoreErr != nil {
			return fmt.Errorf("restore cursor after failed verification: %w", restoreErr)
		}
		return ErrCursorVerification
	}
	return nil
}

func (r *SchedulerStateRepository) writeCursor(ctx context.Context, intervalKey string, index int) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "interval_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_processed_index", "updated_at"}),
		}).
		Create(&model.SchedulerState{
			IntervalKey:        intervalKey,
			LastProcessedIndex: index,
			UpdatedAt:          time.Now().UTC(),
		}).Error
}

// RecordRun persists the outcome of one scheduler run. Called on every run,
// success or not.
func (r *SchedulerStateRepository) RecordRun(ctx context.Context, intervalKey, symbol string, success bool, duration time.Duration, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	updates := map[string]interface{}{
		"last_run_timestamp": time.Now().UTC(),
		"last_symbol":        symbol,
		"last_success":       success,
		"last_duration_ms":   duration.Milliseconds(),
		"last_error":         msg,
		"updated_at":         time.Now().UTC(),
	}

	res := r.db.WithContext(ctx).
		Model(&model.SchedulerState{}).
		Where("interval_key = ?", intervalKey).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.db.WithContext(ctx).Create(&model.SchedulerState{
			IntervalKey:      intervalKey,
			LastRunTimestamp: time.Now().UTC(),
			LastSymbol:       symbol,
			LastSuccess:      success,
			LastDurationMs:   duration.Milliseconds(),
			LastError:        msg,
		}).Error
	}
	return nil
}
