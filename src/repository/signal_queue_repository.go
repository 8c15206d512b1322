package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrDuplicateSignal reports that a request id is already queued.
var ErrDuplicateSignal = errors.New("signal request id already queued")

// SignalQueueRepository stores queued trade signals and drains them FIFO.
type SignalQueueRepository struct {
	db *gorm.DB
}

func NewSignalQueueRepository() *SignalQueueRepository {
	return &SignalQueueRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SignalQueueRepository) WithDB(db *gorm.DB) *SignalQueueRepository {
	return &SignalQueueRepository{db: db}
}

// Enqueue inserts a QUEUED signal. Request ids are unique per queue entry.
func (r *SignalQueueRepository) Enqueue(ctx context.Context, signal *model.TradeSignal) error {
	signal.Status = model.SignalStatusQueued

	if err := r.db.WithContext(ctx).Create(signal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSignal
		}
		logger.WithFields(map[string]interface{}{
			"repo":       "SignalQueueRepository",
			"op":         "Enqueue",
			"request_id": signal.RequestID,
		}).WithError(err).Error("Failed to enqueue signal")
		return err
	}
	return nil
}

// NextBatch returns up to limit QUEUED signals for a user, oldest first.
func (r *SignalQueueRepository) NextBatch(ctx context.Context, userID uint, limit int) ([]model.TradeSignal, error) {
	if limit <= 0 {
		limit = 10
	}

	var signals []model.TradeSignal
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.SignalStatusQueued).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&signals).Error
	if err != nil {
		return nil, err
	}
	return signals, nil
}

// MarkTerminal moves a queued signal to its terminal status exactly once.
// The status guard in the WHERE clause makes a second terminal write a
// no-op.
func (r *SignalQueueRepository) MarkTerminal(ctx context.Context, signalID uint, status, message string, orderID *uint) error {
	updates := map[string]interface{}{
		"status":  status,
		"message": message,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}

	return r.db.WithContext(ctx).
		Model(&model.TradeSignal{}).
		Where("id = ? AND status = ?", signalID, model.SignalStatusQueued).
		Updates(updates).Error
}
