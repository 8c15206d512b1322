package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// SettingsRepository persists per-user auto-trade configuration and exchange
// credentials.
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository() *SettingsRepository {
	return &SettingsRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SettingsRepository) WithDB(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetTradingSettings returns the user's auto-trade configuration, or
// (nil, nil) if none has been saved yet.
func (r *SettingsRepository) GetTradingSettings(ctx context.Context, userID uint) (*model.AutoTradeSettings, error) {
	var settings model.AutoTradeSettings
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

// SaveTradingSettings upserts the configuration row for a user.
func (r *SettingsRepository) SaveTradingSettings(ctx context.Context, settings *model.AutoTradeSettings) error {
	existing, err := r.GetTradingSettings(ctx, settings.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		settings.ID = existing.ID
	}
	return r.db.WithContext(ctx).Save(settings).Error
}

// ListAutoTradeEnabled returns the settings of every user with auto-trade
// switched on.
func (r *SettingsRepository) ListAutoTradeEnabled(ctx context.Context) ([]model.AutoTradeSettings, error) {
	var settings []model.AutoTradeSettings
	err := r.db.WithContext(ctx).
		Where("auto_trade_enabled = ?", true).
		Order("user_id ASC").
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// RecordTradeFailure increments the consecutive-failure counter and trips
// the circuit breaker at the threshold. Returns the new counter value and
// whether the breaker is now tripped.
func (r *SettingsRepository) RecordTradeFailure(ctx context.Context, userID uint, threshold int) (int, bool, error) {
	var failures int
	var tripped bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings model.AutoTradeSettings
		if err := tx.Where("user_id = ?", userID).First(&settings).Error; err != nil {
			return err
		}

		settings.ConsecutiveFailures++
		if threshold > 0 && settings.ConsecutiveFailures >= threshold {
			settings.BreakerTripped = true
		}
		failures = settings.ConsecutiveFailures
		tripped = settings.BreakerTripped

		return tx.Model(&model.AutoTradeSettings{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"consecutive_failures": settings.ConsecutiveFailures,
				"breaker_tripped":      settings.BreakerTripped,
			}).Error
	})
	if err != nil {
		return 0, false, err
	}

	if tripped {
		logger.WithFields(map[string]interface{}{
			"repo":     "SettingsRepository",
			"user_id":  userID,
			"failures": failures,
		}).Warn("Circuit breaker tripped")
	}
	return failures, tripped, nil
}

// RecordTradeSuccess clears the consecutive-failure counter. The breaker
// flag itself clears only through ResetBreaker.
func (r *SettingsRepository) RecordTradeSuccess(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.AutoTradeSettings{}).
		Where("user_id = ?", userID).
		Update("consecutive_failures", 0).Error
}

// ResetBreaker is the explicit operator reset for a tripped breaker.
func (r *SettingsRepository) ResetBreaker(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.AutoTradeSettings{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"consecutive_failures": 0,
			"breaker_tripped":      false,
		}).Error
}

// GetEnabledCredential returns the user's enabled exchange credential, or
// (nil, nil) when none is enabled.
func (r *SettingsRepository) GetEnabledCredential(ctx context.Context, userID uint) (*model.UserCredential, error) {
	var cred model.UserCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("updated_at DESC").
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// SaveCredential upserts a credential row. Callers must encrypt fields
// through the vault before handing the row in; this layer never sees
// plaintext.
func (r *SettingsRepository) SaveCredential(ctx context.Context, cred *model.UserCredential) error {
	var existing model.UserCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange = ?", cred.UserID, cred.Exchange).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		cred.ID = existing.ID
	}
	return r.db.WithContext(ctx).Save(cred).Error
}
