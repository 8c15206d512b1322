package repository

import (
	"context"
	"encoding/json"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ActivityRepository appends audit rows for every state-changing action.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository() *ActivityRepository {
	return &ActivityRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ActivityRepository) WithDB(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// LogActivity records an audit event. Failures are logged and swallowed:
// audit writes must never fail the action they describe.
func (r *ActivityRepository) LogActivity(ctx context.Context, userID uint, eventType string, payload interface{}) {
	encoded := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			encoded = string(raw)
		}
	}

	entry := model.ActivityLog{
		UserID:    userID,
		EventType: eventType,
		Payload:   encoded,
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ActivityRepository",
			"user_id":    userID,
			"event_type": eventType,
		}).WithError(err).Error("Failed to write activity log")
	}
}
