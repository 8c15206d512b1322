package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrLeaseHeld reports that another owner holds an unexpired lease. This is
// normal contention, not a failure: the caller skips the tick.
var ErrLeaseHeld = errors.New("lease is held by another owner")

// LeaseRepository arbitrates cross-process mutual exclusion through a row
// per interval with owner and expiry. Any store with an atomic
// acquire-if-absent-or-expired write satisfies the contract; here it is a
// relational row updated with a conditional WHERE.
type LeaseRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLeaseRepository() *LeaseRepository {
	return &LeaseRepository{db: database.MainDB, now: time.Now}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *LeaseRepository) WithDB(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db, now: r.nowFunc()}
}

// WithClock overrides the clock, for tests.
func (r *LeaseRepository) WithClock(now func() time.Time) *LeaseRepository {
	return &LeaseRepository{db: r.db, now: now}
}

func (r *LeaseRepository) nowFunc() func() time.Time {
	if r.now == nil {
		return time.Now
	}
	return r.now
}

// Acquire takes the lease for key on behalf of ownerID. It succeeds when no
// lease exists, the existing lease has expired, the caller already owns it,
// or force is set. force bypasses the "already held" check but still goes
// through the same conditional write, so two forced acquirers cannot both
// win the row.
func (r *LeaseRepository) Acquire(ctx context.Context, key, ownerID string, ttl time.Duration, force bool) error {
	now := r.nowFunc()()
	expires := now.Add(ttl)

	cond := r.db.WithContext(ctx).
		Model(&model.Lease{}).
		Where("key = ?", key)
	if !force {
		cond = cond.Where("expires_at < ? OR owner_id = ?", now, ownerID)
	}

	res := cond.Updates(map[string]interface{}{
		"owner_id":    ownerID,
		"acquired_at": now,
		"expires_at":  expires,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":  "LeaseRepository",
			"key":   key,
			"owner": ownerID,
			"force": force,
		}).Debug("Lease reacquired")
		return nil
	}

	// No reclaimable row: either the key is absent or someone holds it.
	lease := model.Lease{
		Key:        key,
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  expires,
	}
	if err := r.db.WithContext(ctx).Create(&lease).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrLeaseHeld
		}
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "LeaseRepository",
		"key":   key,
		"owner": ownerID,
	}).Debug("Lease created")
	return nil
}

// Release deletes the lease only if ownerID still holds it. Releasing a
// lease that expired and was taken over by someone else is a no-op.
func (r *LeaseRepository) Release(ctx context.Context, key, ownerID string) error {
	return r.db.WithContext(ctx).
		Where("key = ? AND owner_id = ?", key, ownerID).
		Delete(&model.Lease{}).Error
}

// Get returns the current lease row for key, or (nil, nil) if absent.
func (r *LeaseRepository) Get(ctx context.Context, key string) (*model.Lease, error) {
	var lease model.Lease
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&lease).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lease, nil
}
