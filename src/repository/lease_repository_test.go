package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseAcquireContention(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo := (&LeaseRepository{}).WithDB(db).WithClock(func() time.Time { return clock })

	// first owner wins
	require.NoError(t, repo.Acquire(ctx, "research:5m", "owner-a", time.Minute, false))

	// second owner is rejected while the lease is live
	err := repo.Acquire(ctx, "research:5m", "owner-b", time.Minute, false)
	require.ErrorIs(t, err, ErrLeaseHeld)

	// the holder itself can renew
	require.NoError(t, repo.Acquire(ctx, "research:5m", "owner-a", time.Minute, false))
}

func TestLeaseExpiryReclaim(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo := (&LeaseRepository{}).WithDB(db).WithClock(func() time.Time { return clock })

	require.NoError(t, repo.Acquire(ctx, "research:15m", "owner-a", time.Minute, false))

	// after TTL a fresh attempt succeeds without explicit release
	clock = base.Add(2 * time.Minute)
	require.NoError(t, repo.Acquire(ctx, "research:15m", "owner-b", time.Minute, false))

	lease, err := repo.Get(ctx, "research:15m")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "owner-b", lease.OwnerID)
}

func TestLeaseForceBypassesHeldCheck(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := (&LeaseRepository{}).WithDB(db).WithClock(func() time.Time { return clock })

	require.NoError(t, repo.Acquire(ctx, "research:30m", "owner-a", time.Minute, false))
	require.NoError(t, repo.Acquire(ctx, "research:30m", "operator", time.Minute, true))

	lease, err := repo.Get(ctx, "research:30m")
	require.NoError(t, err)
	require.Equal(t, "operator", lease.OwnerID)
}

func TestLeaseReleaseOnlyByOwner(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := (&LeaseRepository{}).WithDB(db).WithClock(func() time.Time { return clock })

	require.NoError(t, repo.Acquire(ctx, "research:60m", "owner-a", time.Minute, false))

	// a stale owner releasing after takeover must not delete the new lease
	require.NoError(t, repo.Release(ctx, "research:60m", "owner-b"))

	lease, err := repo.Get(ctx, "research:60m")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "owner-a", lease.OwnerID)

	require.NoError(t, repo.Release(ctx, "research:60m", "owner-a"))
	lease, err = repo.Get(ctx, "research:60m")
	require.NoError(t, err)
	require.Nil(t, lease)
}
