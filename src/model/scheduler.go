package model

import "time"

// Lease is a time-bounded ownership record keyed by scheduler interval. A
// single row per interval arbitrates which scheduler process runs that
// interval's work; expired rows are reclaimed in place.
type Lease struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Key        string    `gorm:"size:40;uniqueIndex;not null" json:"key"`
	OwnerID    string    `gorm:"size:64;not null" json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (Lease) TableName() string {
	return "scheduler_leases"
}

// SchedulerState is the persisted rotation cursor and last-run outcome for
// one interval. The cursor write is read back and verified before any signal
// work starts.
type SchedulerState struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	IntervalKey        string    `gorm:"size:40;uniqueIndex;not null" json:"interval_key"`
	LastProcessedIndex int       `json:"last_processed_index"`
	LastRunTimestamp   time.Time `json:"last_run_timestamp"`
	LastSymbol         string    `gorm:"size:30" json:"last_symbol"`
	LastSuccess        bool      `json:"last_success"`
	LastDurationMs     int64     `json:"last_duration_ms"`
	LastError          string    `gorm:"type:text" json:"last_error,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (SchedulerState) TableName() string {
	return "scheduler_states"
}

// SymbolRank is one entry of the ranked symbol universe the scheduler
// rotates over. Rank 1 is the highest-volume symbol.
type SymbolRank struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Symbol      string    `gorm:"size:30;uniqueIndex;not null" json:"symbol"`
	Rank        int       `gorm:"index;not null" json:"rank"`
	QuoteVolume float64   `json:"quote_volume"`
	UserPinned  bool      `json:"user_pinned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SymbolRank) TableName() string {
	return "symbol_ranks"
}
