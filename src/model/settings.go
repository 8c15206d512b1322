package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	TradeModeAuto   = "AUTO"
	TradeModeManual = "MANUAL"
)

// PositionSizingBand maps a contiguous accuracy range to a risk percentage.
type PositionSizingBand struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Percent float64 `json:"percent"`
}

// PositionSizingMap is the ordered band list stored as a JSON column.
type PositionSizingMap []PositionSizingBand

// Validate rejects unordered or overlapping bands at the store boundary.
func (m PositionSizingMap) Validate() error {
	for i, band := range m {
		if band.Min > band.Max {
			return fmt.Errorf("sizing band %d: min %.2f above max %.2f", i, band.Min, band.Max)
		}
		if band.Percent < 0 {
			return fmt.Errorf("sizing band %d: negative percent %.2f", i, band.Percent)
		}
		if i > 0 && band.Min <= m[i-1].Max {
			return fmt.Errorf("sizing band %d overlaps band %d", i, i-1)
		}
	}
	return nil
}

// AutoTradeSettings is the persisted per-user auto-trade configuration.
type AutoTradeSettings struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	AutoTradeEnabled    bool      `json:"auto_trade_enabled"`
	Mode                string    `gorm:"size:10;not null;default:MANUAL" json:"mode"`
	PerTradeRiskPct     float64   `json:"per_trade_risk_pct"`
	MaxPositionPerTrade float64   `json:"max_position_per_trade"`
	MaxConcurrentTrades int       `json:"max_concurrent_trades"`
	MaxDailyLossPct     float64   `json:"max_daily_loss_pct"`
	MaxTradesPerDay     int       `json:"max_trades_per_day"`
	StopLossPct         float64   `json:"stop_loss_pct"`
	TakeProfitPct       float64   `json:"take_profit_pct"`
	CooldownSeconds     int       `json:"cooldown_seconds"`
	PanicStopEnabled    bool      `json:"panic_stop_enabled"`
	SlippageBlocker     bool      `json:"slippage_blocker"`
	SizingMapJSON       string    `gorm:"column:sizing_map;type:text" json:"-"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BreakerTripped      bool      `json:"breaker_tripped"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (AutoTradeSettings) TableName() string {
	return "auto_trade_settings"
}

// SizingMap decodes the JSON band list. An empty column yields an empty map,
// which sizes every trade to zero.
func (s *AutoTradeSettings) SizingMap() (PositionSizingMap, error) {
	if s.SizingMapJSON == "" {
		return nil, nil
	}
	var m PositionSizingMap
	if err := json.Unmarshal([]byte(s.SizingMapJSON), &m); err != nil {
		return nil, fmt.Errorf("decode sizing map: %w", err)
	}
	return m, nil
}

// SetSizingMap validates and encodes the band list.
func (s *AutoTradeSettings) SetSizingMap(m PositionSizingMap) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode sizing map: %w", err)
	}
	s.SizingMapJSON = string(raw)
	return nil
}

// BeforeSave keeps invalid band lists out of the database.
func (s *AutoTradeSettings) BeforeSave(_ *gorm.DB) error {
	m, err := s.SizingMap()
	if err != nil {
		return err
	}
	return m.Validate()
}
