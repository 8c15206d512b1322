package model

import "time"

const (
	SignalStatusQueued   = "QUEUED"
	SignalStatusExecuted = "EXECUTED"
	SignalStatusFailed   = "FAILED"
	SignalStatusSkipped  = "SKIPPED"
)

// TradeSignal is a confidence-scored signal queued for execution. Each entry
// reaches exactly one terminal status (EXECUTED, FAILED or SKIPPED).
type TradeSignal struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	RequestID  string    `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
	Symbol     string    `gorm:"size:30;index;not null" json:"symbol"`
	Side       string    `gorm:"size:10;not null" json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Accuracy   float64   `json:"accuracy"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Status     string    `gorm:"size:20;not null;default:QUEUED;index" json:"status"`
	Message    string    `gorm:"type:text" json:"message,omitempty"`
	OrderID    *uint     `gorm:"index" json:"order_id,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (TradeSignal) TableName() string {
	return "trade_signals"
}
