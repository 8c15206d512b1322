package model

import "time"

const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order is one row of the per-user order ledger. Rows are created only after
// the exchange accepts the order and are never deleted; fills and cancels
// mutate status, filled_qty, avg_price and pnl.
type Order struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;uniqueIndex:idx_user_client_order" json:"user_id"`
	Exchange        string    `gorm:"size:30;not null" json:"exchange"`
	Symbol          string    `gorm:"size:30;index;not null" json:"symbol"`
	Side            string    `gorm:"size:10;not null" json:"side"`
	OrderType       string    `gorm:"size:10;not null" json:"order_type"`
	Quantity        float64   `json:"quantity"`
	Price           *float64  `json:"price,omitempty"`
	Status          string    `gorm:"size:20;not null;default:NEW;index" json:"status"`
	ClientOrderID   string    `gorm:"size:64;not null;uniqueIndex:idx_user_client_order" json:"client_order_id"`
	ExchangeOrderID string    `gorm:"size:64;index" json:"exchange_order_id"`
	FilledQty       float64   `json:"filled_qty"`
	AvgPrice        float64   `json:"avg_price"`
	StopLossPrice   *float64  `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64  `json:"take_profit_price,omitempty"`
	Strategy        string    `gorm:"size:40" json:"strategy"`
	PnL             float64   `gorm:"column:pnl" json:"pnl"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Fills []Fill `gorm:"foreignKey:OrderID" json:"fills,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// Fill is a single execution report applied to an order. The sum of fill
// quantities for an order always equals the order's filled_qty.
type Fill struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Symbol    string    `gorm:"size:30;not null" json:"symbol"`
	Side      string    `gorm:"size:10;not null" json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	FeeAsset  string    `gorm:"size:10" json:"fee_asset"`
	Timestamp time.Time `json:"timestamp"`
}

func (Fill) TableName() string {
	return "fills"
}
