package connectors

import (
	"context"
	"fmt"
	"time"
)

// Per-request timeout for every exchange call. Adapters do not retry on
// timeout; retry policy belongs to the caller. The Kraken client is the one
// exception and documents its internal retry.
const httpTimeout = 10 * time.Second

// PriceLevel is one side entry of an orderbook.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Orderbook is the normalized depth snapshot shared by all exchanges.
type Orderbook struct {
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	LastUpdateID int64        `json:"last_update_id"`
}

// Ticker is a normalized last-price quote.
type Ticker struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Kline is one normalized candle.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Account is a normalized balance snapshot.
type Account struct {
	Balances map[string]float64 `json:"balances"`
}

// Permissions reports what the API key is allowed to do. Withdrawal
// permission on a trading key is a security smell the engine warns about.
type Permissions struct {
	CanTrade    bool `json:"can_trade"`
	CanWithdraw bool `json:"can_withdraw"`
}

// OrderSpec is the exchange-agnostic order request.
type OrderSpec struct {
	Symbol        string
	Side          string // BUY / SELL
	OrderType     string // MARKET / LIMIT
	Quantity      float64
	Price         *float64 // required for LIMIT
	ClientOrderID string
}

// OrderAck is the normalized placement response.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string
	ExecutedQty     float64
	AvgPrice        float64
}

// ExchangeError carries the HTTP status of a failed exchange call. Callers
// treat 401/403 as credential-invalid and never retry those.
type ExchangeError struct {
	StatusCode int
	Message    string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether the exchange rejected the credentials.
func (e *ExchangeError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// ExchangeConnector is the capability set every exchange variant implements.
// Each variant keeps its own signing protocol and normalizes wire responses
// into the shared types above.
type ExchangeConnector interface {
	GetOrderbook(ctx context.Context, symbol string, limit int) (*Orderbook, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	TestConnection(ctx context.Context) error
	GetAccount(ctx context.Context) (*Account, error)
	Permissions(ctx context.Context) (*Permissions, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	Disconnect()
}
