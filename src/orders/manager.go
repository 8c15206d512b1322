package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

var (
	// ErrOrderNotFound covers both a missing row and a row owned by someone
	// else; callers cannot tell the two apart.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotOpen is returned when canceling an order that already
	// reached a terminal status.
	ErrOrderNotOpen = errors.New("order is not open")
)

// ConnectorProvider resolves the exchange connector bound to a user. The
// engine manager implements this with its live connector registry.
type ConnectorProvider interface {
	ConnectorFor(ctx context.Context, userID uint) (connectors.ExchangeConnector, string, error)
}

// PlaceOrderRequest is the caller-facing order request. The client order id
// is never part of it; the manager generates one.
type PlaceOrderRequest struct {
	Symbol          string
	Side            string
	OrderType       string
	Quantity        float64
	Price           *float64
	StopLossPrice   *float64
	TakeProfitPrice *float64
	Strategy        string
}

func (r PlaceOrderRequest) validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Side != model.OrderSideBuy && r.Side != model.OrderSideSell {
		return fmt.Errorf("side must be %s or %s", model.OrderSideBuy, model.OrderSideSell)
	}
	if r.OrderType != model.OrderTypeMarket && r.OrderType != model.OrderTypeLimit {
		return fmt.Errorf("order type must be %s or %s", model.OrderTypeMarket, model.OrderTypeLimit)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be greater than zero")
	}
	if r.OrderType == model.OrderTypeLimit && r.Price == nil {
		return fmt.Errorf("price is required for limit orders")
	}
	return nil
}

// Manager owns the order lifecycle: placement against the exchange, the
// ledger row, cancels, fills and realized pnl.
type Manager struct {
	orders     *repository.OrderRepository
	activity   *repository.ActivityRepository
	connectors ConnectorProvider
}

func NewManager(orderRepo *repository.OrderRepository, activityRepo *repository.ActivityRepository, provider ConnectorProvider) *Manager {
	return &Manager{
		orders:     orderRepo,
		activity:   activityRepo,
		connectors: provider,
	}
}

// PlaceOrder submits the order to the user's exchange first and writes the
// ledger row only after the exchange accepted it. A rejected or timed-out
// exchange call leaves no row behind.
func (m *Manager) PlaceOrder(ctx context.Context, userID uint, req PlaceOrderRequest) (*model.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	conn, exchange, err := m.connectors.ConnectorFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve connector: %w", err)
	}

	clientOrderID := uuid.NewString()

	logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"exchange":        exchange,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"type":            req.OrderType,
		"qty":             req.Quantity,
		"client_order_id": clientOrderID,
	}).Info("Placing order")

	ack, err := conn.PlaceOrder(ctx, connectors.OrderSpec{
		Symbol:        req.Symbol,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		m.activity.LogActivity(ctx, userID, "ORDER_REJECTED", map[string]interface{}{
			"symbol": req.Symbol,
			"side":   req.Side,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("exchange rejected order: %w", err)
	}

	order := &model.Order{
		UserID:          userID,
		Exchange:        exchange,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Quantity:        req.Quantity,
		Price:           req.Price,
		Status:          model.OrderStatusNew,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: ack.ExchangeOrderID,
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Strategy:        req.Strategy,
	}

	if err := m.orders.Create(ctx, order); err != nil {
		// the exchange holds an order we failed to record; surface loudly
		logger.WithFields(map[string]interface{}{
			"user_id":           userID,
			"client_order_id":   clientOrderID,
			"exchange_order_id": ack.ExchangeOrderID,
		}).WithError(err).Error("Order accepted by exchange but ledger write failed")
		return nil, fmt.Errorf("persist order: %w", err)
	}

	m.activity.LogActivity(ctx, userID, "ORDER_PLACED", map[string]interface{}{
		"order_id":          order.ID,
		"symbol":            order.Symbol,
		"side":              order.Side,
		"qty":               order.Quantity,
		"exchange_order_id": order.ExchangeOrderID,
	})

	// market orders may come back already executed
	if ack.ExecutedQty > 0 {
		if _, err := m.RecordFill(ctx, userID, &model.Fill{
			OrderID:  order.ID,
			Quantity: ack.ExecutedQty,
			Price:    ack.AvgPrice,
		}); err != nil {
			logger.WithError(err).Warn("Failed to record immediate fill from placement ack")
		}
	}

	return order, nil
}

// CancelOrder cancels an order the user owns. Lookups are scoped by user id,
// so a valid order id belonging to another user yields ErrOrderNotFound.
func (m *Manager) CancelOrder(ctx context.Context, userID, orderID uint) error {
	order, err := m.orders.FindByIDAndUser(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status == model.OrderStatusFilled || order.Status == model.OrderStatusCanceled {
		return ErrOrderNotOpen
	}

	conn, _, err := m.connectors.ConnectorFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve connector: %w", err)
	}

	if err := conn.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID); err != nil {
		return fmt.Errorf("exchange cancel: %w", err)
	}

	if err := m.orders.UpdateStatus(ctx, order.ID, model.OrderStatusCanceled); err != nil {
		return err
	}

	m.activity.LogActivity(ctx, userID, "ORDER_CANCELED", map[string]interface{}{
		"order_id": order.ID,
		"symbol":   order.Symbol,
	})
	return nil
}

// RecordFill folds one execution into the order and, when a sell order
// completes, realizes pnl against the entry side's average price.
func (m *Manager) RecordFill(ctx context.Context, userID uint, fill *model.Fill) (*model.Order, error) {
	owned, err := m.orders.FindByIDAndUser(ctx, userID, fill.OrderID)
	if err != nil {
		return nil, err
	}
	if owned == nil {
		return nil, ErrOrderNotFound
	}

	order, err := m.orders.RecordFill(ctx, fill)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusFilled && order.Side == model.OrderSideSell {
		if err := m.realizePnL(ctx, order); err != nil {
			logger.WithFields(map[string]interface{}{
				"order_id": order.ID,
				"symbol":   order.Symbol,
			}).WithError(err).Warn("Failed to realize pnl on exit order")
		}
	}

	return order, nil
}

// realizePnL matches a completed sell against the user's most recent filled
// buy on the same symbol. No entry order means nothing to realize.
func (m *Manager) realizePnL(ctx context.Context, exit *model.Order) error {
	entries, err := m.orders.Search(ctx, repository.OrderSearchOptions{
		UserID: exit.UserID,
		Symbol: exit.Symbol,
		Status: model.OrderStatusFilled,
		Limit:  20,
	})
	if err != nil {
		return err
	}

	var entry *model.Order
	for i := range entries {
		if entries[i].Side == model.OrderSideBuy && entries[i].ID != exit.ID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil
	}

	pnl := (exit.AvgPrice - entry.AvgPrice) * exit.FilledQty
	if err := m.orders.UpdatePnL(ctx, exit.ID, pnl); err != nil {
		return err
	}

	m.activity.LogActivity(ctx, exit.UserID, "PNL_REALIZED", map[string]interface{}{
		"order_id":    exit.ID,
		"entry_order": entry.ID,
		"symbol":      exit.Symbol,
		"pnl":         pnl,
	})
	return nil
}

// ListOrders pages through a user's ledger newest first.
func (m *Manager) ListOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error) {
	return m.orders.Search(ctx, opts)
}

// OrderFills returns the fills of an order the user owns.
func (m *Manager) OrderFills(ctx context.Context, userID, orderID uint) ([]model.Fill, error) {
	order, err := m.orders.FindByIDAndUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return m.orders.FindFillsByOrderID(ctx, orderID)
}
