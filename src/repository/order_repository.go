package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// OrderRepository handles read/write operations for the order/fill ledger.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main
// read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new ledger row. Called only after the exchange accepted
// the order, so a failed exchange call leaves no row behind.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "Create",
		"user_id":         order.UserID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"client_order_id": order.ClientOrderID,
	}).Debug("Creating order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithError(err).Error("Failed to create order")
		return err
	}
	return nil
}

// FindByIDAndUser fetches an order scoped to its owner.
// Returns (nil, nil) if no such order exists for that user.
func (r *OrderRepository) FindByIDAndUser(ctx context.Context, userID, orderID uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindByIDAndUser",
			"user_id":  userID,
			"order_id": orderID,
		}).WithError(err).Error("Failed to fetch order")
		return nil, err
	}
	return &order, nil
}

// FindByClientOrderID fetches an order by its (user, clientOrderID) key.
// Returns (nil, nil) if not found.
func (r *OrderRepository) FindByClientOrderID(ctx context.Context, userID uint, clientOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND client_order_id = ?", userID, clientOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus updates only the status of the given order ID.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID uint, status string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("status", status).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "UpdateStatus",
			"order_id": orderID,
			"status":   status,
		}).WithError(err).Error("Failed to update order status")
		return err
	}
	return nil
}

// RecordFill inserts the fill and folds it into the order's filled quantity
// and volume-weighted average price inside one transaction. The order row is
// locked for the duration, so concurrent fills on the same order are
// linearized by the store.
func (r *OrderRepository) RecordFill(ctx context.Context, fill *model.Fill) (*model.Order, error) {
	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "RecordFill",
		"order_id": fill.OrderID,
		"qty":      fill.Quantity,
		"price":    fill.Price,
	}).Debug("Recording fill")

	var updated model.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// sqlite has no row locks and serializes writers on its own
		loader := tx
		if tx.Dialector.Name() != "sqlite" {
			loader = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var order model.Order
		if err := loader.First(&order, fill.OrderID).Error; err != nil {
			return err
		}

		if fill.Timestamp.IsZero() {
			fill.Timestamp = time.Now().UTC()
		}
		if fill.Symbol == "" {
			fill.Symbol = order.Symbol
		}
		if fill.Side == "" {
			fill.Side = order.Side
		}

		if err := tx.Create(fill).Error; err != nil {
			return err
		}

		prevQty := decimal.NewFromFloat(order.FilledQty)
		prevAvg := decimal.NewFromFloat(order.AvgPrice)
		fillQty := decimal.NewFromFloat(fill.Quantity)
		fillPrice := decimal.NewFromFloat(fill.Price)

		newQty := prevQty.Add(fillQty)
		newAvg := prevAvg
		if newQty.IsPositive() {
			// avgPrice' = (avgPrice*filledQty + price*qty) / (filledQty+qty)
			newAvg = prevAvg.Mul(prevQty).Add(fillPrice.Mul(fillQty)).DivRound(newQty, 12)
		}

		order.FilledQty, _ = newQty.Float64()
		order.AvgPrice, _ = newAvg.Float64()
		if order.FilledQty >= order.Quantity {
			order.Status = model.OrderStatusFilled
		} else {
			order.Status = model.OrderStatusPartiallyFilled
		}

		if err := tx.Model(&model.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"filled_qty": order.FilledQty,
				"avg_price":  order.AvgPrice,
				"status":     order.Status,
			}).Error; err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "RecordFill",
			"order_id": fill.OrderID,
		}).WithError(err).Error("Failed to record fill")
		return nil, err
	}

	return &updated, nil
}

// UpdatePnL sets the realized pnl of an order.
func (r *OrderRepository) UpdatePnL(ctx context.Context, orderID uint, pnl float64) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("pnl", pnl).Error
}

// OrderSearchOptions filters Search. Zero values are skipped.
type OrderSearchOptions struct {
	UserID uint
	Symbol string
	Status string
	Limit  int
	Offset int
}

// Search lists a user's orders newest first, filterable by symbol and
// status, paginated.
func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("user_id = ?", opts.UserID)

	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	query = query.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "Search",
			"user_id": opts.UserID,
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}
	return orders, nil
}

// FindFillsByOrderID lists fills for one order, newest first.
func (r *OrderRepository) FindFillsByOrderID(ctx context.Context, orderID uint) ([]model.Fill, error) {
	var fills []model.Fill
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("timestamp DESC, id DESC").
		Find(&fills).Error
	if err != nil {
		return nil, err
	}
	return fills, nil
}
