package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.Fill{}, &model.ActivityLog{}))
	return db
}

// fakeConnector scripts placement and cancel behavior.
type fakeConnector struct {
	connectors.ExchangeConnector

	placeAck  *connectors.OrderAck
	placeErr  error
	placed    []connectors.OrderSpec
	cancelErr error
	canceled  []string
}

func (f *fakeConnector) PlaceOrder(_ context.Context, spec connectors.OrderSpec) (*connectors.OrderAck, error) {
	f.placed = append(f.placed, spec)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	ack := *f.placeAck
	ack.ClientOrderID = spec.ClientOrderID
	return &ack, nil
}

func (f *fakeConnector) CancelOrder(_ context.Context, _ string, exchangeOrderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, exchangeOrderID)
	return nil
}

type fakeProvider struct {
	conn connectors.ExchangeConnector
	err  error
}

func (p *fakeProvider) ConnectorFor(context.Context, uint) (connectors.ExchangeConnector, string, error) {
	if p.err != nil {
		return nil, "", p.err
	}
	return p.conn, "binance", nil
}

func newTestManager(t *testing.T, conn connectors.ExchangeConnector) (*Manager, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	m := NewManager(
		repository.NewOrderRepository().WithDB(db),
		repository.NewActivityRepository().WithDB(db),
		&fakeProvider{conn: conn},
	)
	return m, db
}

func TestPlaceOrderPersistsOnlyOnExchangeSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("success creates ledger row with generated client id", func(t *testing.T) {
		conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-1", Status: "NEW"}}
		m, db := newTestManager(t, conn)

		order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
			Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 0.5,
		})
		require.NoError(t, err)
		require.NotEmpty(t, order.ClientOrderID)
		require.Equal(t, conn.placed[0].ClientOrderID, order.ClientOrderID)
		require.Equal(t, "ex-1", order.ExchangeOrderID)
		require.Equal(t, model.OrderStatusNew, order.Status)

		var count int64
		require.NoError(t, db.Model(&model.Order{}).Count(&count).Error)
		require.Equal(t, int64(1), count)
	})

	t.Run("exchange rejection leaves no row", func(t *testing.T) {
		conn := &fakeConnector{placeErr: &connectors.ExchangeError{StatusCode: 400, Message: "insufficient balance"}}
		m, db := newTestManager(t, conn)

		_, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
			Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 0.5,
		})
		require.Error(t, err)

		var count int64
		require.NoError(t, db.Model(&model.Order{}).Count(&count).Error)
		require.Zero(t, count)
	})

	t.Run("immediate execution in the ack is recorded as a fill", func(t *testing.T) {
		conn := &fakeConnector{placeAck: &connectors.OrderAck{
			ExchangeOrderID: "ex-2", Status: "FILLED", ExecutedQty: 0.5, AvgPrice: 64000,
		}}
		m, db := newTestManager(t, conn)

		order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
			Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 0.5,
		})
		require.NoError(t, err)

		var stored model.Order
		require.NoError(t, db.First(&stored, order.ID).Error)
		require.Equal(t, model.OrderStatusFilled, stored.Status)
		require.Equal(t, 0.5, stored.FilledQty)
		require.Equal(t, 64000.0, stored.AvgPrice)
	})

	t.Run("invalid request never reaches the exchange", func(t *testing.T) {
		conn := &fakeConnector{placeAck: &connectors.OrderAck{}}
		m, _ := newTestManager(t, conn)

		_, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{Symbol: "BTCUSDT", Side: "HOLD", OrderType: "MARKET", Quantity: 1})
		require.Error(t, err)
		require.Empty(t, conn.placed)
	})
}

func TestCancelOrderOwnership(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-9", Status: "NEW"}}
	m, db := newTestManager(t, conn)

	order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "ETHUSDT", Side: "SELL", OrderType: "LIMIT", Quantity: 1, Price: floatPtr(3200),
	})
	require.NoError(t, err)

	t.Run("another user sees not found", func(t *testing.T) {
		err := m.CancelOrder(ctx, 8, order.ID)
		require.ErrorIs(t, err, ErrOrderNotFound)
		require.Empty(t, conn.canceled)
	})

	t.Run("owner cancels", func(t *testing.T) {
		require.NoError(t, m.CancelOrder(ctx, 7, order.ID))
		require.Equal(t, []string{"ex-9"}, conn.canceled)

		var stored model.Order
		require.NoError(t, db.First(&stored, order.ID).Error)
		require.Equal(t, model.OrderStatusCanceled, stored.Status)
	})

	t.Run("canceled order is not open", func(t *testing.T) {
		err := m.CancelOrder(ctx, 7, order.ID)
		require.ErrorIs(t, err, ErrOrderNotOpen)
	})
}

func TestCancelOrderExchangeFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-3", Status: "NEW"}}
	m, db := newTestManager(t, conn)

	order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT", Quantity: 1, Price: floatPtr(60000),
	})
	require.NoError(t, err)

	conn.cancelErr = errors.New("exchange unreachable")
	require.Error(t, m.CancelOrder(ctx, 7, order.ID))

	var stored model.Order
	require.NoError(t, db.First(&stored, order.ID).Error)
	require.Equal(t, model.OrderStatusNew, stored.Status)
}

func TestRecordFillRealizesPnLOnExit(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-entry", Status: "NEW"}}
	m, db := newTestManager(t, conn)

	entry, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 2,
	})
	require.NoError(t, err)
	_, err = m.RecordFill(ctx, 7, &model.Fill{OrderID: entry.ID, Quantity: 2, Price: 60000})
	require.NoError(t, err)

	conn.placeAck = &connectors.OrderAck{ExchangeOrderID: "ex-exit", Status: "NEW"}
	exit, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: "SELL", OrderType: "MARKET", Quantity: 2,
	})
	require.NoError(t, err)

	updated, err := m.RecordFill(ctx, 7, &model.Fill{OrderID: exit.ID, Quantity: 2, Price: 61500})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, updated.Status)

	var stored model.Order
	require.NoError(t, db.First(&stored, exit.ID).Error)
	require.InDelta(t, 3000.0, stored.PnL, 1e-6, "(61500-60000)*2")
}

func TestRecordFillRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-1", Status: "NEW"}}
	m, _ := newTestManager(t, conn)

	order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 1,
	})
	require.NoError(t, err)

	_, err = m.RecordFill(ctx, 8, &model.Fill{OrderID: order.ID, Quantity: 1, Price: 100})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderFills(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{placeAck: &connectors.OrderAck{ExchangeOrderID: "ex-1", Status: "NEW"}}
	m, _ := newTestManager(t, conn)

	order, err := m.PlaceOrder(ctx, 7, PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 3,
	})
	require.NoError(t, err)

	_, err = m.RecordFill(ctx, 7, &model.Fill{OrderID: order.ID, Quantity: 1, Price: 100})
	require.NoError(t, err)
	_, err = m.RecordFill(ctx, 7, &model.Fill{OrderID: order.ID, Quantity: 2, Price: 101})
	require.NoError(t, err)

	fills, err := m.OrderFills(ctx, 7, order.ID)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	_, err = m.OrderFills(ctx, 8, order.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func floatPtr(v float64) *float64 { return &v }
