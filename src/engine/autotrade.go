package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/orders"
	"tradeengine/src/repository"
)

const (
	defaultStopLossPct   = 1.5
	defaultTakeProfitPct = 3.0
)

var (
	// ErrBreakerTripped blocks execution until an explicit operator reset.
	ErrBreakerTripped = errors.New("circuit breaker is tripped")

	// ErrPanicStop blocks execution while the user's panic stop is set.
	ErrPanicStop = errors.New("panic stop is active")

	// ErrSizedToZero means the sizing bands produced no position for the
	// signal's accuracy. The signal is skipped, not failed.
	ErrSizedToZero = errors.New("position sized to zero")
)

// CalculatePositionSize maps signal accuracy to a notional position using the
// user's sizing bands, then caps it at maxPosition. The returned reason is
// human-readable and always set; a zero size still explains itself.
func CalculatePositionSize(balance, accuracy float64, bands model.PositionSizingMap, maxPosition float64) (float64, string) {
	if balance <= 0 {
		return 0, "no available balance"
	}

	var pct float64
	matched := false
	for _, band := range bands {
		if accuracy >= band.Min && accuracy <= band.Max {
			pct = band.Percent
			matched = true
			break
		}
	}
	if !matched {
		return 0, fmt.Sprintf("accuracy %.2f matches no sizing band", accuracy)
	}
	if pct == 0 {
		return 0, fmt.Sprintf("accuracy %.2f sized to zero risk", accuracy)
	}

	size, _ := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Float64()

	if maxPosition > 0 && size > maxPosition {
		return maxPosition, fmt.Sprintf("accuracy %.2f sized %.2f, capped at max position %.2f", accuracy, size, maxPosition)
	}
	return size, fmt.Sprintf("accuracy %.2f sized at %.2f%% of balance", accuracy, pct)
}

// AutoTradeEngine executes queued signals for a single user against that
// user's exchange connection. One engine exists per user at most; the
// manager enforces that.
type AutoTradeEngine struct {
	userID   uint
	exchange string
	conn     connectors.ExchangeConnector

	settings *repository.SettingsRepository
	queue    *repository.SignalQueueRepository
	activity *repository.ActivityRepository
	orders   *orders.Manager

	cfg Config
	now func() time.Time

	mu          sync.Mutex
	lastTradeAt time.Time
	tradeDay    string
	tradesToday int
}

func NewAutoTradeEngine(
	userID uint,
	exchange string,
	conn connectors.ExchangeConnector,
	settingsRepo *repository.SettingsRepository,
	queueRepo *repository.SignalQueueRepository,
	activityRepo *repository.ActivityRepository,
	orderManager *orders.Manager,
	cfg Config,
) *AutoTradeEngine {
	return &AutoTradeEngine{
		userID:   userID,
		exchange: exchange,
		conn:     conn,
		settings: settingsRepo,
		queue:    queueRepo,
		activity: activityRepo,
		orders:   orderManager,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (e *AutoTradeEngine) UserID() uint     { return e.userID }
func (e *AutoTradeEngine) Exchange() string { return e.exchange }

// Connector exposes the engine's live exchange connection.
func (e *AutoTradeEngine) Connector() connectors.ExchangeConnector { return e.conn }

// Disconnect releases the exchange connection.
func (e *AutoTradeEngine) Disconnect() {
	e.conn.Disconnect()
}

// checkGuards enforces the per-trade safety rails in a fixed order: breaker,
// panic stop, daily trade cap, cooldown. The first failing guard wins.
func (e *AutoTradeEngine) checkGuards(settings *model.AutoTradeSettings) error {
	if settings.BreakerTripped {
		return ErrBreakerTripped
	}
	if settings.PanicStopEnabled {
		return ErrPanicStop
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.now().UTC().Format("2006-01-02")
	if e.tradeDay != today {
		e.tradeDay = today
		e.tradesToday = 0
	}
	if settings.MaxTradesPerDay > 0 && e.tradesToday >= settings.MaxTradesPerDay {
		return fmt.Errorf("daily trade limit %d reached", settings.MaxTradesPerDay)
	}
	if settings.CooldownSeconds > 0 && !e.lastTradeAt.IsZero() {
		elapsed := e.now().Sub(e.lastTradeAt)
		if cooldown := time.Duration(settings.CooldownSeconds) * time.Second; elapsed < cooldown {
			return fmt.Errorf("cooldown active for another %s", (cooldown - elapsed).Round(time.Second))
		}
	}
	return nil
}

func (e *AutoTradeEngine) noteTradePlaced() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTradeAt = e.now()
	e.tradesToday++
}

// ExecuteTrade runs one signal end to end: guards, sizing, protective price
// defaults, placement. Failures feed the circuit breaker; successes clear
// the failure counter.
func (e *AutoTradeEngine) ExecuteTrade(ctx context.Context, signal *model.TradeSignal) (*model.Order, error) {
	settings, err := e.settings.GetTradingSettings(ctx, e.userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, fmt.Errorf("no trading settings for user %d", e.userID)
	}

	if err := e.checkGuards(settings); err != nil {
		return nil, err
	}

	entryPrice := signal.EntryPrice
	if entryPrice <= 0 {
		ticker, err := e.conn.GetTicker(ctx, signal.Symbol)
		if err != nil {
			e.recordFailure(ctx)
			return nil, fmt.Errorf("fetch ticker: %w", err)
		}
		entryPrice = ticker.Price
	}

	account, err := e.conn.GetAccount(ctx)
	if err != nil {
		e.recordFailure(ctx)
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	balance := account.Balances[e.cfg.QuoteAsset]

	bands, err := settings.SizingMap()
	if err != nil {
		return nil, err
	}

	notional, reason := CalculatePositionSize(balance, signal.Accuracy, bands, settings.MaxPositionPerTrade)
	if notional <= 0 {
		logger.WithFields(map[string]interface{}{
			"user_id": e.userID,
			"symbol":  signal.Symbol,
			"reason":  reason,
		}).Info("Signal skipped by position sizing")
		return nil, fmt.Errorf("%w: %s", ErrSizedToZero, reason)
	}

	quantity, _ := decimal.NewFromFloat(notional).
		DivRound(decimal.NewFromFloat(entryPrice), 8).
		Float64()

	stopLoss, takeProfit := protectivePrices(signal, settings, entryPrice)

	logger.WithFields(map[string]interface{}{
		"user_id":  e.userID,
		"symbol":   signal.Symbol,
		"side":     signal.Side,
		"notional": notional,
		"qty":      quantity,
		"entry":    entryPrice,
		"reason":   reason,
	}).Info("Executing auto-trade signal")

	order, err := e.orders.PlaceOrder(ctx, e.userID, orders.PlaceOrderRequest{
		Symbol:          signal.Symbol,
		Side:            signal.Side,
		OrderType:       model.OrderTypeMarket,
		Quantity:        quantity,
		StopLossPrice:   &stopLoss,
		TakeProfitPrice: &takeProfit,
		Strategy:        "auto",
	})
	if err != nil {
		e.recordFailure(ctx)
		return nil, err
	}

	e.noteTradePlaced()
	if err := e.settings.RecordTradeSuccess(ctx, e.userID); err != nil {
		logger.WithError(err).Warn("Failed to clear failure counter")
	}
	return order, nil
}

// protectivePrices resolves stop-loss and take-profit, preferring the
// signal's own levels and falling back to the user's percentages, then the
// built-in defaults. Sells mirror the offsets.
func protectivePrices(signal *model.TradeSignal, settings *model.AutoTradeSettings, entryPrice float64) (float64, float64) {
	slPct := settings.StopLossPct
	if slPct <= 0 {
		slPct = defaultStopLossPct
	}
	tpPct := settings.TakeProfitPct
	if tpPct <= 0 {
		tpPct = defaultTakeProfitPct
	}

	var stopLoss, takeProfit float64
	if signal.Side == model.OrderSideSell {
		stopLoss = entryPrice * (1 + slPct/100)
		takeProfit = entryPrice * (1 - tpPct/100)
	} else {
		stopLoss = entryPrice * (1 - slPct/100)
		takeProfit = entryPrice * (1 + tpPct/100)
	}

	if signal.StopLoss != nil && *signal.StopLoss > 0 {
		stopLoss = *signal.StopLoss
	}
	if signal.TakeProfit != nil && *signal.TakeProfit > 0 {
		takeProfit = *signal.TakeProfit
	}
	return stopLoss, takeProfit
}

func (e *AutoTradeEngine) recordFailure(ctx context.Context) {
	failures, tripped, err := e.settings.RecordTradeFailure(ctx, e.userID, e.cfg.BreakerThreshold)
	if err != nil {
		logger.WithError(err).Error("Failed to record trade failure")
		return
	}
	if tripped {
		e.activity.LogActivity(ctx, e.userID, "BREAKER_TRIPPED", map[string]interface{}{
			"consecutive_failures": failures,
		})
	}
}

// DrainQueue executes one batch of queued signals FIFO. Every signal taken
// from the queue reaches a terminal status in this pass; a tripped breaker
// or panic stop skips the remainder of the batch.
func (e *AutoTradeEngine) DrainQueue(ctx context.Context) (int, error) {
	batch, err := e.queue.NextBatch(ctx, e.userID, e.cfg.QueueBatchSize)
	if err != nil {
		return 0, err
	}

	executed := 0
	for i := range batch {
		signal := &batch[i]

		order, err := e.ExecuteTrade(ctx, signal)
		switch {
		case err == nil:
			executed++
			if mErr := e.queue.MarkTerminal(ctx, signal.ID, model.SignalStatusExecuted, "", &order.ID); mErr != nil {
				logger.WithError(mErr).Error("Failed to mark signal executed")
			}
		case errors.Is(err, ErrSizedToZero):
			if mErr := e.queue.MarkTerminal(ctx, signal.ID, model.SignalStatusSkipped, err.Error(), nil); mErr != nil {
				logger.WithError(mErr).Error("Failed to mark signal skipped")
			}
		case errors.Is(err, ErrBreakerTripped), errors.Is(err, ErrPanicStop):
			if mErr := e.queue.MarkTerminal(ctx, signal.ID, model.SignalStatusSkipped, err.Error(), nil); mErr != nil {
				logger.WithError(mErr).Error("Failed to mark signal skipped")
			}
			// the same guard would stop every remaining signal
			for j := i + 1; j < len(batch); j++ {
				_ = e.queue.MarkTerminal(ctx, batch[j].ID, model.SignalStatusSkipped, err.Error(), nil)
			}
			return executed, err
		default:
			if mErr := e.queue.MarkTerminal(ctx, signal.ID, model.SignalStatusFailed, err.Error(), nil); mErr != nil {
				logger.WithError(mErr).Error("Failed to mark signal failed")
			}
		}
	}
	return executed, nil
}
