package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/orders"
	"tradeengine/src/repository"
	"tradeengine/src/security"
)

var (
	// ErrNoCredential means the user has no enabled exchange credential.
	ErrNoCredential = errors.New("no enabled exchange credential")

	// ErrLiveTradingDisabled means the global kill switch is off.
	ErrLiveTradingDisabled = errors.New("live trading is globally disabled")

	// ErrNoTradePermission means the exchange key cannot place orders.
	ErrNoTradePermission = errors.New("api key has no trade permission")

	// ErrEngineNotFound means no engine is running for the user.
	ErrEngineNotFound = errors.New("no engine running for user")
)

// UserEngineManager owns the engine registry: at most one AutoTradeEngine per
// user, created from that user's stored credential. It also implements the
// order manager's ConnectorProvider against the live registry.
type UserEngineManager struct {
	vault    *security.Vault
	settings *repository.SettingsRepository
	queue    *repository.SignalQueueRepository
	activity *repository.ActivityRepository
	orders   *orders.Manager
	ledger   *repository.OrderRepository
	cfg      Config

	// newConnector and newFillStream are swappable in tests.
	newConnector  func(exchange string, creds connectors.Credentials) (connectors.ExchangeConnector, error)
	newFillStream func(apiKey string, testnet bool) fillStream

	mu          sync.Mutex
	engines     map[uint]*AutoTradeEngine
	fillCancels map[uint]context.CancelFunc
	pollCancels map[uint]context.CancelFunc
}

// fillStream is the slice of the exchange user-data stream the manager
// consumes.
type fillStream interface {
	Run(ctx context.Context, handler connectors.FillHandler) error
}

func NewUserEngineManager(
	vault *security.Vault,
	settingsRepo *repository.SettingsRepository,
	queueRepo *repository.SignalQueueRepository,
	activityRepo *repository.ActivityRepository,
	orderRepo *repository.OrderRepository,
	cfg Config,
) *UserEngineManager {
	m := &UserEngineManager{
		vault:        vault,
		settings:     settingsRepo,
		queue:        queueRepo,
		activity:     activityRepo,
		ledger:       orderRepo,
		cfg:          cfg,
		newConnector: connectors.NewConnector,
		newFillStream: func(apiKey string, testnet bool) fillStream {
			return connectors.NewBinanceFillStream(apiKey, testnet)
		},
		engines:     make(map[uint]*AutoTradeEngine),
		fillCancels: make(map[uint]context.CancelFunc),
		pollCancels: make(map[uint]context.CancelFunc),
	}
	m.orders = orders.NewManager(orderRepo, activityRepo, m)
	return m
}

// Orders exposes the order manager wired to this registry.
func (m *UserEngineManager) Orders() *orders.Manager { return m.orders }

// decryptCredential turns a stored ciphertext row into usable credentials.
// An empty decrypt result means the ciphertext is unreadable under the
// current master key.
func (m *UserEngineManager) decryptCredential(cred *model.UserCredential) (connectors.Credentials, error) {
	apiKey := m.vault.DecryptString(cred.APIKeyEncrypted)
	secret := m.vault.DecryptString(cred.SecretEncrypted)
	if apiKey == "" || secret == "" {
		return connectors.Credentials{}, fmt.Errorf("credential for user %d is unreadable", cred.UserID)
	}
	return connectors.Credentials{
		APIKey:     apiKey,
		Secret:     secret,
		Passphrase: m.vault.DecryptString(cred.PassphraseEncrypted),
		Testnet:    cred.Testnet,
	}, nil
}

// CreateUserEngine builds (or rebuilds) the user's engine from their enabled
// credential. An existing engine is stopped first, so the invariant of at
// most one engine per user holds across re-creation.
func (m *UserEngineManager) CreateUserEngine(ctx context.Context, userID uint) (*AutoTradeEngine, error) {
	cred, err := m.settings.GetEnabledCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNoCredential
	}

	creds, err := m.decryptCredential(cred)
	if err != nil {
		return nil, err
	}

	conn, err := m.newConnector(cred.Exchange, creds)
	if err != nil {
		return nil, err
	}

	if err := conn.TestConnection(ctx); err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("exchange connection test: %w", err)
	}

	engine := NewAutoTradeEngine(userID, cred.Exchange, conn, m.settings, m.queue, m.activity, m.orders, m.cfg)

	m.mu.Lock()
	if prev, ok := m.engines[userID]; ok {
		prev.Disconnect()
	}
	if cancel, ok := m.fillCancels[userID]; ok {
		cancel()
		delete(m.fillCancels, userID)
	}
	m.engines[userID] = engine
	m.mu.Unlock()

	if cred.Exchange == connectors.ExchangeBinance && m.newFillStream != nil {
		m.startFillStream(userID, creds.APIKey, cred.Testnet)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"exchange": cred.Exchange,
	}).Info("User engine created")

	m.activity.LogActivity(ctx, userID, "ENGINE_CREATED", map[string]interface{}{
		"exchange": cred.Exchange,
	})
	return engine, nil
}

// startFillStream follows the user's exchange execution stream and folds
// every trade report into the ledger. The stream reconnects with a fixed
// delay until the engine is torn down.
func (m *UserEngineManager) startFillStream(userID uint, apiKey string, testnet bool) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.fillCancels[userID] = cancel
	m.mu.Unlock()

	stream := m.newFillStream(apiKey, testnet)

	go func() {
		for {
			err := stream.Run(ctx, func(ev connectors.FillEvent) {
				m.applyFillEvent(ctx, userID, ev)
			})
			if ctx.Err() != nil {
				return
			}
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
			}).WithError(err).Warn("Fill stream dropped, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

// applyFillEvent matches a stream execution report to its ledger row by
// client order id. Reports for unknown orders (manual trades placed outside
// this system) are logged and dropped.
func (m *UserEngineManager) applyFillEvent(ctx context.Context, userID uint, ev connectors.FillEvent) {
	order, err := m.ledger.FindByClientOrderID(ctx, userID, ev.ClientOrderID)
	if err != nil {
		logger.WithError(err).Error("Fill event order lookup failed")
		return
	}
	if order == nil {
		logger.WithFields(map[string]interface{}{
			"user_id":         userID,
			"client_order_id": ev.ClientOrderID,
			"symbol":          ev.Symbol,
		}).Debug("Fill event for unknown order, ignoring")
		return
	}

	if _, err := m.orders.RecordFill(ctx, userID, &model.Fill{
		OrderID:   order.ID,
		Symbol:    ev.Symbol,
		Side:      ev.Side,
		Quantity:  ev.Quantity,
		Price:     ev.Price,
		Fee:       ev.Commission,
		FeeAsset:  ev.CommissionAsset,
		Timestamp: ev.TradeTime,
	}); err != nil {
		logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"order_id": order.ID,
		}).WithError(err).Error("Failed to apply fill event")
	}
}

// startPollLoop runs the user's fixed-interval queue drain. The loop is what
// empties signals left behind when a drain pass stops at the batch limit, and
// it keeps draining even when no scheduler process is alive to push.
func (m *UserEngineManager) startPollLoop(userID uint) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if prev, ok := m.pollCancels[userID]; ok {
		prev()
	}
	m.pollCancels[userID] = cancel
	m.mu.Unlock()

	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.DrainUser(ctx, userID); err != nil {
					logger.WithFields(map[string]interface{}{
						"user_id": userID,
					}).WithError(err).Warn("Queue poll drain failed")
				}
			}
		}
	}()
}

func (m *UserEngineManager) stopPollLoop(userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.pollCancels[userID]; ok {
		cancel()
		delete(m.pollCancels, userID)
	}
}

// GetEngine returns the user's running engine, if any.
func (m *UserEngineManager) GetEngine(userID uint) (*AutoTradeEngine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, ok := m.engines[userID]
	return engine, ok
}

// StopUserEngine tears down the user's engine and its exchange connection.
func (m *UserEngineManager) StopUserEngine(ctx context.Context, userID uint) error {
	m.mu.Lock()
	engine, ok := m.engines[userID]
	if ok {
		delete(m.engines, userID)
	}
	if cancel, found := m.fillCancels[userID]; found {
		cancel()
		delete(m.fillCancels, userID)
	}
	if cancel, found := m.pollCancels[userID]; found {
		cancel()
		delete(m.pollCancels, userID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrEngineNotFound
	}

	engine.Disconnect()
	logger.WithFields(map[string]interface{}{"user_id": userID}).Info("User engine stopped")
	m.activity.LogActivity(ctx, userID, "ENGINE_STOPPED", nil)
	return nil
}

// StopAll tears down every engine, for shutdown.
func (m *UserEngineManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, engine := range m.engines {
		engine.Disconnect()
		delete(m.engines, userID)
	}
	for userID, cancel := range m.fillCancels {
		cancel()
		delete(m.fillCancels, userID)
	}
	for userID, cancel := range m.pollCancels {
		cancel()
		delete(m.pollCancels, userID)
	}
}

// ConnectorFor resolves the user's exchange connection for order placement,
// creating the engine on demand when none is running yet.
func (m *UserEngineManager) ConnectorFor(ctx context.Context, userID uint) (connectors.ExchangeConnector, string, error) {
	if engine, ok := m.GetEngine(userID); ok {
		return engine.Connector(), engine.Exchange(), nil
	}

	engine, err := m.CreateUserEngine(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return engine.Connector(), engine.Exchange(), nil
}

// StartAutoTrade enables automated execution for a user. The gates run in a
// fixed order and the first failure wins: an enabled credential must exist,
// the global live-trading switch must be on, and the exchange key must hold
// trade permission. A key that can also withdraw is allowed but flagged.
// Once armed, a fixed-interval poll loop drains the user's signal queue
// until StopAutoTrade or engine teardown cancels it.
func (m *UserEngineManager) StartAutoTrade(ctx context.Context, userID uint) error {
	cred, err := m.settings.GetEnabledCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCredential
	}

	if !m.cfg.LiveTradingEnabled {
		return ErrLiveTradingDisabled
	}

	engine, ok := m.GetEngine(userID)
	if !ok {
		engine, err = m.CreateUserEngine(ctx, userID)
		if err != nil {
			return err
		}
	}

	perms, err := engine.Connector().Permissions(ctx)
	if err != nil {
		return fmt.Errorf("permission probe: %w", err)
	}
	if !perms.CanTrade {
		return ErrNoTradePermission
	}
	if perms.CanWithdraw {
		logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"exchange": engine.Exchange(),
		}).Warn("Trading key holds withdraw permission")
		m.activity.LogActivity(ctx, userID, "WITHDRAW_PERMISSION_WARNING", map[string]interface{}{
			"exchange": engine.Exchange(),
		})
	}

	settings, err := m.settings.GetTradingSettings(ctx, userID)
	if err != nil {
		return err
	}
	if settings == nil {
		settings = &model.AutoTradeSettings{UserID: userID}
	}
	settings.AutoTradeEnabled = true
	settings.Mode = model.TradeModeAuto
	if err := m.settings.SaveTradingSettings(ctx, settings); err != nil {
		return err
	}

	m.startPollLoop(userID)
	m.activity.LogActivity(ctx, userID, "AUTOTRADE_STARTED", nil)
	return nil
}

// DrainUser executes one signal batch for a user, creating the engine on
// demand. Users without auto-trade enabled are left alone.
func (m *UserEngineManager) DrainUser(ctx context.Context, userID uint) (int, error) {
	settings, err := m.settings.GetTradingSettings(ctx, userID)
	if err != nil {
		return 0, err
	}
	if settings == nil || !settings.AutoTradeEnabled {
		return 0, nil
	}

	engine, ok := m.GetEngine(userID)
	if !ok {
		engine, err = m.CreateUserEngine(ctx, userID)
		if err != nil {
			return 0, err
		}
	}
	return engine.DrainQueue(ctx)
}

// StopAutoTrade disables automated execution and stops the user's poll loop,
// but leaves the engine and its connection available for manual orders.
func (m *UserEngineManager) StopAutoTrade(ctx context.Context, userID uint) error {
	m.stopPollLoop(userID)

	settings, err := m.settings.GetTradingSettings(ctx, userID)
	if err != nil {
		return err
	}
	if settings == nil {
		return nil
	}

	settings.AutoTradeEnabled = false
	settings.Mode = model.TradeModeManual
	if err := m.settings.SaveTradingSettings(ctx, settings); err != nil {
		return err
	}

	m.activity.LogActivity(ctx, userID, "AUTOTRADE_STOPPED", nil)
	return nil
}
