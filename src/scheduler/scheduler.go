package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/signals"
)

// Intervals are the supported research cadences. Each runs on its own ticker
// and holds its own lease.
var Intervals = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

func intervalKey(interval time.Duration) string {
	return fmt.Sprintf("research:%dm", int(interval.Minutes()))
}

func predictionInterval(interval time.Duration) string {
	return fmt.Sprintf("%dm", int(interval.Minutes()))
}

// ErrRunInProgress means this process is already running the interval.
var ErrRunInProgress = errors.New("research run already in progress")

// Predictor is the slice of the signal client the scheduler needs.
type Predictor interface {
	Predict(ctx context.Context, symbol, interval string) (*signals.Prediction, error)
}

// Dispatcher drains a user's signal queue after new signals arrive. The
// engine manager implements it.
type Dispatcher interface {
	DrainUser(ctx context.Context, userID uint) (int, error)
}

// Scheduler runs the research loop: on each interval tick it takes the
// interval's lease, picks the next symbol from the rotating universe (or the
// whole universe in bulk mode), asks the prediction service and enqueues
// signals for every auto-trade user. Exactly one process runs a given
// interval at a time; the lease arbitrates across processes and a local
// guard prevents overlapping ticks within the process.
type Scheduler struct {
	ownerID string
	cfg     Config

	leases    *repository.LeaseRepository
	state     *repository.SchedulerStateRepository
	ranks     *repository.SymbolRankRepository
	queue     *repository.SignalQueueRepository
	settings  *repository.SettingsRepository
	predictor Predictor
	dispatch  Dispatcher

	now func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

func New(
	cfg Config,
	leaseRepo *repository.LeaseRepository,
	stateRepo *repository.SchedulerStateRepository,
	rankRepo *repository.SymbolRankRepository,
	queueRepo *repository.SignalQueueRepository,
	settingsRepo *repository.SettingsRepository,
	predictor Predictor,
	dispatcher Dispatcher,
) *Scheduler {
	return &Scheduler{
		ownerID:   uuid.NewString(),
		cfg:       cfg,
		leases:    leaseRepo,
		state:     stateRepo,
		ranks:     rankRepo,
		queue:     queueRepo,
		settings:  settingsRepo,
		predictor: predictor,
		dispatch:  dispatcher,
		now:       time.Now,
		running:   make(map[string]bool),
	}
}

// OwnerID identifies this scheduler process in lease rows.
func (s *Scheduler) OwnerID() string { return s.ownerID }

// Run blocks until ctx is canceled, ticking every supported interval.
func (s *Scheduler) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"owner_id": s.ownerID,
		"bulk":     s.cfg.BulkMode,
	}).Info("Research scheduler starting")

	var wg sync.WaitGroup
	for _, interval := range Intervals {
		wg.Add(1)
		go func(interval time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					// automatic ticks never force: a held lease means a peer
					// process is doing the work
					_ = s.RunInterval(ctx, interval, false)
				}
			}
		}(interval)
	}
	wg.Wait()

	logger.WithFields(map[string]interface{}{"owner_id": s.ownerID}).Info("Research scheduler stopped")
}

// tryBegin marks an interval as running in this process. Ticks that land
// while the previous run is still going are dropped.
func (s *Scheduler) tryBegin(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] {
		return false
	}
	s.running[key] = true
	return true
}

func (s *Scheduler) end(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// RunInterval executes one research pass for an interval. The run outcome is
// persisted whether the pass succeeds, fails or times out, and the lease is
// released on every path once held. force takes the lease even while a peer
// holds it; it is reserved for operator-triggered runs.
func (s *Scheduler) RunInterval(ctx context.Context, interval time.Duration, force bool) error {
	key := intervalKey(interval)

	if !s.tryBegin(key) {
		logger.WithFields(map[string]interface{}{"interval": key}).Debug("Previous run still in progress, skipping tick")
		return ErrRunInProgress
	}
	defer s.end(key)

	ttl := interval + time.Duration(s.cfg.LeaseGraceSeconds)*time.Second
	if err := s.leases.Acquire(ctx, key, s.ownerID, ttl, force); err != nil {
		if errors.Is(err, repository.ErrLeaseHeld) {
			logger.WithFields(map[string]interface{}{"interval": key}).Debug("Lease held elsewhere, skipping tick")
			return err
		}
		logger.WithFields(map[string]interface{}{"interval": key}).WithError(err).Error("Lease acquire failed")
		return err
	}
	defer func() {
		if err := s.leases.Release(context.Background(), key, s.ownerID); err != nil {
			logger.WithFields(map[string]interface{}{"interval": key}).WithError(err).Error("Lease release failed")
		}
	}()

	timeout := time.Duration(s.cfg.RunTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := s.now()
	symbol, runErr := s.runOnce(runCtx, interval, key)
	duration := s.now().Sub(started)

	if err := s.state.RecordRun(context.Background(), key, symbol, runErr == nil, duration, runErr); err != nil {
		logger.WithFields(map[string]interface{}{"interval": key}).WithError(err).Error("Failed to record run outcome")
	}

	if runErr != nil {
		logger.WithFields(map[string]interface{}{
			"interval": key,
			"symbol":   symbol,
			"duration": duration.String(),
		}).WithError(runErr).Warn("Research run failed")
		return runErr
	}
	logger.WithFields(map[string]interface{}{
		"interval": key,
		"symbol":   symbol,
		"duration": duration.String(),
	}).Info("Research run completed")
	return nil
}

// runOnce picks the symbols for this pass and researches them. Returns the
// symbol processed (the first one in bulk mode) for the run record.
func (s *Scheduler) runOnce(ctx context.Context, interval time.Duration, key string) (string, error) {
	universe, err := s.ranks.ListUniverse(ctx)
	if err != nil {
		return "", fmt.Errorf("load universe: %w", err)
	}
	if len(universe) == 0 {
		return "", fmt.Errorf("symbol universe is empty")
	}

	if s.cfg.BulkMode {
		for _, symbol := range universe {
			if ctx.Err() != nil {
				return symbol, ctx.Err()
			}
			if err := s.research(ctx, symbol, interval); err != nil {
				return symbol, err
			}
		}
		return universe[0], nil
	}

	symbol, err := s.nextRotationSymbol(ctx, key, universe)
	if err != nil {
		return "", err
	}
	return symbol, s.research(ctx, symbol, interval)
}

// nextRotationSymbol advances the interval's cursor by one position modulo
// the universe size. The cursor write is verified before any research runs;
// a failed verification aborts the pass with the cursor restored.
func (s *Scheduler) nextRotationSymbol(ctx context.Context, key string, universe []string) (string, error) {
	state, err := s.state.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load cursor: %w", err)
	}

	prev := -1
	if state != nil {
		prev = state.LastProcessedIndex
	}
	next := (prev + 1) % len(universe)

	if err := s.state.AdvanceCursor(ctx, key, prev, next); err != nil {
		return "", fmt.Errorf("advance cursor: %w", err)
	}
	return universe[next], nil
}

// research asks the prediction service about one symbol and enqueues the
// result for every auto-trade user, then kicks their queue drains.
func (s *Scheduler) research(ctx context.Context, symbol string, interval time.Duration) error {
	prediction, err := s.predictor.Predict(ctx, symbol, predictionInterval(interval))
	if err != nil {
		return err
	}

	if prediction.Side == "" || prediction.Accuracy < s.cfg.MinAccuracy {
		logger.WithFields(map[string]interface{}{
			"symbol":   symbol,
			"side":     prediction.Side,
			"accuracy": prediction.Accuracy,
		}).Debug("Prediction below threshold, not queued")
		return nil
	}

	users, err := s.settings.ListAutoTradeEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list auto-trade users: %w", err)
	}

	for _, user := range users {
		signal := &model.TradeSignal{
			UserID:     user.UserID,
			RequestID:  uuid.NewString(),
			Symbol:     symbol,
			Side:       prediction.Side,
			EntryPrice: prediction.EntryPrice,
			Accuracy:   prediction.Accuracy,
			StopLoss:   prediction.StopLoss,
			TakeProfit: prediction.TakeProfit,
		}
		if err := s.queue.Enqueue(ctx, signal); err != nil {
			if errors.Is(err, repository.ErrDuplicateSignal) {
				continue
			}
			return fmt.Errorf("enqueue for user %d: %w", user.UserID, err)
		}

		if s.dispatch != nil {
			if _, err := s.dispatch.DrainUser(ctx, user.UserID); err != nil {
				logger.WithFields(map[string]interface{}{
					"user_id": user.UserID,
					"symbol":  symbol,
				}).WithError(err).Warn("Queue drain after enqueue failed")
			}
		}
	}
	return nil
}
