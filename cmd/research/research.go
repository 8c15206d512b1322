package research

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/engine"
	"tradeengine/src/repository"
	"tradeengine/src/scheduler"
	"tradeengine/src/security"
	"tradeengine/src/signals"
)

// Research is the scheduler process: it owns a scheduler instance plus the
// engine manager that drains the queues the scheduler fills.
type Research struct {
	Log *logger.Entry
}

func (r *Research) Start() error {
	cfg := scheduler.GetConfig()

	vault, err := security.NewVault()
	if err != nil {
		return err
	}

	engines := engine.NewUserEngineManager(
		vault,
		repository.NewSettingsRepository(),
		repository.NewSignalQueueRepository(),
		repository.NewActivityRepository(),
		repository.NewOrderRepository(),
		engine.GetConfig(),
	)
	defer engines.StopAll()

	predictor := signals.NewClient(cfg.SignalServiceURL, 30*time.Second)

	sched := scheduler.New(
		cfg,
		repository.NewLeaseRepository(),
		repository.NewSchedulerStateRepository(),
		repository.NewSymbolRankRepository(),
		repository.NewSignalQueueRepository(),
		repository.NewSettingsRepository(),
		predictor,
		engines,
	)

	r.Log.WithFields(logger.Fields{
		"owner_id": sched.OwnerID(),
		"bulk":     cfg.BulkMode,
	}).Info("Research scheduler process starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		r.Log.Info("Shutting down research scheduler...")
		cancel()
	}()

	sched.Run(ctx)
	return nil
}
