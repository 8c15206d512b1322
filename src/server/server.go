package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/engine"
	"tradeengine/src/handler"
	"tradeengine/src/repository"
	"tradeengine/src/scheduler"
)

// Deps carries the wired services the HTTP surface exposes. Scheduler may be
// nil when this process does not run research.
type Deps struct {
	Engines   *engine.UserEngineManager
	Settings  *repository.SettingsRepository
	States    *repository.SchedulerStateRepository
	Scheduler *scheduler.Scheduler
}

// NewRouter builds the route tree. Split from StartServer so tests can mount
// it on httptest.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", handler.SearchOrdersHandler(deps.Engines.Orders()))
			r.Post("/", handler.PlaceOrderHandler(deps.Engines.Orders()))
			r.Delete("/{orderID}", handler.CancelOrderHandler(deps.Engines.Orders()))
			r.Get("/{orderID}/fills", handler.OrderFillsHandler(deps.Engines.Orders()))
		})

		r.Route("/engine", func(r chi.Router) {
			r.Post("/stop", handler.StopEngineHandler(deps.Engines))
			r.Post("/autotrade/start", handler.StartAutoTradeHandler(deps.Engines))
			r.Post("/autotrade/stop", handler.StopAutoTradeHandler(deps.Engines))
			r.Post("/autotrade/reset-breaker", handler.ResetBreakerHandler(deps.Settings))
		})

		if deps.Scheduler != nil {
			r.Post("/scheduler/run", handler.TriggerSchedulerHandler(deps.Scheduler))
		}
		r.Get("/scheduler/state", handler.SchedulerStateHandler(deps.States))
	})

	return r
}

// StartServer serves the API until SIGINT or SIGTERM, then drains.
func StartServer(port string, deps Deps) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(deps),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}

	deps.Engines.StopAll()
}
