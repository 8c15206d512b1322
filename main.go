package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/database"
	"tradeengine/src/engine"
	"tradeengine/src/repository"
	"tradeengine/src/security"
	"tradeengine/src/server"
)

var (
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	vault, err := security.NewVault()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential vault")
	}

	engines := engine.NewUserEngineManager(
		vault,
		repository.NewSettingsRepository(),
		repository.NewSignalQueueRepository(),
		repository.NewActivityRepository(),
		repository.NewOrderRepository(),
		engine.GetConfig(),
	)

	cfg := server.GetConfig()
	server.StartServer(cfg.Port, server.Deps{
		Engines:  engines,
		Settings: repository.NewSettingsRepository(),
		States:   repository.NewSchedulerStateRepository(),
	})
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
