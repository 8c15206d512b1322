package database

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeengine/src/model"
)

// MainDB is the primary read/write database connection used by the
// application. Assigned once by InitMainDB at startup.
var MainDB *gorm.DB

// InitMainDB initializes the main database connection and runs migrations.
// This should be called once at application startup (e.g. in main()).
func InitMainDB() error {
	config := GetConfig()

	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Failed to get DB from GORM")
		return err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := db.AutoMigrate(
		&model.Order{},
		&model.Fill{},
		&model.TradeSignal{},
		&model.AutoTradeSettings{},
		&model.UserCredential{},
		&model.Lease{},
		&model.SchedulerState{},
		&model.SymbolRank{},
		&model.ActivityLog{},
	); err != nil {
		logrus.WithError(err).Error("Failed to migrate database")
		return err
	}

	MainDB = db
	logrus.Info("Database connection initialized")
	return nil
}
