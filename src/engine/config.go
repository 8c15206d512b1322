package engine

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// LiveTradingEnabled is the global kill switch. When false, StartAutoTrade
	// refuses for every user regardless of their own settings.
	LiveTradingEnabled bool `envconfig:"LIVE_TRADING_ENABLED" default:"false"`

	// BreakerThreshold is the consecutive-failure count that trips a user's
	// circuit breaker.
	BreakerThreshold int `envconfig:"BREAKER_THRESHOLD" default:"3"`

	// QueueBatchSize bounds how many queued signals one drain pass executes.
	QueueBatchSize int `envconfig:"QUEUE_BATCH_SIZE" default:"10"`

	// QuoteAsset is the balance currency used for position sizing.
	QuoteAsset string `envconfig:"QUOTE_ASSET" default:"USDT"`

	// PollInterval is the cadence of the per-user queue drain loop that runs
	// while auto-trade is enabled.
	PollInterval time.Duration `envconfig:"ENGINE_POLL_INTERVAL" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(err)
	}
	return config
}
