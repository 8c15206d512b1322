package scheduler

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SignalServiceURL is the prediction service endpoint.
	SignalServiceURL string `envconfig:"SIGNAL_SERVICE_URL" default:"http://localhost:5000"`

	// LeaseGraceSeconds is added to the interval length to form the lease
	// TTL, so a lease always outlives the tick it protects.
	LeaseGraceSeconds int `envconfig:"SCHEDULER_LEASE_GRACE_SECONDS" default:"60"`

	// RunTimeoutSeconds is the hard ceiling on one research run.
	RunTimeoutSeconds int `envconfig:"SCHEDULER_RUN_TIMEOUT_SECONDS" default:"120"`

	// BulkMode processes the whole symbol universe each tick instead of
	// rotating one symbol at a time.
	BulkMode bool `envconfig:"SCHEDULER_BULK_MODE" default:"false"`

	// MinAccuracy drops predictions below this accuracy before they are
	// queued.
	MinAccuracy float64 `envconfig:"SCHEDULER_MIN_ACCURACY" default:"85"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(err)
	}
	return config
}
