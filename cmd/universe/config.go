package universe

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Candidates are the base assets considered for the universe.
	CandidatesStr string `envconfig:"UNIVERSE_CANDIDATES" default:"BTC,ETH,BNB,SOL,XRP,ADA,DOGE,AVAX,DOT,LINK,MATIC,LTC,ATOM,UNI,NEAR"`
	Quote         string `envconfig:"QUOTE" default:"USDT"`

	// TopN is how many symbols survive the volume ranking.
	TopN int `envconfig:"UNIVERSE_TOP_N" default:"10"`

	// LookbackHours is the window the quote volume is summed over.
	LookbackHours int `envconfig:"UNIVERSE_LOOKBACK_HOURS" default:"24"`
}

func (c *Config) Candidates() []string {
	parts := strings.Split(c.CandidatesStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
