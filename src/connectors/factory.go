package connectors

import (
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/security"
)

const (
	ExchangeBinance = "binance"
	ExchangeKucoin  = "kucoin"
	ExchangeKraken  = "kraken"
)

// Credentials is the decrypted credential set handed to the factory.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
	Testnet    bool
}

// ValidationError reports a malformed factory request (unknown exchange or
// missing credential fields). Distinct from ExchangeError: nothing was sent
// to any exchange yet.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connector validation: %s %s", e.Field, e.Reason)
}

// NewConnector maps an exchange identifier to a concrete variant, validating
// the required credential fields first so misconfiguration fails fast.
func NewConnector(exchange string, creds Credentials) (ExchangeConnector, error) {
	if creds.APIKey == "" {
		return nil, &ValidationError{Field: "apiKey", Reason: "is required"}
	}
	if creds.Secret == "" {
		return nil, &ValidationError{Field: "secret", Reason: "is required"}
	}

	name := strings.ToLower(strings.TrimSpace(exchange))

	logger.WithFields(logger.Fields{
		"exchange": name,
		"api_key":  security.MaskKey(creds.APIKey),
		"testnet":  creds.Testnet,
	}).Info("Building exchange connector")

	switch name {
	case ExchangeBinance:
		return NewBinanceConnector(creds.APIKey, creds.Secret, creds.Testnet), nil
	case ExchangeKucoin:
		if creds.Passphrase == "" {
			return nil, &ValidationError{Field: "passphrase", Reason: "is required for kucoin"}
		}
		return NewKucoinConnector(creds.APIKey, creds.Secret, creds.Passphrase), nil
	case ExchangeKraken:
		return NewKrakenFuturesConnector(creds.APIKey, creds.Secret, ""), nil
	default:
		return nil, &ValidationError{Field: "exchange", Reason: fmt.Sprintf("%q is not supported", exchange)}
	}
}
