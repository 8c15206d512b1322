package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// Client calls the prediction service. One prediction per symbol/interval
// pair; the service answers with a direction, its confidence and the model's
// historical accuracy for that symbol.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Explanation is one feature contribution from the model.
type Explanation struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Prediction is the service's answer for one symbol.
type Prediction struct {
	Symbol       string        `json:"symbol"`
	Side         string        `json:"side"`
	Confidence   float64       `json:"confidence"`
	Accuracy     float64       `json:"accuracy"`
	EntryPrice   float64       `json:"entry_price"`
	StopLoss     *float64      `json:"stop_loss,omitempty"`
	TakeProfit   *float64      `json:"take_profit,omitempty"`
	Explanations []Explanation `json:"explanations,omitempty"`
}

type predictRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

type predictError struct {
	Error string `json:"error"`
}

// Predict asks the service for a signal on one symbol at one interval.
func (c *Client) Predict(ctx context.Context, symbol, interval string) (*Prediction, error) {
	var (
		prediction Prediction
		svcErr     predictError
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(predictRequest{Symbol: symbol, Interval: interval}).
		SetResult(&prediction).
		SetError(&svcErr).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", symbol, err)
	}
	if resp.IsError() {
		msg := svcErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("predict %s: status %d: %s", symbol, resp.StatusCode(), msg)
	}

	logger.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"interval":   interval,
		"side":       prediction.Side,
		"confidence": prediction.Confidence,
		"accuracy":   prediction.Accuracy,
	}).Debug("Prediction received")

	return &prediction, nil
}

// Health checks the prediction service.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("signal service health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("signal service health: status %d", resp.StatusCode())
	}
	return nil
}
