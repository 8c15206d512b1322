package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const (
	binanceStreamURL        = "wss://stream.binance.com:9443/ws"
	binanceTestnetStreamURL = "wss://testnet.binance.vision/ws"

	// Binance expires a listen key after 60 minutes without a keepalive.
	listenKeyKeepalive = 30 * time.Minute
)

// FillEvent is one execution report from the user-data stream, already
// filtered down to actual trade executions.
type FillEvent struct {
	Symbol          string
	ClientOrderID   string
	ExchangeOrderID string
	Side            string
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
	TradeTime       time.Time
}

// FillHandler receives fill events in stream order.
type FillHandler func(FillEvent)

// BinanceFillStream consumes the Binance user-data websocket and forwards
// TRADE execution reports to a handler. The caller owns reconnect policy;
// Run returns on the first terminal error or when the context ends.
type BinanceFillStream struct {
	apiKey    string
	restURL   string
	streamURL string
	http      *http.Client
	dialer    *websocket.Dialer
}

func NewBinanceFillStream(apiKey string, testnet bool) *BinanceFillStream {
	restURL, streamURL := binanceBaseURL, binanceStreamURL
	if testnet {
		restURL, streamURL = binanceTestnetBaseURL, binanceTestnetStreamURL
	}
	return &BinanceFillStream{
		apiKey:    apiKey,
		restURL:   restURL,
		streamURL: streamURL,
		http:      &http.Client{Timeout: httpTimeout},
		dialer:    websocket.DefaultDialer,
	}
}

// WithEndpoints overrides the REST and websocket endpoints, for tests.
func (s *BinanceFillStream) WithEndpoints(restURL, streamURL string) *BinanceFillStream {
	s.restURL = strings.TrimRight(restURL, "/")
	s.streamURL = strings.TrimRight(streamURL, "/")
	return s
}

func (s *BinanceFillStream) listenKeyRequest(ctx context.Context, method, query string) ([]byte, error) {
	fullURL := s.restURL + "/api/v3/userDataStream"
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}

func (s *BinanceFillStream) createListenKey(ctx context.Context) (string, error) {
	body, err := s.listenKeyRequest(ctx, http.MethodPost, "")
	if err != nil {
		return "", err
	}
	var parsed struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal listen key: %w", err)
	}
	if parsed.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}
	return parsed.ListenKey, nil
}

type binanceExecutionReport struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	Side            string `json:"S"`
	ExecutionType   string `json:"x"`
	OrderID         int64  `json:"i"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
	Commission      string `json:"n"`
	CommissionAsset string `json:"N"`
	TradeTime       int64  `json:"T"`
}

// Run blocks consuming the stream until ctx is canceled or the connection
// fails. Non-trade events are skipped; malformed frames are logged and
// skipped rather than killing the stream.
func (s *BinanceFillStream) Run(ctx context.Context, handler FillHandler) error {
	listenKey, err := s.createListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.streamURL+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial user data stream: %w", err)
	}
	defer conn.Close()

	logger.WithFields(logger.Fields{
		"exchange": "binance",
	}).Info("User data stream connected")

	// close the socket when ctx ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	keepalive := time.NewTicker(listenKeyKeepalive)
	defer keepalive.Stop()
	go func() {
		for {
			select {
			case <-keepalive.C:
				if _, err := s.listenKeyRequest(ctx, http.MethodPut, "listenKey="+listenKey); err != nil {
					logger.WithFields(logger.Fields{
						"exchange": "binance",
						"error":    err.Error(),
					}).Warn("Listen key keepalive failed")
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}

		var report binanceExecutionReport
		if err := json.Unmarshal(frame, &report); err != nil {
			logger.WithFields(logger.Fields{
				"exchange": "binance",
				"error":    err.Error(),
			}).Warn("Skipping malformed stream frame")
			continue
		}
		if report.EventType != "executionReport" || report.ExecutionType != "TRADE" {
			continue
		}

		price, _ := strconv.ParseFloat(report.LastFilledPrice, 64)
		qty, _ := strconv.ParseFloat(report.LastFilledQty, 64)
		commission, _ := strconv.ParseFloat(report.Commission, 64)
		if qty <= 0 {
			continue
		}

		handler(FillEvent{
			Symbol:          report.Symbol,
			ClientOrderID:   report.ClientOrderID,
			ExchangeOrderID: strconv.FormatInt(report.OrderID, 10),
			Side:            report.Side,
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: report.CommissionAsset,
			TradeTime:       time.UnixMilli(report.TradeTime).UTC(),
		})
	}
}
