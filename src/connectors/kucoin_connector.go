package connectors

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

const kucoinBaseURL = "https://api.kucoin.com"

// Generic KuCoin envelope
type kucoinAPIResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`
}

// KC-API-PASSPHRASE = base64( HMAC_SHA256(apiSecret, apiPassphrase) )
func kucoinSignPassphrase(secret, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KC-API-SIGN = base64( HMAC_SHA256(apiSecret, timestamp + method + requestPath + body) )
// requestPath includes the query string, e.g. "/api/v1/accounts?type=trade".
func kucoinSignRequest(secret, timestamp, method, requestPath, body string) string {
	prehash := timestamp + method + requestPath + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KucoinConnector talks to KuCoin spot over raw signed REST.
type KucoinConnector struct {
	apiKey        string
	apiSecret     string
	apiPassphrase string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time
}

func NewKucoinConnector(apiKey, apiSecret, apiPassphrase string) *KucoinConnector {
	return &KucoinConnector{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		apiPassphrase: apiPassphrase,
		baseURL:       kucoinBaseURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		now: time.Now,
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (k *KucoinConnector) WithBaseURL(baseURL string) *KucoinConnector {
	k.baseURL = baseURL
	return k
}

// doRequest performs a signed HTTP call and unwraps the KuCoin envelope.
func (k *KucoinConnector) doRequest(ctx context.Context, method, endpoint, query, body string) (*kucoinAPIResponse, error) {
	requestPath := endpoint
	if query != "" {
		requestPath = endpoint + "?" + query
	}

	timestamp := strconv.FormatInt(k.now().UnixMilli(), 10)
	signature := kucoinSignRequest(k.apiSecret, timestamp, method, requestPath, body)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+requestPath, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-KEY", k.apiKey)
	req.Header.Set("KC-API-SIGN", signature)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", kucoinSignPassphrase(k.apiSecret, k.apiPassphrase))
	req.Header.Set("KC-API-KEY-VERSION", "2")

	logger.WithFields(logger.Fields{
		"exchange": "kucoin",
		"method":   method,
		"path":     requestPath,
	}).Debug("KuCoin HTTP request")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithFields(logger.Fields{
			"exchange": "kucoin",
			"status":   resp.StatusCode,
			"body":     string(respBody),
		}).Error("KuCoin HTTP non-2xx status")
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp kucoinAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin response: %w", err)
	}
	if apiResp.Code != "200000" {
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("kucoin code=%s msg=%s", apiResp.Code, apiResp.Msg)}
	}

	return &apiResp, nil
}

type kucoinOrderbookData struct {
	Sequence string      `json:"sequence"`
	Bids     [][2]string `json:"bids"`
	Asks     [][2]string `json:"asks"`
}

func (k *KucoinConnector) GetOrderbook(ctx context.Context, symbol string, limit int) (*Orderbook, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	resp, err := k.doRequest(ctx, http.MethodGet, "/api/v1/market/orderbook/level2_100", "symbol="+symbol, "")
	if err != nil {
		return nil, err
	}

	var data kucoinOrderbookData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal orderbook: %w", err)
	}

	book := &Orderbook{Symbol: symbol}
	book.LastUpdateID, _ = strconv.ParseInt(data.Sequence, 10, 64)
	book.Bids = parseStringLevels(data.Bids)
	book.Asks = parseStringLevels(data.Asks)
	if limit > 0 {
		if len(book.Bids) > limit {
			book.Bids = book.Bids[:limit]
		}
		if len(book.Asks) > limit {
			book.Asks = book.Asks[:limit]
		}
	}
	return book, nil
}

func (k *KucoinConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	resp, err := k.doRequest(ctx, http.MethodGet, "/api/v1/market/orderbook/level1", "symbol="+symbol, "")
	if err != nil {
		return nil, err
	}

	var data struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal ticker: %w", err)
	}

	price, err := strconv.ParseFloat(data.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ticker price %q: %w", data.Price, err)
	}
	return &Ticker{Symbol: symbol, Price: price}, nil
}

func (k *KucoinConnector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	resp, err := k.doRequest(ctx, http.MethodGet, "/api/v1/market/candles",
		fmt.Sprintf("symbol=%s&type=%s", symbol, interval), "")
	if err != nil {
		return nil, err
	}

	// KuCoin candles: [time, open, close, high, low, volume, turnover], newest first.
	var rows [][]string
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal candles: %w", err)
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(row[1], 64)
		close_, _ := strconv.ParseFloat(row[2], 64)
		high, _ := strconv.ParseFloat(row[3], 64)
		low, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		klines = append(klines, Kline{
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close_,
			Volume:   volume,
		})
		if limit > 0 && len(klines) >= limit {
			break
		}
	}
	return klines, nil
}

func (k *KucoinConnector) TestConnection(ctx context.Context) error {
	if _, err := k.doRequest(ctx, http.MethodGet, "/api/v1/accounts", "", ""); err != nil {
		return fmt.Errorf("kucoin ping failed: %w", err)
	}
	return nil
}

type kucoinSpotAccount struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

func (k *KucoinConnector) GetAccount(ctx context.Context) (*Account, error) {
	resp, err := k.doRequest(ctx, http.MethodGet, "/api/v1/accounts", "", "")
	if err != nil {
		return nil, err
	}

	var accounts []kucoinSpotAccount
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}

	balances := make(map[string]float64)
	for _, acc := range accounts {
		avail, _ := strconv.ParseFloat(acc.Available, 64)
		holds, _ := strconv.ParseFloat(acc.Holds, 64)
		if avail+holds > 0 {
			balances[acc.Currency] += avail + holds
		}
	}
	return &Account{Balances: balances}, nil
}

// Permissions probes the key. KuCoin does not expose key scopes on the main
// account API, so a successful signed account read implies trade access and
// withdrawal stays unknown (reported false, never warned on).
func (k *KucoinConnector) Permissions(ctx context.Context) (*Permissions, error) {
	if _, err := k.doRequest(ctx, http.MethodGet, "/api/v1/accounts", "", ""); err != nil {
		return nil, err
	}
	return &Permissions{CanTrade: true, CanWithdraw: false}, nil
}

func (k *KucoinConnector) PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	if spec.Symbol == "" || spec.Side == "" {
		return nil, fmt.Errorf("symbol and side are required")
	}
	if spec.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be greater than zero")
	}

	payload := map[string]interface{}{
		"clientOid": spec.ClientOrderID,
		"symbol":    spec.Symbol,
		"side":      strings.ToLower(spec.Side),
		"type":      strings.ToLower(spec.OrderType),
		"size":      strconv.FormatFloat(spec.Quantity, 'f', -1, 64),
	}
	if spec.OrderType == "LIMIT" {
		if spec.Price == nil {
			return nil, fmt.Errorf("price is required for limit orders")
		}
		payload["price"] = strconv.FormatFloat(*spec.Price, 'f', -1, 64)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order body: %w", err)
	}

	logger.WithFields(logger.Fields{
		"exchange":   "kucoin",
		"symbol":     spec.Symbol,
		"side":       spec.Side,
		"type":       spec.OrderType,
		"size":       spec.Quantity,
		"client_oid": spec.ClientOrderID,
	}).Info("Placing KuCoin order")

	resp, err := k.doRequest(ctx, http.MethodPost, "/api/v1/orders", "", string(body))
	if err != nil {
		return nil, err
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal order response: %w", err)
	}

	return &OrderAck{
		ExchangeOrderID: data.OrderID,
		ClientOrderID:   spec.ClientOrderID,
		Status:          "NEW",
	}, nil
}

func (k *KucoinConnector) CancelOrder(ctx context.Context, _ string, exchangeOrderID string) error {
	if _, err := k.doRequest(ctx, http.MethodDelete, "/api/v1/orders/"+exchangeOrderID, "", ""); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"exchange": "kucoin",
		"order_id": exchangeOrderID,
	}).Info("KuCoin order canceled")
	return nil
}

func (k *KucoinConnector) Disconnect() {
	k.httpClient.CloseIdleConnections()
}

