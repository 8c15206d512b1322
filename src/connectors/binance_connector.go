package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	binanceBaseURL        = "https://api.binance.com"
	binanceTestnetBaseURL = "https://testnet.binance.vision"
)

// BinanceConnector talks to Binance spot. Signed requests carry the API key
// in X-MBX-APIKEY and an HMAC-SHA256 hex signature computed over the exact
// canonical query string (plus body for POST); parameter order must match
// what is sent or Binance rejects the request.
type BinanceConnector struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewBinanceConnector(apiKey, apiSecret string, testnet bool) *BinanceConnector {
	baseURL := binanceBaseURL
	if testnet {
		baseURL = binanceTestnetBaseURL
	}
	return &BinanceConnector{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		now: time.Now,
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (b *BinanceConnector) WithBaseURL(baseURL string) *BinanceConnector {
	b.baseURL = strings.TrimRight(baseURL, "/")
	return b
}

// sign returns the lowercase hex HMAC-SHA256 of the payload.
func (b *BinanceConnector) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BinanceConnector) doPublic(ctx context.Context, path, query string) ([]byte, error) {
	return b.do(ctx, http.MethodGet, path, query, false)
}

func (b *BinanceConnector) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	query = query + "&signature=" + b.sign(query)

	return b.do(ctx, method, path, query, true)
}

func (b *BinanceConnector) do(ctx context.Context, method, path, query string, signed bool) ([]byte, error) {
	fullURL := b.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	logger.WithFields(logger.Fields{
		"exchange": "binance",
		"method":   method,
		"path":     path,
	}).Debug("Binance HTTP request")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithFields(logger.Fields{
			"exchange": "binance",
			"status":   resp.StatusCode,
			"body":     string(body),
		}).Error("Binance HTTP non-2xx status")
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return body, nil
}

type binanceDepthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (b *BinanceConnector) GetOrderbook(ctx context.Context, symbol string, limit int) (*Orderbook, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 {
		limit = 100
	}

	body, err := b.doPublic(ctx, "/api/v3/depth", fmt.Sprintf("symbol=%s&limit=%d", symbol, limit))
	if err != nil {
		return nil, err
	}

	var depth binanceDepthResponse
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("unmarshal depth: %w", err)
	}

	book := &Orderbook{Symbol: symbol, LastUpdateID: depth.LastUpdateID}
	book.Bids = parseStringLevels(depth.Bids)
	book.Asks = parseStringLevels(depth.Asks)
	return book, nil
}

func parseStringLevels(raw [][2]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err1 := strconv.ParseFloat(entry[0], 64)
		qty, err2 := strconv.ParseFloat(entry[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

func (b *BinanceConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	body, err := b.doPublic(ctx, "/api/v3/ticker/price", "symbol="+symbol)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal ticker: %w", err)
	}

	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ticker price %q: %w", raw.Price, err)
	}
	return &Ticker{Symbol: raw.Symbol, Price: price}, nil
}

func (b *BinanceConnector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if limit <= 0 {
		limit = 100
	}

	body, err := b.doPublic(ctx, "/api/v3/klines", fmt.Sprintf("symbol=%s&interval=%s&limit=%d", symbol, interval, limit))
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		kline := Kline{OpenTime: time.UnixMilli(openTime).UTC()}
		fields := []*float64{&kline.Open, &kline.High, &kline.Low, &kline.Close, &kline.Volume}
		ok := true
		for i, target := range fields {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			value, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			*target = value
		}
		if ok {
			klines = append(klines, kline)
		}
	}
	return klines, nil
}

func (b *BinanceConnector) TestConnection(ctx context.Context) error {
	if _, err := b.doPublic(ctx, "/api/v3/ping", ""); err != nil {
		return fmt.Errorf("binance ping failed: %w", err)
	}
	return nil
}

type binanceAccountResponse struct {
	CanTrade    bool `json:"canTrade"`
	CanWithdraw bool `json:"canWithdraw"`
	Balances    []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (b *BinanceConnector) getAccountRaw(ctx context.Context) (*binanceAccountResponse, error) {
	body, err := b.doSigned(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}

	var account binanceAccountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &account, nil
}

func (b *BinanceConnector) GetAccount(ctx context.Context) (*Account, error) {
	raw, err := b.getAccountRaw(ctx)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]float64)
	for _, bal := range raw.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if free+locked > 0 {
			balances[bal.Asset] = free + locked
		}
	}
	return &Account{Balances: balances}, nil
}

func (b *BinanceConnector) Permissions(ctx context.Context) (*Permissions, error) {
	raw, err := b.getAccountRaw(ctx)
	if err != nil {
		return nil, err
	}
	return &Permissions{CanTrade: raw.CanTrade, CanWithdraw: raw.CanWithdraw}, nil
}

type binanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
}

func (b *BinanceConnector) PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	if spec.Symbol == "" || spec.Side == "" {
		return nil, fmt.Errorf("symbol and side are required")
	}
	if spec.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be greater than zero")
	}

	params := url.Values{}
	params.Set("symbol", spec.Symbol)
	params.Set("side", spec.Side)
	params.Set("type", spec.OrderType)
	params.Set("quantity", strconv.FormatFloat(spec.Quantity, 'f', -1, 64))
	params.Set("newClientOrderId", spec.ClientOrderID)
	if spec.OrderType == "LIMIT" {
		if spec.Price == nil {
			return nil, fmt.Errorf("price is required for limit orders")
		}
		params.Set("price", strconv.FormatFloat(*spec.Price, 'f', -1, 64))
		params.Set("timeInForce", "GTC")
	}

	logger.WithFields(logger.Fields{
		"exchange":        "binance",
		"symbol":          spec.Symbol,
		"side":            spec.Side,
		"type":            spec.OrderType,
		"qty":             spec.Quantity,
		"client_order_id": spec.ClientOrderID,
	}).Info("Placing Binance order")

	body, err := b.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var resp binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal order response: %w", err)
	}

	ack := &OrderAck{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Status:          resp.Status,
	}
	ack.ExecutedQty, _ = strconv.ParseFloat(resp.ExecutedQty, 64)
	if cumQuote, err := strconv.ParseFloat(resp.CumQuoteQty, 64); err == nil && ack.ExecutedQty > 0 {
		ack.AvgPrice = cumQuote / ack.ExecutedQty
	}
	return ack, nil
}

func (b *BinanceConnector) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)

	if _, err := b.doSigned(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"exchange": "binance",
		"symbol":   symbol,
		"order_id": exchangeOrderID,
	}).Info("Binance order canceled")
	return nil
}

// Disconnect drops idle keep-alive connections.
func (b *BinanceConnector) Disconnect() {
	b.httpClient.CloseIdleConnections()
}
