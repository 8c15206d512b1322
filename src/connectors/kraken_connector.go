package connectors

// Kraken Futures REST client (v3 /derivatives), resty with internal retry.
// This is the one adapter that retries inside the transport: Kraken's
// futures API sheds load with 5xx/429 bursts and the signed nonce makes a
// caller-side replay awkward.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultKrakenBaseURL = "https://futures.kraken.com/derivatives"
	krakenAPIV3Prefix    = "/api/v3"

	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return (code >= 500 && code <= 599) || code == 429 || code == 408
}

// KrakenFuturesConnector signs requests with the v3 Authent scheme:
//  1. message = postData + nonce + endpointPath
//  2. digest = sha256(message)
//  3. authent = base64( HMAC-SHA512(base64-decoded secret, digest) )
type KrakenFuturesConnector struct {
	apiKey    string
	apiSecret string // base64-encoded secret from Kraken
	baseURL   string
	http      *resty.Client
	now       func() time.Time
}

func NewKrakenFuturesConnector(apiKey, apiSecret, baseURL string) *KrakenFuturesConnector {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(httpTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &KrakenFuturesConnector{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      httpClient,
		now:       time.Now,
	}
}

func krakenComputeAuthent(postData, nonce, endpointPath, apiSecretB64 string) (string, error) {
	msg := postData + nonce + endpointPath

	sum := sha256.Sum256([]byte(msg))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// queryEscapeRFC3986 encodes spaces as %20 so the signed query matches the
// raw URI component as sent.
func queryEscapeRFC3986(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func encodeValuesRFC3986(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	// deterministic order: signature and wire bytes must agree
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, val := range v[k] {
			parts = append(parts, queryEscapeRFC3986(k)+"="+queryEscapeRFC3986(val))
		}
	}
	return strings.Join(parts, "&")
}

func (c *KrakenFuturesConnector) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*resty.Response, error) {
	postData := encodeValuesRFC3986(params)
	nonce := strconv.FormatInt(c.now().UnixMilli(), 10)

	authent, err := krakenComputeAuthent(postData, nonce, krakenAPIV3Prefix+endpoint, c.apiSecret)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("APIKey", c.apiKey).
		SetHeader("Nonce", nonce).
		SetHeader("Authent", authent)

	path := krakenAPIV3Prefix + endpoint
	if method == "POST" {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
		req.SetBody(postData)
		return req.Post(path)
	}
	if postData != "" {
		path = path + "?" + postData
	}
	return req.Get(path)
}

func (c *KrakenFuturesConnector) publicRequest(ctx context.Context, endpoint string, params url.Values) (*resty.Response, error) {
	path := krakenAPIV3Prefix + endpoint
	if q := encodeValuesRFC3986(params); q != "" {
		path = path + "?" + q
	}
	return c.http.R().SetContext(ctx).Get(path)
}

func krakenCheck(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		logger.WithFields(logger.Fields{
			"exchange": "kraken",
			"status":   resp.StatusCode(),
			"body":     resp.String(),
		}).Error("Kraken HTTP non-2xx status")
		return &ExchangeError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

type krakenOrderbookResponse struct {
	Result    string `json:"result"`
	OrderBook struct {
		Asks [][]float64 `json:"asks"`
		Bids [][]float64 `json:"bids"`
	} `json:"orderBook"`
	Error string `json:"error,omitempty"`
}

func (c *KrakenFuturesConnector) GetOrderbook(ctx context.Context, symbol string, limit int) (*Orderbook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.publicRequest(ctx, "/orderbook", params)
	if err := krakenCheck(resp, err); err != nil {
		return nil, err
	}

	var parsed krakenOrderbookResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal orderbook: %w", err)
	}
	if parsed.Result != "success" {
		return nil, &ExchangeError{StatusCode: resp.StatusCode(), Message: parsed.Error}
	}

	book := &Orderbook{Symbol: symbol}
	book.Bids = krakenLevels(parsed.OrderBook.Bids, limit)
	book.Asks = krakenLevels(parsed.OrderBook.Asks, limit)
	return book, nil
}

func krakenLevels(raw [][]float64, limit int) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		levels = append(levels, PriceLevel{Price: entry[0], Quantity: entry[1]})
		if limit > 0 && len(levels) >= limit {
			break
		}
	}
	return levels
}

type krakenTickersResponse struct {
	Result  string `json:"result"`
	Tickers []struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
	} `json:"tickers"`
	Error string `json:"error,omitempty"`
}

func (c *KrakenFuturesConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	resp, err := c.publicRequest(ctx, "/tickers", nil)
	if err := krakenCheck(resp, err); err != nil {
		return nil, err
	}

	var parsed krakenTickersResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal tickers: %w", err)
	}

	for _, t := range parsed.Tickers {
		if strings.EqualFold(t.Symbol, symbol) {
			return &Ticker{Symbol: t.Symbol, Price: t.Last}, nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found in kraken tickers", symbol)
}

// GetKlines uses the public charts API, which lives outside /derivatives.
func (c *KrakenFuturesConnector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	chartsURL := strings.TrimSuffix(c.baseURL, "/derivatives") + "/api/charts/v1/trade/" + symbol + "/" + interval

	resp, err := c.http.R().SetContext(ctx).Get(chartsURL)
	if err := krakenCheck(resp, err); err != nil {
		return nil, err
	}

	var parsed struct {
		Candles []struct {
			Time   int64   `json:"time"`
			Open   string  `json:"open"`
			High   string  `json:"high"`
			Low    string  `json:"low"`
			Close  string  `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal candles: %w", err)
	}

	klines := make([]Kline, 0, len(parsed.Candles))
	for _, cnd := range parsed.Candles {
		open, _ := strconv.ParseFloat(cnd.Open, 64)
		high, _ := strconv.ParseFloat(cnd.High, 64)
		low, _ := strconv.ParseFloat(cnd.Low, 64)
		close_, _ := strconv.ParseFloat(cnd.Close, 64)
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(cnd.Time).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close_,
			Volume:   cnd.Volume,
		})
		if limit > 0 && len(klines) >= limit {
			break
		}
	}
	return klines, nil
}

func (c *KrakenFuturesConnector) TestConnection(ctx context.Context) error {
	resp, err := c.signedRequest(ctx, "GET", "/accounts", nil)
	if err := krakenCheck(resp, err); err != nil {
		return fmt.Errorf("kraken ping failed: %w", err)
	}
	return nil
}

type krakenAccountsResponse struct {
	Result   string `json:"result"`
	Accounts map[string]struct {
		Balances map[string]float64 `json:"balances"`
	} `json:"accounts"`
	Error string `json:"error,omitempty"`
}

func (c *KrakenFuturesConnector) GetAccount(ctx context.Context) (*Account, error) {
	resp, err := c.signedRequest(ctx, "GET", "/accounts", nil)
	if err := krakenCheck(resp, err); err != nil {
		return nil, err
	}

	var parsed krakenAccountsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}
	if parsed.Result != "success" {
		return nil, &ExchangeError{StatusCode: resp.StatusCode(), Message: parsed.Error}
	}

	balances := make(map[string]float64)
	for _, acct := range parsed.Accounts {
		for currency, amount := range acct.Balances {
			balances[strings.ToUpper(currency)] += amount
		}
	}
	return &Account{Balances: balances}, nil
}

// Permissions: a signed /accounts read proves trading access on Kraken
// Futures keys; withdrawal rights live on the spot key and are not visible
// here, so they report false.
func (c *KrakenFuturesConnector) Permissions(ctx context.Context) (*Permissions, error) {
	if err := c.TestConnection(ctx); err != nil {
		return nil, err
	}
	return &Permissions{CanTrade: true, CanWithdraw: false}, nil
}

type krakenSendOrderResponse struct {
	Result     string `json:"result"`
	SendStatus struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"sendStatus"`
	Error string `json:"error,omitempty"`
}

func (c *KrakenFuturesConnector) PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderAck, error) {
	if spec.Symbol == "" || spec.Side == "" {
		return nil, fmt.Errorf("symbol and side are required")
	}
	if spec.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be greater than zero")
	}

	orderType := "mkt"
	params := url.Values{}
	params.Set("symbol", spec.Symbol)
	params.Set("side", strings.ToLower(spec.Side))
	params.Set("size", strconv.FormatFloat(spec.Quantity, 'f', -1, 64))
	params.Set("cliOrdId", spec.ClientOrderID)
	if spec.OrderType == "LIMIT" {
		if spec.Price == nil {
			return nil, fmt.Errorf("price is required for limit orders")
		}
		orderType = "lmt"
		params.Set("limitPrice", strconv.FormatFloat(*spec.Price, 'f', -1, 64))
	}
	params.Set("orderType", orderType)

	logger.WithFields(logger.Fields{
		"exchange":   "kraken",
		"symbol":     spec.Symbol,
		"side":       spec.Side,
		"type":       orderType,
		"size":       spec.Quantity,
		"cli_ord_id": spec.ClientOrderID,
	}).Info("Placing Kraken futures order")

	resp, err := c.signedRequest(ctx, "POST", "/sendorder", params)
	if err := krakenCheck(resp, err); err != nil {
		return nil, err
	}

	var parsed krakenSendOrderResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal sendorder: %w", err)
	}
	if parsed.Result != "success" || parsed.SendStatus.Status == "" {
		return nil, &ExchangeError{StatusCode: resp.StatusCode(), Message: parsed.Error}
	}
	if parsed.SendStatus.Status != "placed" {
		return nil, &ExchangeError{StatusCode: resp.StatusCode(), Message: "sendStatus " + parsed.SendStatus.Status}
	}

	return &OrderAck{
		ExchangeOrderID: parsed.SendStatus.OrderID,
		ClientOrderID:   spec.ClientOrderID,
		Status:          "NEW",
	}, nil
}

func (c *KrakenFuturesConnector) CancelOrder(ctx context.Context, _ string, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("order_id", exchangeOrderID)

	resp, err := c.signedRequest(ctx, "POST", "/cancelorder", params)
	if err := krakenCheck(resp, err); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"exchange": "kraken",
		"order_id": exchangeOrderID,
	}).Info("Kraken order canceled")
	return nil
}

func (c *KrakenFuturesConnector) Disconnect() {
	c.http.GetClient().CloseIdleConnections()
}
