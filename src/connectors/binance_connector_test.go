package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func TestBinanceSignedRequest(t *testing.T) {
	const secret = "testsecret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		query := r.URL.Query()
		signature := query.Get("signature")
		require.NotEmpty(t, signature)

		// recompute over everything before &signature=
		raw := r.URL.RawQuery
		idx := len(raw) - len("&signature=") - len(signature)
		payload := raw[:idx]
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		require.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)

		require.Equal(t, "1741944413000", query.Get("timestamp"))

		w.Write([]byte(`{"canTrade":true,"canWithdraw":false,"balances":[{"asset":"USDT","free":"120.5","locked":"0"},{"asset":"BTC","free":"0","locked":"0"}]}`))
	}))
	defer srv.Close()

	conn := NewBinanceConnector("test-key", secret, false).WithBaseURL(srv.URL)
	conn.now = fixedClock

	account, err := conn.GetAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 120.5, account.Balances["USDT"])
	_, ok := account.Balances["BTC"]
	require.False(t, ok, "zero balances are dropped")

	perms, err := conn.Permissions(context.Background())
	require.NoError(t, err)
	require.True(t, perms.CanTrade)
	require.False(t, perms.CanWithdraw)
}

func TestBinanceOrderbookNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/depth", r.URL.Path)
		w.Write([]byte(`{"lastUpdateId":42,"bids":[["65000.10","0.5"],["bad","x"]],"asks":[["65001.00","1.25"]]}`))
	}))
	defer srv.Close()

	conn := NewBinanceConnector("k", "s", false).WithBaseURL(srv.URL)

	book, err := conn.GetOrderbook(context.Background(), "BTCUSDT", 50)
	require.NoError(t, err)
	require.Equal(t, int64(42), book.LastUpdateID)
	require.Len(t, book.Bids, 1, "unparseable levels are skipped")
	require.Equal(t, PriceLevel{Price: 65000.10, Quantity: 0.5}, book.Bids[0])
	require.Equal(t, PriceLevel{Price: 65001.00, Quantity: 1.25}, book.Asks[0])
}

func TestBinanceAuthErrorIsNotWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":-2014,"msg":"API-key format invalid."}`))
	}))
	defer srv.Close()

	conn := NewBinanceConnector("bad", "creds", false).WithBaseURL(srv.URL)

	_, err := conn.GetAccount(context.Background())
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	require.Equal(t, 401, exErr.StatusCode)
	require.True(t, exErr.IsAuthError())
}

func TestBinancePlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		query := r.URL.Query()
		require.Equal(t, "BTCUSDT", query.Get("symbol"))
		require.Equal(t, "BUY", query.Get("side"))
		require.Equal(t, "MARKET", query.Get("type"))
		require.Equal(t, "abc-123", query.Get("newClientOrderId"))
		w.Write([]byte(`{"orderId":555,"clientOrderId":"abc-123","status":"FILLED","executedQty":"0.002","cummulativeQuoteQty":"130.00"}`))
	}))
	defer srv.Close()

	conn := NewBinanceConnector("k", "s", false).WithBaseURL(srv.URL)

	ack, err := conn.PlaceOrder(context.Background(), OrderSpec{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		OrderType:     "MARKET",
		Quantity:      0.002,
		ClientOrderID: "abc-123",
	})
	require.NoError(t, err)
	require.Equal(t, "555", ack.ExchangeOrderID)
	require.Equal(t, "FILLED", ack.Status)
	require.Equal(t, 0.002, ack.ExecutedQty)
	require.InDelta(t, 65000.0, ack.AvgPrice, 1e-9)
}

func TestBinancePlaceOrderRejectsBadSpec(t *testing.T) {
	conn := NewBinanceConnector("k", "s", false)

	_, err := conn.PlaceOrder(context.Background(), OrderSpec{Symbol: "BTCUSDT", Side: "BUY"})
	require.Error(t, err)

	_, err = conn.PlaceOrder(context.Background(), OrderSpec{Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT", Quantity: 1})
	require.Error(t, err, "limit order without price")
}
