package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func kucoinTestHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestKucoinRequestSigning(t *testing.T) {
	const (
		secret     = "kc-secret"
		passphrase = "kc-pass"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "kc-key", r.Header.Get("KC-API-KEY"))
		require.Equal(t, "2", r.Header.Get("KC-API-KEY-VERSION"))

		timestamp := r.Header.Get("KC-API-TIMESTAMP")
		require.NotEmpty(t, timestamp)

		body, _ := io.ReadAll(r.Body)
		prehash := timestamp + r.Method + r.URL.RequestURI() + string(body)
		require.Equal(t, kucoinTestHMAC(secret, prehash), r.Header.Get("KC-API-SIGN"))
		require.Equal(t, kucoinTestHMAC(secret, passphrase), r.Header.Get("KC-API-PASSPHRASE"))

		w.Write([]byte(`{"code":"200000","data":[{"currency":"USDT","type":"trade","available":"42.5","holds":"7.5"}]}`))
	}))
	defer srv.Close()

	conn := NewKucoinConnector("kc-key", secret, passphrase).WithBaseURL(srv.URL)

	account, err := conn.GetAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50.0, account.Balances["USDT"])
}

func TestKucoinEnvelopeErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 but API-level failure
		w.Write([]byte(`{"code":"400100","msg":"account not exist"}`))
	}))
	defer srv.Close()

	conn := NewKucoinConnector("k", "s", "p").WithBaseURL(srv.URL)

	_, err := conn.GetAccount(context.Background())
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	require.Contains(t, exErr.Message, "400100")
}

func TestKucoinPlaceOrderLowercasesSideAndType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"side":"sell"`)
		require.Contains(t, string(body), `"type":"market"`)
		require.Contains(t, string(body), `"clientOid":"oid-1"`)
		w.Write([]byte(`{"code":"200000","data":{"orderId":"kc-777"}}`))
	}))
	defer srv.Close()

	conn := NewKucoinConnector("k", "s", "p").WithBaseURL(srv.URL)

	ack, err := conn.PlaceOrder(context.Background(), OrderSpec{
		Symbol:        "BTC-USDT",
		Side:          "SELL",
		OrderType:     "MARKET",
		Quantity:      0.01,
		ClientOrderID: "oid-1",
	})
	require.NoError(t, err)
	require.Equal(t, "kc-777", ack.ExchangeOrderID)
	require.Equal(t, "NEW", ack.Status)
}

func TestKucoinKlinesNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/market/candles", r.URL.Path)
		w.Write([]byte(`{"code":"200000","data":[["1741944000","65000","65100","65200","64900","12.5","812500"]]}`))
	}))
	defer srv.Close()

	conn := NewKucoinConnector("k", "s", "p").WithBaseURL(srv.URL)

	klines, err := conn.GetKlines(context.Background(), "BTC-USDT", "5min", 10)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	require.Equal(t, 65000.0, klines[0].Open)
	require.Equal(t, 65100.0, klines[0].Close)
	require.Equal(t, 65200.0, klines[0].High)
	require.Equal(t, 64900.0, klines[0].Low)
}
