package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func krakenTestAuthent(t *testing.T, secretB64, postData, nonce, path string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(postData + nonce + path))
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	require.NoError(t, err)
	mac := hmac.New(sha512.New, secret)
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestKrakenSignedRequest(t *testing.T) {
	secretB64 := base64.StdEncoding.EncodeToString([]byte("kraken-futures-secret"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/accounts", r.URL.Path)
		require.Equal(t, "kr-key", r.Header.Get("APIKey"))

		nonce := r.Header.Get("Nonce")
		require.NotEmpty(t, nonce)
		require.Equal(t,
			krakenTestAuthent(t, secretB64, "", nonce, "/api/v3/accounts"),
			r.Header.Get("Authent"))

		w.Write([]byte(`{"result":"success","accounts":{"flex":{"balances":{"usdt":1000.5,"xbt":0.25}}}}`))
	}))
	defer srv.Close()

	conn := NewKrakenFuturesConnector("kr-key", secretB64, srv.URL)

	account, err := conn.GetAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1000.5, account.Balances["USDT"])
	require.Equal(t, 0.25, account.Balances["XBT"])
}

func TestKrakenSendOrderSignsPostData(t *testing.T) {
	secretB64 := base64.StdEncoding.EncodeToString([]byte("another-secret"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/sendorder", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		nonce := r.Header.Get("Nonce")
		require.Equal(t,
			krakenTestAuthent(t, secretB64, string(body), nonce, "/api/v3/sendorder"),
			r.Header.Get("Authent"))
		require.Contains(t, string(body), "orderType=mkt")
		require.Contains(t, string(body), "side=buy")
		require.Contains(t, string(body), "symbol=PI_XBTUSD")

		w.Write([]byte(`{"result":"success","sendStatus":{"order_id":"kf-42","status":"placed"}}`))
	}))
	defer srv.Close()

	conn := NewKrakenFuturesConnector("kr-key", secretB64, srv.URL)

	ack, err := conn.PlaceOrder(context.Background(), OrderSpec{
		Symbol:        "PI_XBTUSD",
		Side:          "BUY",
		OrderType:     "MARKET",
		Quantity:      100,
		ClientOrderID: "cli-1",
	})
	require.NoError(t, err)
	require.Equal(t, "kf-42", ack.ExchangeOrderID)
	require.Equal(t, "NEW", ack.Status)
}

func TestKrakenRejectedSendStatus(t *testing.T) {
	secretB64 := base64.StdEncoding.EncodeToString([]byte("s"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success","sendStatus":{"order_id":"","status":"insufficientAvailableFunds"}}`))
	}))
	defer srv.Close()

	conn := NewKrakenFuturesConnector("k", secretB64, srv.URL)

	_, err := conn.PlaceOrder(context.Background(), OrderSpec{
		Symbol: "PI_XBTUSD", Side: "SELL", OrderType: "MARKET", Quantity: 10, ClientOrderID: "cli-2",
	})
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	require.Contains(t, exErr.Message, "insufficientAvailableFunds")
}

func TestKrakenTickerLookup(t *testing.T) {
	secretB64 := base64.StdEncoding.EncodeToString([]byte("s"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/tickers", r.URL.Path)
		w.Write([]byte(`{"result":"success","tickers":[{"symbol":"PI_ETHUSD","last":3200.5},{"symbol":"PI_XBTUSD","last":65000.1}]}`))
	}))
	defer srv.Close()

	conn := NewKrakenFuturesConnector("k", secretB64, srv.URL)

	ticker, err := conn.GetTicker(context.Background(), "pi_xbtusd")
	require.NoError(t, err)
	require.Equal(t, 65000.1, ticker.Price)

	_, err = conn.GetTicker(context.Background(), "PI_DOGEUSD")
	require.Error(t, err)
}
