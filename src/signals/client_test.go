package signals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "BTCUSDT", req["symbol"])
		require.Equal(t, "15m", req["interval"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","side":"BUY","confidence":0.91,"accuracy":94.2,"entry_price":65000,"explanations":[{"feature":"rsi_14","weight":0.4}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)

	prediction, err := client.Predict(context.Background(), "BTCUSDT", "15m")
	require.NoError(t, err)
	require.Equal(t, "BUY", prediction.Side)
	require.Equal(t, 94.2, prediction.Accuracy)
	require.Equal(t, 65000.0, prediction.EntryPrice)
	require.Len(t, prediction.Explanations, 1)
	require.Equal(t, "rsi_14", prediction.Explanations[0].Feature)
}

func TestPredictServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown symbol"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)

	_, err := client.Predict(context.Background(), "NOPEUSDT", "5m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown symbol")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, client.Health(context.Background()))
}
