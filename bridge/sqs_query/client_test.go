package sqsquery_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	sqsquery "github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/sqs_query"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func testConfig() sqsquery.FailoverConfig {
	return sqsquery.FailoverConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
		CacheSize:  8,
		CacheTTL:   time.Minute,
	}
}

func routerServer(t *testing.T, hits *int32, amountOut string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/router/quote", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "1000000uatom", r.URL.Query().Get("tokenIn"))
		assert.Equal(t, "uorai", r.URL.Query().Get("tokenOutDenom"))
		_, _ = fmt.Fprintf(w, `{"amount_out":%q,"route":[]}`, amountOut)
	})
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSimulateSwapCaches(t *testing.T) {
	var hits int32
	srv := routerServer(t, &hits, "2500000")
	c, err := sqsquery.NewClientWithFailover(srv.URL, nil, testConfig())
	assert.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		out, err := c.SimulateSwap(context.Background(), amount.NewNative("uatom"), decimal.NewFromInt(1_000_000), "uorai")
		assert.NoError(t, err)
		assert.Equal(t, "2500000", out.String())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSimulateSwapZeroQuote(t *testing.T) {
	var hits int32
	srv := routerServer(t, &hits, "0")
	c, err := sqsquery.NewClientWithFailover(srv.URL, nil, testConfig())
	assert.NoError(t, err)

	_, err = c.SimulateSwap(context.Background(), amount.NewNative("uatom"), decimal.NewFromInt(1_000_000), "uorai")
	assert.True(t, errors.Is(err, sqsquery.ErrZeroQuote))
}

func TestFailoverToBackup(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	var backupHits int32
	backup := routerServer(t, &backupHits, "42")

	c, err := sqsquery.NewClientWithFailover(primary.URL, []string{backup.URL, "::not a url"}, testConfig())
	assert.NoError(t, err)
	defer c.Close()

	out, err := c.SimulateSwap(context.Background(), amount.NewNative("uatom"), decimal.NewFromInt(1_000_000), "uorai")
	assert.NoError(t, err)
	assert.Equal(t, "42", out.String())
	assert.Equal(t, backup.URL, c.CurrentURL())
	// initial attempt plus one retry
	assert.Equal(t, int32(2), atomic.LoadInt32(&primaryHits))
}

func TestRequestFailsWithoutBackup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := sqsquery.NewClientWithFailover(srv.URL, nil, testConfig())
	assert.NoError(t, err)
	_, err = c.SimulateSwap(context.Background(), amount.NewNative("uatom"), decimal.NewFromInt(1), "uorai")
	assert.Error(t, err)
}

func TestConvertQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/converter/rate", r.URL.Path)
		switch r.URL.Query().Get("denom") {
		case "ibc/USDT":
			_, _ = w.Write([]byte(`{"to":{"native_token":{"denom":"uusdt"}},"ratio":{"nominator":1,"denominator":1000000000000}}`))
		default:
			_, _ = w.Write([]byte(`{"to":{},"ratio":{"nominator":1,"denominator":1}}`))
		}
	}))
	defer srv.Close()

	c, err := sqsquery.NewClientWithFailover(srv.URL, nil, testConfig())
	assert.NoError(t, err)

	out, err := c.ConvertQuote(context.Background(), amount.Asset{
		Info:   amount.NewNative("ibc/USDT"),
		Amount: decimal.RequireFromString("5000000000000000000"),
	})
	assert.NoError(t, err)
	assert.Equal(t, "uusdt", out.Info.String())
	assert.Equal(t, "5000000", out.Amount.String())

	_, err = c.ConvertQuote(context.Background(), amount.Asset{Info: amount.NewNative("uorai"), Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestInvalidPrimary(t *testing.T) {
	_, err := sqsquery.NewClient("")
	assert.True(t, errors.Is(err, sqsquery.ErrNoEndpoint))
	_, err = sqsquery.NewClient("not a url")
	assert.Error(t, err)
}

func TestPrimaryRestored(t *testing.T) {
	var up atomic.Bool
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	var backupHits int32
	backup := routerServer(t, &backupHits, "42")

	cfg := testConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	c, err := sqsquery.NewClientWithFailover(primary.URL, []string{backup.URL}, cfg)
	assert.NoError(t, err)
	defer c.Close()

	_, err = c.SimulateSwap(context.Background(), amount.NewNative("uatom"), decimal.NewFromInt(1_000_000), "uorai")
	assert.NoError(t, err)
	assert.Equal(t, backup.URL, c.CurrentURL())

	up.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for c.CurrentURL() != primary.URL && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, primary.URL, c.CurrentURL())
	c.Close()
}
