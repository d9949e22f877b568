package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	cases := []struct {
		symbol    string
		wantBase  string
		wantQuote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"BTCEUR", "BTC", "EUR"},
		{"EURUSDT", "EUR", "USDT"},
		{"BTCBUSD", "BTC", "BUSD"},
		{"BTCFDUSD", "BTC", "FDUSD"},
		{"XYZQQQ", "XYZQQQ", "USDT"}, // no recognized suffix: conservative default
	}
	for _, c := range cases {
		base, quote := ParseSymbol(c.symbol)
		assert.Equal(t, c.wantBase, base, c.symbol)
		assert.Equal(t, c.wantQuote, quote, c.symbol)
	}
}

func TestSign_DoesNotMutateCallerParams(t *testing.T) {
	// Invariant 7
	params := url.Values{"symbol": []string{"BTCUSDT"}}
	snapshot := params.Encode()

	sig := Sign("secret", params)

	assert.Equal(t, snapshot, params.Encode())
	assert.NotEmpty(t, sig)

	// signature verifies against the exact encoded params
	assert.Equal(t, sig, Sign("secret", params))
}

func TestTradesByID_StopsOnShortPage(t *testing.T) {
	// S5: a page shorter than the page size yields one batch and stops.
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		trades := []Trade{{ID: 100}, {ID: 101}}
		_ = json.NewEncoder(w).Encode(trades)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, APIKey: "k", APISecret: "s", Log: zerolog.Nop()})
	defer c.Close()

	iter := c.TradesByID("BTCUSDT", 100)
	page, err := iter(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Trades, 2)
	assert.False(t, page.More)

	page2, err := iter(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page2.Trades)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoSigned_RetriesOnRateLimitWithFreshSignature(t *testing.T) {
	// S6: first response 429 with Retry-After: 1s, second response 200.
	var calls int32
	var signatures []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		signatures = append(signatures, r.URL.Query().Get("signature"))
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":-1003,"msg":"too many requests"}`))
			return
		}
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "5")
		_ = json.NewEncoder(w).Encode(AccountInfo{Balances: []AccountBalance{}})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, APIKey: "k", APISecret: "s", Log: zerolog.Nop()})
	defer c.Close()
	var sleeps int32
	c.sleep = func(time.Duration) { atomic.AddInt32(&sleeps, 1) } // keep the test fast, count calls

	balances, err := c.GetAccountBalances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, signatures, 2)
	assert.NotEqual(t, signatures[0], signatures[1], "each retry must carry a freshly computed signature")
	// A single Retry-After sleep governs this retry; the exponential backoff
	// timer reserved for network errors must not also fire for a 429.
	assert.Equal(t, int32(1), atomic.LoadInt32(&sleeps))
}

func TestDoSigned_AuthenticationErrorIsNonRetryable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2014,"msg":"API-key format invalid"}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, APIKey: "k", APISecret: "s", Log: zerolog.Nop()})
	defer c.Close()

	_, err := c.GetAccountBalances(context.Background())
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, -2014, authErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateGovernor_BlocksWhenThresholdExceeded(t *testing.T) {
	// Invariant 8
	g := NewRateGovernor(zerolog.Nop())
	fixedNow := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC) // 10s into the minute
	g.now = func() time.Time { return fixedNow }

	var slept time.Duration
	g.sleep = func(d time.Duration) { slept = d }

	g.Observe(WeightPauseThreshold + 1)
	g.CheckBeforeRequest()

	assert.GreaterOrEqual(t, slept, 50*time.Second)
	assert.LessOrEqual(t, slept, 51*time.Second)
}

func TestRateGovernor_NoBlockBelowThreshold(t *testing.T) {
	g := NewRateGovernor(zerolog.Nop())
	called := false
	g.sleep = func(time.Duration) { called = true }
	g.Observe(10)
	g.CheckBeforeRequest()
	assert.False(t, called)
}

func TestIsFiatPermissionError(t *testing.T) {
	assert.True(t, IsFiatPermissionError(&ExchangeAPIError{Code: -2015}))
	assert.True(t, IsFiatPermissionError(&ExchangeAPIError{Code: -1002}))
	assert.True(t, IsFiatPermissionError(&ExchangeAPIError{Code: -2014}))
	assert.False(t, IsFiatPermissionError(&ExchangeAPIError{Code: -9999}))
	assert.False(t, IsFiatPermissionError(nil))
}
