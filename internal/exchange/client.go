// Package exchange implements a signed, paginated, rate-limit-aware client
// for a Binance-style REST API: account balances, spot trades, crypto
// deposits/withdrawals, fiat orders, and public OHLCV klines.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	maxAttempts       = 3
	signedTimeout     = 30 * time.Second
	publicTimeout     = 6 * time.Second
	defaultRetryAfter = 60 * time.Second
	recvWindow        = 5000
)

// Client is a scoped HTTP client for one account's credentials. It owns
// the connection pool; Close releases it. A Client must be disposed on
// every exit path of a sync run, successful or not.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	governor   *RateGovernor
	log        zerolog.Logger
	sleep      func(time.Duration)
}

// Config configures a new Client.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Log       zerolog.Logger
}

// New creates a Client bound to one account's credentials.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.binance.com"
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{},
		governor:   NewRateGovernor(cfg.Log),
		log:        cfg.Log.With().Str("component", "exchange_client").Logger(),
		sleep:      time.Sleep,
	}
}

// Close releases the client's HTTP connection pool.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// errorBody is the exchange's standard JSON error shape.
type errorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doSigned issues a GET against a signed endpoint, appending
// timestamp/recvWindow/signature to params (without mutating the caller's
// copy), enforcing the rate governor, retry and error-classification
// policy, and decoding the JSON body into out.
func (c *Client) doSigned(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, path, params, true, signedTimeout, out)
}

// doPublic issues a GET against an unsigned endpoint.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, path, params, false, publicTimeout, out)
}

func (c *Client) do(ctx context.Context, path string, params url.Values, signed bool, timeout time.Duration, out any) error {
	attempt := 0
	operation := func() error {
		attempt++
		c.governor.CheckBeforeRequest()

		reqParams := cloneValues(params)
		if signed {
			reqParams.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
			reqParams.Set("recvWindow", strconv.Itoa(recvWindow))
			sig := Sign(c.apiSecret, reqParams)
			reqParams.Set("signature", sig)
		}

		reqURL := c.baseURL + path
		if q := reqParams.Encode(); q != "" {
			reqURL += "?" + q
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt >= maxAttempts {
				return backoff.Permanent(&NetworkError{Cause: err})
			}
			return &NetworkError{Cause: err}
		}
		defer resp.Body.Close()

		if w := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); w != "" {
			if weight, parseErr := strconv.Atoi(w); parseErr == nil {
				c.governor.Observe(weight)
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if attempt >= maxAttempts {
				return backoff.Permanent(&NetworkError{Cause: err})
			}
			return &NetworkError{Cause: err}
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if out != nil {
				if err := json.Unmarshal(body, out); err != nil {
					return backoff.Permanent(fmt.Errorf("decode response: %w", err))
				}
			}
			return nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
			// Rate-limit retries are governed by Retry-After alone — a single
			// sleep per attempt, never compounded with the backoff library's
			// own exponential timer below, which is reserved for network
			// errors. backoff.Permanent stops the outer Retry from adding a
			// second wait on top of the one just taken.
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			rlErr := &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: int(retryAfter.Seconds())}
			if attempt >= maxAttempts {
				return backoff.Permanent(rlErr)
			}
			c.log.Warn().Int("status", resp.StatusCode).Dur("retry_after", retryAfter).Msg("rate limited, retrying with fresh signature")
			c.sleep(retryAfter)
			return backoff.Permanent(rlErr)

		case resp.StatusCode == http.StatusUnauthorized:
			eb := decodeErrorBody(body)
			return backoff.Permanent(&AuthenticationError{Code: eb.Code, Msg: eb.Msg})

		case resp.StatusCode >= 500:
			if attempt >= maxAttempts {
				return backoff.Permanent(fmt.Errorf("exchange server error %d: %s", resp.StatusCode, string(body)))
			}
			return fmt.Errorf("exchange server error %d: %s", resp.StatusCode, string(body))

		default:
			eb := decodeErrorBody(body)
			return backoff.Permanent(&ExchangeAPIError{Code: eb.Code, Msg: eb.Msg})
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(b, maxAttempts-1)

	for {
		err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
		if _, ok := err.(*RateLimitError); ok && attempt < maxAttempts {
			// The rate-limit branch above already slept once via
			// Retry-After; loop back into a fresh backoff.Retry call so a
			// subsequent network error still gets its own exponential
			// backoff, without ever sleeping twice for this attempt.
			continue
		}
		return err
	}
}

func decodeErrorBody(body []byte) errorBody {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	return eb
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// GetAccountBalances fetches the signed balance snapshot (GET /api/v3/account).
func (c *Client) GetAccountBalances(ctx context.Context) ([]AccountBalance, error) {
	var info AccountInfo
	if err := c.doSigned(ctx, "/api/v3/account", url.Values{}, &info); err != nil {
		return nil, err
	}
	return info.Balances, nil
}

// GetTrades fetches one page of myTrades for a symbol, either fromId or
// startTime paginated (never both) per the pagination contract.
func (c *Client) GetTrades(ctx context.Context, symbol string, fromID *int64, startTime *int64, limit int) ([]Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit <= 0 {
		limit = 1000
	}
	params.Set("limit", strconv.Itoa(limit))
	if fromID != nil {
		params.Set("fromId", strconv.FormatInt(*fromID, 10))
	}
	if startTime != nil {
		params.Set("startTime", strconv.FormatInt(*startTime, 10))
	}

	var trades []Trade
	if err := c.doSigned(ctx, "/api/v3/myTrades", params, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetDeposits fetches one 90-day window of deposit history.
func (c *Client) GetDeposits(ctx context.Context, startMS, endMS int64) ([]DepositRecord, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	params.Set("endTime", strconv.FormatInt(endMS, 10))

	var records []DepositRecord
	if err := c.doSigned(ctx, "/sapi/v1/capital/deposit/hisrec", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetWithdrawals fetches one 90-day window of withdrawal history.
func (c *Client) GetWithdrawals(ctx context.Context, startMS, endMS int64) ([]WithdrawalRecord, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	params.Set("endTime", strconv.FormatInt(endMS, 10))

	var records []WithdrawalRecord
	if err := c.doSigned(ctx, "/sapi/v1/capital/withdraw/history", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetFiatOrders fetches one page within one 90-day window of fiat orders.
func (c *Client) GetFiatOrders(ctx context.Context, txType FiatTransactionType, startMS, endMS int64, page, rows int) ([]FiatOrder, error) {
	params := url.Values{}
	params.Set("transactionType", strconv.Itoa(int(txType)))
	params.Set("beginTime", strconv.FormatInt(startMS, 10))
	params.Set("endTime", strconv.FormatInt(endMS, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("rows", strconv.Itoa(rows))

	var resp struct {
		Data []FiatOrder `json:"data"`
	}
	if err := c.doSigned(ctx, "/sapi/v1/fiat/orders", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetKlines fetches one batch of daily klines starting at startMS.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startMS int64, limit int) ([]Kline, error) {
	if limit <= 0 {
		limit = 1000
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]any
	if err := c.doPublic(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}
	return decodeKlines(raw)
}

// GetTickerPrice fetches the current price for a symbol (unsigned).
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Price string `json:"price"`
	}
	if err := c.doPublic(ctx, "/api/v3/ticker/price", params, &resp); err != nil {
		return "", err
	}
	return resp.Price, nil
}
