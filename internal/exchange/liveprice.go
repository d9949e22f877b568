package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// LivePriceProvider fetches the current EUR and USD price of bitcoin from
// a third-party ticker, used only by the live-price read path (never by
// the core ingestion pipeline, which relies on price_history).
type LivePriceProvider interface {
	GetBTCPrice(ctx context.Context) (eur, usd *decimal.Decimal, err error)
}

const liveTickerTimeout = 6 * time.Second

// CoinGeckoProvider queries CoinGecko's simple price endpoint.
type CoinGeckoProvider struct {
	httpClient *http.Client
}

func NewCoinGeckoProvider() *CoinGeckoProvider {
	return &CoinGeckoProvider{httpClient: &http.Client{Timeout: liveTickerTimeout}}
}

func (p *CoinGeckoProvider) GetBTCPrice(ctx context.Context) (*decimal.Decimal, *decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=eur,usd", nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Bitcoin struct {
			EUR float64 `json:"eur"`
			USD float64 `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, err
	}

	eur := decimal.NewFromFloat(body.Bitcoin.EUR)
	usd := decimal.NewFromFloat(body.Bitcoin.USD)
	return &eur, &usd, nil
}

// KrakenProvider queries Kraken's public ticker endpoint.
type KrakenProvider struct {
	httpClient *http.Client
}

func NewKrakenProvider() *KrakenProvider {
	return &KrakenProvider{httpClient: &http.Client{Timeout: liveTickerTimeout}}
}

func (p *KrakenProvider) GetBTCPrice(ctx context.Context) (*decimal.Decimal, *decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.kraken.com/0/public/Ticker?pair=XBTEUR,XBTUSD", nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Result map[string]struct {
			C []string `json:"c"` // [price, lot volume]
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, err
	}

	var eur, usd *decimal.Decimal
	for pair, t := range body.Result {
		if len(t.C) == 0 {
			continue
		}
		price, err := decimal.NewFromString(t.C[0])
		if err != nil {
			continue
		}
		switch {
		case containsEUR(pair):
			eur = &price
		case containsUSD(pair):
			usd = &price
		}
	}
	return eur, usd, nil
}

func containsEUR(pair string) bool { return len(pair) >= 3 && (pair[len(pair)-3:] == "EUR" || pair == "XXBTZEUR") }
func containsUSD(pair string) bool { return len(pair) >= 3 && (pair[len(pair)-3:] == "USD" || pair == "XXBTZUSD") }

// FallbackPriceProvider tries CoinGecko first, then Kraken, returning
// (nil, nil) if both fail — never returns an error, since this path is a
// best-effort live read.
type FallbackPriceProvider struct {
	primary  LivePriceProvider
	fallback LivePriceProvider
}

func NewFallbackPriceProvider() *FallbackPriceProvider {
	return &FallbackPriceProvider{
		primary:  NewCoinGeckoProvider(),
		fallback: NewKrakenProvider(),
	}
}

func (f *FallbackPriceProvider) GetBTCPrice(ctx context.Context) (*decimal.Decimal, *decimal.Decimal, error) {
	if eur, usd, err := f.primary.GetBTCPrice(ctx); err == nil && (eur != nil || usd != nil) {
		return eur, usd, nil
	}
	if eur, usd, err := f.fallback.GetBTCPrice(ctx); err == nil {
		return eur, usd, nil
	}
	return nil, nil, nil
}
