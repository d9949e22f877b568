package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/internal/domain"
	"github.com/angelperezz21/crypto-portfolio/internal/security"
	"github.com/angelperezz21/crypto-portfolio/internal/sync"
	"github.com/angelperezz21/crypto-portfolio/internal/views"
)

// livePricesAndEURRate fetches the live BTC price from the fallback ticker and
// builds the asset->USD map the portfolio service needs, plus the
// current EUR/USD rate used for historical-EUR approximation (spec
// §4.3.1). Stablecoins and USD itself are pegged at 1.
func (s *Server) livePricesAndEURRate(r *http.Request) (map[string]decimal.Decimal, decimal.Decimal) {
	prices := map[string]decimal.Decimal{"USD": decimal.NewFromInt(1)}
	for asset := range domain.FiatAndStablecoins {
		prices[asset] = decimal.NewFromInt(1)
	}

	eurUSD := decimal.NewFromFloat(1.08) // conservative fallback if the live ticker is unreachable

	eur, usd, err := s.livePrices.GetBTCPrice(r.Context())
	if err == nil {
		if usd != nil {
			prices["BTC"] = *usd
		}
		if eur != nil && usd != nil && !eur.IsZero() {
			eurUSD = usd.Div(*eur)
		}
	}
	prices["EUR"] = eurUSD

	return prices, eurUSD
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if _, err := s.syncJob.TryTrigger(r.Context()); err != nil {
		if err == sync.ErrAlreadyRunning {
			s.writeData(w, http.StatusConflict, map[string]string{"status": "already_running"}, nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusAccepted, map[string]string{"status": "started"}, nil)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := s.registry.Status(s.accountID)
	if status == nil {
		s.writeData(w, http.StatusOK, map[string]any{"running": false, "stats": nil}, nil)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"running": status.Running, "stats": status.Stats}, nil)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	prices, eurUSD := s.livePricesAndEURRate(r)
	overview, err := s.portfolio.CalculateOverview(r.Context(), s.accountID, prices, eurUSD, time.Now().UTC())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, overview, nil)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	prices, eurUSD := s.livePricesAndEURRate(r)
	assets, err := s.portfolio.CalculateAssetMetrics(r.Context(), s.accountID, prices, eurUSD)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, assets, nil)
}

func (s *Server) handleDCA(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	_, eurUSD := s.livePricesAndEURRate(r)
	dca, err := s.portfolio.CalculateDCAAnalysis(r.Context(), s.accountID, asset, eurUSD)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, dca, nil)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	from, to := parseRange(r, domain.HistoryEpoch, time.Now().UTC())
	points, err := s.portfolio.CalculatePerformanceHistory(r.Context(), s.accountID, from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, points, nil)
}

func (s *Server) handleDrawdown(w http.ResponseWriter, r *http.Request) {
	result, err := s.portfolio.CalculateDrawdown(r.Context(), s.accountID, time.Now().UTC())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, result, nil)
}

func (s *Server) handleFiscalYear(w http.ResponseWriter, r *http.Request) {
	yearStr := chi.URLParam(r, "year")
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	_, eurUSD := s.livePricesAndEURRate(r)
	result, err := s.portfolio.CalculateFiscalYearPnL(r.Context(), s.accountID, year, eurUSD)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, result, nil)
}

// handleBTCInsights serves the richest btc-insights variant per spec §9's
// audit note: moving averages, timing percentile/aggregates, histogram,
// heatmap, and a DCA simulation, all in one response.
func (s *Server) handleBTCInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to := parseRange(r, domain.HistoryEpoch, time.Now().UTC())

	prices, err := s.store.GetPriceHistory(ctx, "BTCUSDT", "1d", from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	txns, err := s.store.GetTransactionsForAccountAsset(ctx, s.accountID, "BTC")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buys []domain.Transaction
	for _, t := range txns {
		if domain.BuyLikeTypes[t.Type] {
			buys = append(buys, t)
		}
	}

	livePrices, eurUSD := s.livePricesAndEURRate(r)
	currentBTC := livePrices["BTC"]

	movingAverages := views.ComputeMovingAverages(prices)
	timings := views.ComputeBuyTimings(buys, prices)
	aggregates := views.ComputeTimingAggregates(timings)
	histogram := views.ComputePriceHistogram(buys)
	heatmap := views.ComputeMonthlyHeatmap(buys)
	simulation := views.SimulateDCA(buys, prices, views.CadenceMonthly, time.Now().UTC(), currentBTC, eurUSD)

	s.writeData(w, http.StatusOK, map[string]any{
		"moving_averages":   movingAverages,
		"buy_timings":       timings,
		"timing_aggregates": aggregates,
		"histogram":         histogram,
		"heatmap":           heatmap,
		"dca_simulation":    simulation,
	}, nil)
}

// settingsUpdateRequest is the PUT /api/settings body: display name and/or
// fresh exchange credentials (only non-empty fields are applied).
type settingsUpdateRequest struct {
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := s.store.GetAccount(r.Context(), s.accountID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	if req.DisplayName != "" {
		account.DisplayName = req.DisplayName
	}
	if req.APIKey != "" {
		enc, err := s.box.EncryptString(req.APIKey)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, (&security.DecryptionError{Cause: err}).Error())
			return
		}
		account.EncryptedAPIKey = enc
	}
	if req.APISecret != "" {
		enc, err := s.box.EncryptString(req.APISecret)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, (&security.DecryptionError{Cause: err}).Error())
			return
		}
		account.EncryptedAPISecret = enc
	}

	if err := s.store.UpdateAccountSettings(r.Context(), *account); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeData(w, http.StatusOK, map[string]string{"status": "updated"}, nil)
}

func parseRange(r *http.Request, defaultFrom, defaultTo time.Time) (time.Time, time.Time) {
	from := defaultFrom
	to := defaultTo
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			to = t
		}
	}
	return from, to
}
