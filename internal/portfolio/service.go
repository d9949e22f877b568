// Package portfolio composes the pure analytics kernels with the store to
// produce the domain views a dashboard reads: overview, per-asset
// metrics, DCA analysis, performance history, drawdown, and fiscal-year
// realized P&L. It never issues SQL directly; everything goes through the
// narrow Reader interface.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/internal/analytics"
	"github.com/angelperezz21/crypto-portfolio/internal/domain"
	"github.com/angelperezz21/crypto-portfolio/pkg/money"
)

// Reader is the narrow read surface the portfolio service depends on,
// satisfied by *store.Store.
type Reader interface {
	GetLatestBalances(ctx context.Context, accountID uuid.UUID) (map[string]decimal.Decimal, error)
	GetTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
	GetTransactionsForAccountAsset(ctx context.Context, accountID uuid.UUID, asset string) ([]domain.Transaction, error)
	GetPriceHistory(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.PriceHistory, error)
	GetPortfolioSnapshots(ctx context.Context, accountID uuid.UUID, from, to *time.Time) ([]domain.PortfolioSnapshot, error)
}

// Service composes analytics kernels with the store.
type Service struct {
	store Reader
}

func New(store Reader) *Service {
	return &Service{store: store}
}

// AssetMetric is the per-asset row of an overview.
type AssetMetric struct {
	Asset          string
	Quantity       decimal.Decimal
	CurrentPriceUSD decimal.Decimal
	ValueUSD       decimal.Decimal
	CostBasisUSD   decimal.Decimal
	RealizedPnLUSD decimal.Decimal
	PnLUSD         decimal.Decimal
	PnLPct         decimal.Decimal
	PortfolioPct   decimal.Decimal
}

// Overview aggregates per-asset metrics plus invested capital, ROI, and IRR.
type Overview struct {
	Assets           []AssetMetric
	TotalValueUSD    decimal.Decimal
	InvestedUSD      decimal.Decimal
	PnLUnrealizedUSD decimal.Decimal
	PnLRealizedUSD   decimal.Decimal
	ROIPct           decimal.Decimal
	IRRAnnualPct     *decimal.Decimal
}

// toFlow adapts a domain.Transaction into the analytics kernel's Flow shape.
func toFlow(t domain.Transaction) analytics.Flow {
	quote := ""
	if t.QuoteAsset != nil {
		quote = *t.QuoteAsset
	}
	return analytics.Flow{
		Quantity:      t.Quantity,
		Price:         t.Price,
		TotalValueUSD: t.TotalValueUSD,
		QuoteAsset:    quote,
		ExecutedAt:    t.ExecutedAt,
	}
}

func partition(txns []domain.Transaction) (buys, sells []domain.Transaction) {
	for _, t := range txns {
		if domain.BuyLikeTypes[t.Type] {
			buys = append(buys, t)
		} else if domain.SellLikeTypes[t.Type] {
			sells = append(sells, t)
		}
	}
	return
}

func toFlows(txns []domain.Transaction) []analytics.Flow {
	flows := make([]analytics.Flow, len(txns))
	for i, t := range txns {
		flows[i] = toFlow(t)
	}
	return flows
}

// transactionUSDAmount is the USD amount a buy/deposit or sell/withdrawal
// represents for invested-capital and XIRR purposes: total_value_usd when
// present, else price*quantity, else zero.
func transactionUSDAmount(t domain.Transaction) decimal.Decimal {
	if t.TotalValueUSD != nil {
		return *t.TotalValueUSD
	}
	if t.Price != nil {
		return t.Price.Mul(t.Quantity)
	}
	return decimal.Zero
}

// CalculateAssetMetrics computes one row per asset present in the latest
// balance snapshot with positive quantity.
func (s *Service) CalculateAssetMetrics(ctx context.Context, accountID uuid.UUID, livePrices map[string]decimal.Decimal, eurUSD decimal.Decimal) ([]AssetMetric, error) {
	balances, err := s.store.GetLatestBalances(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get latest balances: %w", err)
	}

	var rows []AssetMetric
	totalValue := decimal.Zero

	for asset, qty := range balances {
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}

		txns, err := s.store.GetTransactionsForAccountAsset(ctx, accountID, asset)
		if err != nil {
			return nil, fmt.Errorf("get transactions for %s: %w", asset, err)
		}

		buys, sells := partition(txns)
		fifo := analytics.ComputeFIFO(toFlows(buys), toFlows(sells), eurUSD)

		price := livePrices[asset]
		valueUSD := money.RoundMonetary(qty.Mul(price))
		pnlUSD := money.RoundMonetary(valueUSD.Sub(fifo.CostBasisUSD))
		pnlPct := decimal.Zero
		if !fifo.CostBasisUSD.IsZero() {
			pnlPct = money.RoundPercent(pnlUSD.Div(fifo.CostBasisUSD).Mul(money.Hundred))
		}

		rows = append(rows, AssetMetric{
			Asset:           asset,
			Quantity:        qty,
			CurrentPriceUSD: price,
			ValueUSD:        valueUSD,
			CostBasisUSD:    fifo.CostBasisUSD,
			RealizedPnLUSD:  fifo.RealizedPnLUSD,
			PnLUSD:          pnlUSD,
			PnLPct:          pnlPct,
		})
		totalValue = totalValue.Add(valueUSD)
	}

	// Sort by value descending.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].ValueUSD.GreaterThan(rows[j-1].ValueUSD); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}

	for i := range rows {
		if totalValue.IsZero() {
			rows[i].PortfolioPct = decimal.Zero
			continue
		}
		rows[i].PortfolioPct = money.RoundPercent(rows[i].ValueUSD.Div(totalValue).Mul(money.Hundred))
	}

	return rows, nil
}

// CalculateOverview aggregates per-asset metrics with invested capital,
// ROI, and annualized IRR.
func (s *Service) CalculateOverview(ctx context.Context, accountID uuid.UUID, livePrices map[string]decimal.Decimal, eurUSD decimal.Decimal, today time.Time) (*Overview, error) {
	assets, err := s.CalculateAssetMetrics(ctx, accountID, livePrices, eurUSD)
	if err != nil {
		return nil, err
	}

	allTxns, err := s.store.GetTransactionsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get all transactions: %w", err)
	}

	totalValue := decimal.Zero
	totalRealized := decimal.Zero
	for _, a := range assets {
		totalValue = totalValue.Add(a.ValueUSD)
		totalRealized = totalRealized.Add(a.RealizedPnLUSD)
	}

	invested := decimal.Zero
	var cashflows []analytics.CashFlow
	for _, t := range allTxns {
		amount := transactionUSDAmount(t)
		switch {
		case t.Type == domain.TxBuy || t.Type == domain.TxDeposit:
			invested = invested.Add(amount)
			cashflows = append(cashflows, analytics.CashFlow{Date: t.ExecutedAt, Amount: amount.Neg()})
		case (t.Type == domain.TxSell || t.Type == domain.TxWithdrawal) && domain.FiatAndStablecoins[t.BaseAsset]:
			invested = invested.Sub(amount)
			cashflows = append(cashflows, analytics.CashFlow{Date: t.ExecutedAt, Amount: amount})
		}
	}
	invested = money.RoundMonetary(invested)

	totalPnL := money.RoundMonetary(totalValue.Sub(invested))
	unrealized := money.RoundMonetary(totalPnL.Sub(totalRealized))

	roiPct := decimal.Zero
	if !invested.IsZero() {
		roiPct = money.RoundPercent(totalValue.Sub(invested).Div(invested).Mul(money.Hundred))
	}

	var irr *decimal.Decimal
	if len(cashflows) >= 1 {
		full := append(append([]analytics.CashFlow{}, cashflows...), analytics.CashFlow{Date: today, Amount: totalValue})
		irr = analytics.ComputeXIRR(full)
	}

	return &Overview{
		Assets:           assets,
		TotalValueUSD:    totalValue,
		InvestedUSD:      invested,
		PnLUnrealizedUSD: unrealized,
		PnLRealizedUSD:   totalRealized,
		ROIPct:           roiPct,
		IRRAnnualPct:     irr,
	}, nil
}

// DCAPoint is one cumulative row of a DCA analysis table.
type DCAPoint struct {
	Date             time.Time
	Type             domain.TransactionType
	CumQuantity      decimal.Decimal
	CumCostUSD       decimal.Decimal
	CumVWAPUSD       decimal.Decimal
	CumCostEUR       decimal.Decimal
	CumVWAPEUR       decimal.Decimal
}

// DCAAnalysis is the per-asset dollar-cost-average view.
type DCAAnalysis struct {
	Asset           string
	Points          []DCAPoint
	CurrentQuantity decimal.Decimal
	FIFO            analytics.FIFOResult
	VWAPUSD         decimal.Decimal
}

// CalculateDCAAnalysis runs FIFO and VWAP over one asset's full history
// and builds the cumulative per-event table.
func (s *Service) CalculateDCAAnalysis(ctx context.Context, accountID uuid.UUID, asset string, eurUSD decimal.Decimal) (*DCAAnalysis, error) {
	txns, err := s.store.GetTransactionsForAccountAsset(ctx, accountID, asset)
	if err != nil {
		return nil, fmt.Errorf("get transactions for %s: %w", asset, err)
	}
	buys, sells := partition(txns)

	fifo := analytics.ComputeFIFO(toFlows(buys), toFlows(sells), eurUSD)
	vwap := analytics.ComputeVWAP(toFlows(buys))

	points := make([]DCAPoint, 0, len(txns))
	cumQty := decimal.Zero
	cumCostUSD := decimal.Zero
	cumCostEUR := decimal.Zero
	buyQtySoFar := decimal.Zero

	for _, t := range txns {
		flow := toFlow(t)
		switch {
		case domain.BuyLikeTypes[t.Type]:
			cumQty = cumQty.Add(t.Quantity)
			buyQtySoFar = buyQtySoFar.Add(t.Quantity)
			cumCostUSD = cumCostUSD.Add(flowUSDUnitCost(flow).Mul(t.Quantity))
			cumCostEUR = cumCostEUR.Add(flowEURUnitCost(flow, eurUSD).Mul(t.Quantity))
		case domain.SellLikeTypes[t.Type]:
			cumQty = cumQty.Sub(t.Quantity)
		default:
			continue
		}

		vwapUSD := money.SafeDiv(cumCostUSD, buyQtySoFar)
		vwapEUR := money.SafeDiv(cumCostEUR, buyQtySoFar)

		points = append(points, DCAPoint{
			Date:        t.ExecutedAt,
			Type:        t.Type,
			CumQuantity: money.RoundQuantity(cumQty),
			CumCostUSD:  money.RoundMonetary(cumCostUSD),
			CumVWAPUSD:  money.RoundMonetary(vwapUSD),
			CumCostEUR:  money.RoundMonetary(cumCostEUR),
			CumVWAPEUR:  money.RoundMonetary(vwapEUR),
		})
	}

	currentQty := decimal.Zero
	balances, err := s.store.GetLatestBalances(ctx, accountID)
	if err == nil {
		if bal, ok := balances[asset]; ok {
			currentQty = bal
		} else {
			currentQty = cumQty
		}
	} else {
		currentQty = cumQty
	}

	return &DCAAnalysis{
		Asset:           asset,
		Points:          points,
		CurrentQuantity: currentQty,
		FIFO:            fifo,
		VWAPUSD:         vwap,
	}, nil
}

// flowUSDUnitCost/flowEURUnitCost duplicate the unexported helpers inside
// analytics for the DCA cumulative table; kept here (not exported from
// analytics) since the table is a portfolio-service-only presentation
// concern, not part of the pure kernel surface.
func flowUSDUnitCost(f analytics.Flow) decimal.Decimal {
	if f.TotalValueUSD != nil && f.Quantity.GreaterThan(decimal.Zero) {
		return money.RoundMonetary(f.TotalValueUSD.Div(f.Quantity))
	}
	if f.Price != nil {
		return *f.Price
	}
	return decimal.Zero
}

func flowEURUnitCost(f analytics.Flow, eurUSD decimal.Decimal) decimal.Decimal {
	if f.QuoteAsset == "EUR" {
		if f.Price != nil {
			return *f.Price
		}
		return decimal.Zero
	}
	usd := flowUSDUnitCost(f)
	if eurUSD.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return money.RoundMonetary(usd.Div(eurUSD))
}

// PerformancePoint is one day of the portfolio's value-over-time series.
type PerformancePoint struct {
	Date        time.Time
	ValueUSD    decimal.Decimal
	InvestedUSD decimal.Decimal
	PnLUSD      decimal.Decimal
	PnLPct      decimal.Decimal
}

// CalculatePerformanceHistory emits cached daily snapshots when present in
// range, else synthesizes a daily series from BTCUSDT klines and BTC
// transactions.
func (s *Service) CalculatePerformanceHistory(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]PerformancePoint, error) {
	snapshots, err := s.store.GetPortfolioSnapshots(ctx, accountID, &from, &to)
	if err != nil {
		return nil, fmt.Errorf("get portfolio snapshots: %w", err)
	}
	if len(snapshots) > 0 {
		points := make([]PerformancePoint, len(snapshots))
		for i, snap := range snapshots {
			pnl := money.RoundMonetary(snap.TotalValueUSD.Sub(snap.InvestedUSD))
			pnlPct := decimal.Zero
			if !snap.InvestedUSD.IsZero() {
				pnlPct = money.RoundPercent(pnl.Div(snap.InvestedUSD).Mul(money.Hundred))
			}
			points[i] = PerformancePoint{
				Date:        snap.SnapshotDate,
				ValueUSD:    snap.TotalValueUSD,
				InvestedUSD: snap.InvestedUSD,
				PnLUSD:      pnl,
				PnLPct:      pnlPct,
			}
		}
		return points, nil
	}

	return s.synthesizePerformanceHistory(ctx, accountID, from, to)
}

// synthesizePerformanceHistory scans BTCUSDT daily closes alongside BTC
// transactions (buys/deposits add to cumulative quantity and invested
// capital; sells/withdrawals decrement quantity only — invested never
// decreases), emitting a point per price-day on or after the first BTC
// transaction where cumulative quantity is positive.
func (s *Service) synthesizePerformanceHistory(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]PerformancePoint, error) {
	prices, err := s.store.GetPriceHistory(ctx, "BTCUSDT", "1d", from, to)
	if err != nil {
		return nil, fmt.Errorf("get btc price history: %w", err)
	}

	txns, err := s.store.GetTransactionsForAccountAsset(ctx, accountID, "BTC")
	if err != nil {
		return nil, fmt.Errorf("get btc transactions: %w", err)
	}

	var filtered []domain.Transaction
	for _, t := range txns {
		if !t.ExecutedAt.After(to) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 || len(prices) == 0 {
		return nil, nil
	}
	firstTxnDate := filtered[0].ExecutedAt

	cumQty := decimal.Zero
	cumInvested := decimal.Zero
	txIdx := 0

	var points []PerformancePoint
	for _, p := range prices {
		for txIdx < len(filtered) && !filtered[txIdx].ExecutedAt.After(p.OpenAt) {
			t := filtered[txIdx]
			amount := transactionUSDAmount(t)
			switch {
			case domain.BuyLikeTypes[t.Type]:
				cumQty = cumQty.Add(t.Quantity)
				cumInvested = cumInvested.Add(amount)
			case domain.SellLikeTypes[t.Type]:
				cumQty = cumQty.Sub(t.Quantity)
			}
			txIdx++
		}

		if p.OpenAt.Before(firstTxnDate) || cumQty.LessThanOrEqual(decimal.Zero) {
			continue
		}

		valueUSD := money.RoundMonetary(cumQty.Mul(p.Close))
		pnl := money.RoundMonetary(valueUSD.Sub(cumInvested))
		pnlPct := decimal.Zero
		if !cumInvested.IsZero() {
			pnlPct = money.RoundPercent(pnl.Div(cumInvested).Mul(money.Hundred))
		}

		points = append(points, PerformancePoint{
			Date:        p.OpenAt,
			ValueUSD:    valueUSD,
			InvestedUSD: money.RoundMonetary(cumInvested),
			PnLUSD:      pnl,
			PnLPct:      pnlPct,
		})
	}

	return points, nil
}

// CalculateDrawdown uses cached snapshots if present, else the synthetic
// series over a wide default range (the history epoch to today).
func (s *Service) CalculateDrawdown(ctx context.Context, accountID uuid.UUID, today time.Time) (*analytics.DrawdownResult, error) {
	snapshots, err := s.store.GetPortfolioSnapshots(ctx, accountID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get portfolio snapshots: %w", err)
	}

	var series []analytics.Snapshot
	if len(snapshots) > 0 {
		series = make([]analytics.Snapshot, len(snapshots))
		for i, snap := range snapshots {
			series[i] = analytics.Snapshot{Date: snap.SnapshotDate, TotalValueUSD: snap.TotalValueUSD}
		}
	} else {
		points, err := s.synthesizePerformanceHistory(ctx, accountID, domain.HistoryEpoch, today)
		if err != nil {
			return nil, err
		}
		series = make([]analytics.Snapshot, len(points))
		for i, p := range points {
			series[i] = analytics.Snapshot{Date: p.Date, TotalValueUSD: p.ValueUSD}
		}
	}

	result := analytics.ComputeDrawdown(series)
	return &result, nil
}

// FiscalYearAssetResult is one asset's realized gain within a fiscal year.
type FiscalYearAssetResult struct {
	Asset          string
	RealizedPnLUSD decimal.Decimal
}

// FiscalYearResult is the per-asset and total realized P&L for one
// calendar year under FIFO accounting.
type FiscalYearResult struct {
	Year           int
	Assets         []FiscalYearAssetResult
	TotalPnLUSD    decimal.Decimal
}

// CalculateFiscalYearPnL takes all buy/deposit transactions up to the end
// of year Y (grouped by asset) and all sell/withdrawal transactions
// within year Y, then runs FIFO over the full historical buy set for
// every asset with a year-Y sell — this lets FIFO lot consumption
// reflect pre-Y history rather than starting cold at the year boundary.
func (s *Service) CalculateFiscalYearPnL(ctx context.Context, accountID uuid.UUID, year int, eurUSD decimal.Decimal) (*FiscalYearResult, error) {
	allTxns, err := s.store.GetTransactionsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get all transactions: %w", err)
	}

	yearStart := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)

	buysByAsset := map[string][]domain.Transaction{}
	sellsInYearByAsset := map[string][]domain.Transaction{}

	for _, t := range allTxns {
		if domain.BuyLikeTypes[t.Type] && t.ExecutedAt.Before(yearEnd) {
			buysByAsset[t.BaseAsset] = append(buysByAsset[t.BaseAsset], t)
		}
		if domain.SellLikeTypes[t.Type] && !t.ExecutedAt.Before(yearStart) && t.ExecutedAt.Before(yearEnd) {
			sellsInYearByAsset[t.BaseAsset] = append(sellsInYearByAsset[t.BaseAsset], t)
		}
	}

	var assets []FiscalYearAssetResult
	total := decimal.Zero
	for asset, sells := range sellsInYearByAsset {
		buys := buysByAsset[asset]
		fifo := analytics.ComputeFIFO(toFlows(buys), toFlows(sells), eurUSD)
		assets = append(assets, FiscalYearAssetResult{Asset: asset, RealizedPnLUSD: fifo.RealizedPnLUSD})
		total = total.Add(fifo.RealizedPnLUSD)
	}

	return &FiscalYearResult{
		Year:        year,
		Assets:      assets,
		TotalPnLUSD: money.RoundMonetary(total),
	}, nil
}
