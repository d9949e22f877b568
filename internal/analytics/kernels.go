// Package analytics holds the pure numeric kernels of the portfolio engine:
// FIFO lot consumption, VWAP, drawdown scan, and XIRR. None of these
// functions perform I/O; they take in-memory inputs and return plain
// records, callable identically from tests and from the portfolio service.
package analytics

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/pkg/money"
)

// Flow is the concrete value type kernels accept in place of the
// duck-typed dict/object the source tests mocked. It carries just the
// fields FIFO, VWAP, and the XIRR/invested-capital helpers need from a
// domain.Transaction, so kernels don't couple to the domain or store
// packages.
type Flow struct {
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	TotalValueUSD *decimal.Decimal
	QuoteAsset    string // "" if unknown/not applicable
	ExecutedAt    time.Time
}

// usdUnitCost is the per-lot unit cost in USD used by both FIFO and VWAP.
// Priority: total_value_usd/quantity (historical, correct even for
// EUR-quoted trades once enrichment has run). Fallback: the stored price,
// assumed USD-equivalent. Else zero.
func usdUnitCost(f Flow) decimal.Decimal {
	if f.TotalValueUSD != nil && f.Quantity.GreaterThan(decimal.Zero) {
		return money.RoundMonetary(f.TotalValueUSD.Div(f.Quantity))
	}
	if f.Price != nil {
		return *f.Price
	}
	return decimal.Zero
}

// eurUnitCost is the per-lot unit cost in historical EUR. For EUR-quoted
// trades, tx.Price is already EUR and is used directly (exact). For all
// other trades it divides the USD unit cost by the *current* EUR/USD rate
// — a knowing approximation, preserved per design note: no per-transaction
// historical FX rate is stored, so the current rate is the best available
// substitute, matching the total_value_usd enrichment path's use of the
// EURUSDT close only for EUR-quoted rows.
func eurUnitCost(f Flow, eurUSD decimal.Decimal) decimal.Decimal {
	if f.QuoteAsset == "EUR" {
		if f.Price != nil {
			return *f.Price
		}
		return decimal.Zero
	}
	usd := usdUnitCost(f)
	if eurUSD.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return money.RoundMonetary(usd.Div(eurUSD))
}

// FIFOLot is one consumable lot of an asset with its USD and historical-EUR
// unit cost.
type FIFOLot struct {
	Quantity     decimal.Decimal
	UnitCostUSD  decimal.Decimal
	UnitCostEUR  decimal.Decimal
}

// FIFOResult is the output of ComputeFIFO: the lots left unconsumed and
// the realized P&L/cost-basis accrued while consuming sells.
type FIFOResult struct {
	RemainingLots []FIFOLot
	RealizedPnLUSD decimal.Decimal
	CostBasisUSD   decimal.Decimal
	CostBasisEUR   decimal.Decimal
}

// ComputeFIFO consumes sells against buys oldest-lot-first.
//
// buys and sells must already be ordered by executed_at ascending (ties
// broken by exchange id) — callers guarantee the total order, the kernel
// does not sort.
//
// If a sell exceeds all available lots (a historical data gap), the excess
// quantity is silently discarded; no error is raised.
func ComputeFIFO(buys, sells []Flow, eurUSD decimal.Decimal) FIFOResult {
	lots := make([]FIFOLot, 0, len(buys))
	for _, b := range buys {
		lots = append(lots, FIFOLot{
			Quantity:    b.Quantity,
			UnitCostUSD: usdUnitCost(b),
			UnitCostEUR: eurUnitCost(b, eurUSD),
		})
	}

	realized := decimal.Zero

	for _, sell := range sells {
		remaining := sell.Quantity
		var sellPrice decimal.Decimal
		if sell.TotalValueUSD != nil {
			sellPrice = usdUnitCost(sell)
		} else if sell.Price != nil {
			sellPrice = *sell.Price
		} else {
			sellPrice = decimal.Zero
		}

		for remaining.GreaterThan(decimal.Zero) && len(lots) > 0 {
			lot := lots[0]
			if lot.Quantity.LessThanOrEqual(remaining) {
				realized = realized.Add(sellPrice.Sub(lot.UnitCostUSD).Mul(lot.Quantity))
				remaining = remaining.Sub(lot.Quantity)
				lots = lots[1:]
			} else {
				realized = realized.Add(sellPrice.Sub(lot.UnitCostUSD).Mul(remaining))
				lots[0] = FIFOLot{
					Quantity:    lot.Quantity.Sub(remaining),
					UnitCostUSD: lot.UnitCostUSD,
					UnitCostEUR: lot.UnitCostEUR,
				}
				remaining = decimal.Zero
			}
		}
	}

	costBasisUSD := decimal.Zero
	costBasisEUR := decimal.Zero
	for _, lot := range lots {
		costBasisUSD = costBasisUSD.Add(lot.Quantity.Mul(lot.UnitCostUSD))
		costBasisEUR = costBasisEUR.Add(lot.Quantity.Mul(lot.UnitCostEUR))
	}

	return FIFOResult{
		RemainingLots:  lots,
		RealizedPnLUSD: money.RoundMonetary(realized),
		CostBasisUSD:   money.RoundMonetary(costBasisUSD),
		CostBasisEUR:   money.RoundMonetary(costBasisEUR),
	}
}

// ComputeVWAP returns the volume-weighted average USD price:
// sum(unit_cost_i * qty_i) / sum(qty_i), skipping flows whose USD unit
// cost is zero. Returns zero when the denominator is zero.
func ComputeVWAP(flows []Flow) decimal.Decimal {
	totalCost := decimal.Zero
	totalQty := decimal.Zero

	for _, f := range flows {
		unitCost := usdUnitCost(f)
		if unitCost.IsZero() {
			continue
		}
		totalCost = totalCost.Add(unitCost.Mul(f.Quantity))
		totalQty = totalQty.Add(f.Quantity)
	}

	if totalQty.IsZero() {
		return decimal.Zero
	}
	return money.RoundMonetary(totalCost.Div(totalQty))
}

// Snapshot is the minimal shape ComputeDrawdown needs from a portfolio
// snapshot: a date and a total USD value.
type Snapshot struct {
	Date         time.Time
	TotalValueUSD decimal.Decimal
}

// DrawdownResult is the worst peak-to-trough decline found in a snapshot
// series.
type DrawdownResult struct {
	MaxDrawdownPct decimal.Decimal // negative, e.g. -25.34
	PeakDate       *time.Time
	TroughDate     *time.Time
	PeakValueUSD   decimal.Decimal
	TroughValueUSD decimal.Decimal
}

// ComputeDrawdown scans snapshots in date order tracking a running maximum
// and the worst (most negative) (value-running_max)/running_max observed.
func ComputeDrawdown(snapshots []Snapshot) DrawdownResult {
	if len(snapshots) == 0 {
		return DrawdownResult{
			MaxDrawdownPct: decimal.Zero,
			PeakValueUSD:   decimal.Zero,
			TroughValueUSD: decimal.Zero,
		}
	}

	runningMax := decimal.Zero
	runningMaxSnap := snapshots[0]

	worstDrawdown := decimal.Zero
	worstPeakSnap := snapshots[0]
	worstTroughSnap := snapshots[0]

	for _, snap := range snapshots {
		if snap.TotalValueUSD.GreaterThan(runningMax) {
			runningMax = snap.TotalValueUSD
			runningMaxSnap = snap
		}

		if runningMax.GreaterThan(decimal.Zero) {
			dd := snap.TotalValueUSD.Sub(runningMax).Div(runningMax)
			if dd.LessThan(worstDrawdown) {
				worstDrawdown = dd
				worstPeakSnap = runningMaxSnap
				worstTroughSnap = snap
			}
		}
	}

	peakDate := worstPeakSnap.Date
	troughDate := worstTroughSnap.Date
	return DrawdownResult{
		MaxDrawdownPct: money.RoundPercent(worstDrawdown.Mul(money.Hundred)),
		PeakDate:       &peakDate,
		TroughDate:     &troughDate,
		PeakValueUSD:   worstPeakSnap.TotalValueUSD,
		TroughValueUSD: worstTroughSnap.TotalValueUSD,
	}
}

// CashFlow is one dated, signed cash movement for XIRR: investments are
// negative, realizations positive.
type CashFlow struct {
	Date   time.Time
	Amount decimal.Decimal
}

// ComputeXIRR finds the internal rate of return for irregularly-timed
// cashflows via pure Newton-Raphson — no external numeric library.
//
// NPV(r) = sum(a_i / (1+r)^t_i), t_i = (date_i - date_0).days / 365.25.
//
// float64 is used only inside this iterative loop; inputs and the
// returned rate are exact decimals. Returns nil if there are fewer than
// two flows, if the derivative vanishes, if 200 iterations fail to
// converge, or if the result falls outside (-1, 100].
func ComputeXIRR(flows []CashFlow) *decimal.Decimal {
	if len(flows) < 2 {
		return nil
	}

	t0 := flows[0].Date
	amounts := make([]float64, len(flows))
	years := make([]float64, len(flows))
	for i, cf := range flows {
		f, _ := cf.Amount.Float64()
		amounts[i] = f
		years[i] = cf.Date.Sub(t0).Hours() / 24.0 / 365.25
	}

	npv := func(rate float64) float64 {
		if rate <= -1.0 {
			return math.Inf(1)
		}
		sum := 0.0
		for i, a := range amounts {
			sum += a / math.Pow(1.0+rate, years[i])
		}
		return sum
	}
	dNPV := func(rate float64) float64 {
		if rate <= -1.0 {
			return math.Inf(1)
		}
		sum := 0.0
		for i, a := range amounts {
			sum += -years[i] * a / math.Pow(1.0+rate, years[i]+1.0)
		}
		return sum
	}

	rate := 0.10
	converged := false
	for i := 0; i < 200; i++ {
		fn := npv(rate)
		dfn := dNPV(rate)
		if math.Abs(dfn) < 1e-12 {
			return nil
		}
		step := fn / dfn
		rate -= step
		if math.Abs(step) < 1e-10 {
			converged = true
			break
		}
	}
	if !converged {
		return nil
	}
	if rate <= -1.0 || rate > 100.0 {
		return nil
	}

	result := decimal.NewFromFloat(rate * 100.0).Round(4)
	return &result
}
