// Package views holds the stateless, decimal-pure adapters that derive
// dashboard-ready shapes from portfolio-service outputs and raw price
// history: moving averages, buy-timing percentile and aggregates, a
// price-bucketed acquisition histogram, a monthly heatmap, and a DCA
// simulation. None of these touch storage; callers pass in the price and
// transaction slices they've already fetched.
package views

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/internal/domain"
	"github.com/angelperezz21/crypto-portfolio/pkg/money"
)

// MAPoint is one day's closing price alongside its 50- and 200-day
// trailing simple moving averages (nil until enough history exists).
type MAPoint struct {
	Date  time.Time
	Close decimal.Decimal
	MA50  *decimal.Decimal
	MA200 *decimal.Decimal
}

// ComputeMovingAverages runs O(n) sliding-window sums over daily closes,
// in ascending date order, emitting nil for the first 49/199 points.
func ComputeMovingAverages(prices []domain.PriceHistory) []MAPoint {
	points := make([]MAPoint, len(prices))
	sum50 := decimal.Zero
	sum200 := decimal.Zero

	for i, p := range prices {
		sum50 = sum50.Add(p.Close)
		sum200 = sum200.Add(p.Close)
		if i >= 50 {
			sum50 = sum50.Sub(prices[i-50].Close)
		}
		if i >= 200 {
			sum200 = sum200.Sub(prices[i-200].Close)
		}

		point := MAPoint{Date: p.OpenAt, Close: p.Close}
		if i >= 49 {
			ma := money.RoundMonetary(sum50.Div(decimal.NewFromInt(50)))
			point.MA50 = &ma
		}
		if i >= 199 {
			ma := money.RoundMonetary(sum200.Div(decimal.NewFromInt(200)))
			point.MA200 = &ma
		}
		points[i] = point
	}
	return points
}

// closesBefore returns the up-to-`count` daily price rows
// strictly preceding `date` within an ascending-sorted price slice.
func closesBefore(prices []domain.PriceHistory, date time.Time, count int) []domain.PriceHistory {
	idx := sort.Search(len(prices), func(i int) bool { return !prices[i].OpenAt.Before(date) })
	start := idx - count
	if start < 0 {
		start = 0
	}
	return prices[start:idx]
}

// TimingPercentile places a buy's price within the range of the 30
// closing prices preceding its date: 0 = bought at the 30-day low, 100 =
// bought at the 30-day high. Clamped to [0,100]; returns nil if no prior
// data exists; returns 50 if the window is flat (max == min).
func TimingPercentile(buyDate time.Time, buyPrice decimal.Decimal, prices []domain.PriceHistory) *decimal.Decimal {
	window := closesBefore(prices, buyDate, 30)
	if len(window) == 0 {
		return nil
	}

	lo, hi := window[0].Close, window[0].Close
	for _, p := range window[1:] {
		if p.Close.LessThan(lo) {
			lo = p.Close
		}
		if p.Close.GreaterThan(hi) {
			hi = p.Close
		}
	}

	if hi.Equal(lo) {
		fifty := decimal.NewFromInt(50)
		return &fifty
	}

	pct := buyPrice.Sub(lo).Div(hi.Sub(lo)).Mul(money.Hundred)
	if pct.LessThan(decimal.Zero) {
		pct = decimal.Zero
	}
	if pct.GreaterThan(money.Hundred) {
		pct = money.Hundred
	}
	rounded := pct.Round(0)
	return &rounded
}

// BuyTiming is one BTC buy with its computed timing percentile and
// whether it landed above its day's 200-day moving average.
type BuyTiming struct {
	Transaction domain.Transaction
	Percentile  *decimal.Decimal
	AboveMA200  *bool
}

// TimingAggregates is the distribution summary across all timed buys.
type TimingAggregates struct {
	Q1Count         int // percentile <= 25
	Q2Count         int // <= 50
	Q3Count         int // <= 75
	Q4Count         int // > 75
	AveragePercentile decimal.Decimal
	Label           string // "Dip Buyer" | "FOMO Buyer" | "Neutral"
	BelowMA200Count int
	AboveMA200Count int
}

// ComputeBuyTimings computes, for every BTC buy, its timing percentile and
// its position relative to the concurrent-day MA200.
func ComputeBuyTimings(buys []domain.Transaction, prices []domain.PriceHistory) []BuyTiming {
	maPoints := ComputeMovingAverages(prices)
	ma200ByDate := make(map[string]decimal.Decimal, len(maPoints))
	for _, mp := range maPoints {
		if mp.MA200 != nil {
			ma200ByDate[mp.Date.Format("2006-01-02")] = *mp.MA200
		}
	}

	out := make([]BuyTiming, len(buys))
	for i, b := range buys {
		price := decimal.Zero
		if b.Price != nil {
			price = *b.Price
		}
		pct := TimingPercentile(b.ExecutedAt, price, prices)

		var above *bool
		if ma200, ok := ma200ByDate[b.ExecutedAt.Format("2006-01-02")]; ok {
			v := price.GreaterThan(ma200)
			above = &v
		}
		out[i] = BuyTiming{Transaction: b, Percentile: pct, AboveMA200: above}
	}
	return out
}

// ComputeTimingAggregates buckets timed buys into quartiles, computes the
// average percentile and its dip/FOMO label, and tallies buys above/below
// their day's MA200.
func ComputeTimingAggregates(timings []BuyTiming) TimingAggregates {
	var agg TimingAggregates
	sum := decimal.Zero
	n := 0

	for _, t := range timings {
		if t.Percentile != nil {
			p := *t.Percentile
			sum = sum.Add(p)
			n++
			switch {
			case p.LessThanOrEqual(decimal.NewFromInt(25)):
				agg.Q1Count++
			case p.LessThanOrEqual(decimal.NewFromInt(50)):
				agg.Q2Count++
			case p.LessThanOrEqual(decimal.NewFromInt(75)):
				agg.Q3Count++
			default:
				agg.Q4Count++
			}
		}
		if t.AboveMA200 != nil {
			if *t.AboveMA200 {
				agg.AboveMA200Count++
			} else {
				agg.BelowMA200Count++
			}
		}
	}

	if n > 0 {
		agg.AveragePercentile = money.RoundPercent(sum.Div(decimal.NewFromInt(int64(n))))
	}

	switch {
	case n == 0:
		agg.Label = "Neutral"
	case agg.AveragePercentile.LessThan(decimal.NewFromInt(33)):
		agg.Label = "Dip Buyer"
	case agg.AveragePercentile.GreaterThan(decimal.NewFromInt(67)):
		agg.Label = "FOMO Buyer"
	default:
		agg.Label = "Neutral"
	}

	return agg
}

// HistogramBucket aggregates BTC acquired within one $5,000 price band.
type HistogramBucket struct {
	Label      string
	MinUSD     decimal.Decimal
	MaxUSD     decimal.Decimal
	QuantityBTC decimal.Decimal
	BuyCount   int
}

const bucketWidth = 5000

// ComputePriceHistogram buckets buy quantity by $5,000-wide price bands.
func ComputePriceHistogram(buys []domain.Transaction) []HistogramBucket {
	buckets := map[int64]*HistogramBucket{}
	var order []int64

	for _, b := range buys {
		if b.Price == nil {
			continue
		}
		priceFloat, _ := b.Price.Float64()
		bucketIdx := int64(priceFloat) / bucketWidth

		bucket, ok := buckets[bucketIdx]
		if !ok {
			minUSD := decimal.NewFromInt(bucketIdx * bucketWidth)
			maxUSD := decimal.NewFromInt((bucketIdx + 1) * bucketWidth)
			bucket = &HistogramBucket{
				Label:  fmt.Sprintf("$%dk-%dk", bucketIdx*bucketWidth/1000, (bucketIdx+1)*bucketWidth/1000),
				MinUSD: minUSD,
				MaxUSD: maxUSD,
			}
			buckets[bucketIdx] = bucket
			order = append(order, bucketIdx)
		}
		bucket.QuantityBTC = bucket.QuantityBTC.Add(b.Quantity)
		bucket.BuyCount++
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]HistogramBucket, len(order))
	for i, idx := range order {
		out[i] = *buckets[idx]
	}
	return out
}

// HeatmapCell is one (year, month) aggregate of DCA activity.
type HeatmapCell struct {
	Year        int
	Month       int
	InvestedUSD decimal.Decimal
	QuantityBTC decimal.Decimal
	BuyCount    int
}

// ComputeMonthlyHeatmap aggregates buys per calendar month.
func ComputeMonthlyHeatmap(buys []domain.Transaction) []HeatmapCell {
	cells := map[[2]int]*HeatmapCell{}
	var order [][2]int

	for _, b := range buys {
		key := [2]int{b.ExecutedAt.Year(), int(b.ExecutedAt.Month())}
		cell, ok := cells[key]
		if !ok {
			cell = &HeatmapCell{Year: key[0], Month: key[1]}
			cells[key] = cell
			order = append(order, key)
		}
		amount := decimal.Zero
		if b.TotalValueUSD != nil {
			amount = *b.TotalValueUSD
		} else if b.Price != nil {
			amount = b.Price.Mul(b.Quantity)
		}
		cell.InvestedUSD = cell.InvestedUSD.Add(amount)
		cell.QuantityBTC = cell.QuantityBTC.Add(b.Quantity)
		cell.BuyCount++
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})

	out := make([]HeatmapCell, len(order))
	for i, key := range order {
		out[i] = *cells[key]
	}
	return out
}

// Cadence selects the DCA simulation's period length.
type Cadence string

const (
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// DCACurvePoint is one point of an accumulated-BTC curve.
type DCACurvePoint struct {
	Date        time.Time
	CumQuantity decimal.Decimal
}

// DCASimulationResult compares the real buy history against a synthetic
// fixed-cadence, fixed-amount DCA strategy over the same total spend.
type DCASimulationResult struct {
	RealCurve      []DCACurvePoint
	SimulatedCurve []DCACurvePoint
	DiffBTC        decimal.Decimal
	DiffPct        decimal.Decimal
	DiffValueUSD   decimal.Decimal
	DiffValueEUR   decimal.Decimal
}

// SimulateDCA sums the real buys' total invested, replays that same total
// spread evenly across cadence-spaced periods from the first buy date to
// `today`, and reports the divergence in accumulated BTC between the two
// strategies.
func SimulateDCA(buys []domain.Transaction, prices []domain.PriceHistory, cadence Cadence, today time.Time, currentPriceUSD, eurUSD decimal.Decimal) DCASimulationResult {
	if len(buys) == 0 {
		return DCASimulationResult{}
	}

	realTotalInvested := decimal.Zero
	realCurve := make([]DCACurvePoint, 0, len(buys))
	cumReal := decimal.Zero
	for _, b := range buys {
		amount := decimal.Zero
		if b.TotalValueUSD != nil {
			amount = *b.TotalValueUSD
		} else if b.Price != nil {
			amount = b.Price.Mul(b.Quantity)
		}
		realTotalInvested = realTotalInvested.Add(amount)
		cumReal = cumReal.Add(b.Quantity)
		realCurve = append(realCurve, DCACurvePoint{Date: b.ExecutedAt, CumQuantity: money.RoundQuantity(cumReal)})
	}

	firstBuyDate := buys[0].ExecutedAt
	simDates := generateCadenceDates(firstBuyDate, today, cadence)
	if len(simDates) == 0 {
		return DCASimulationResult{RealCurve: realCurve}
	}

	perPeriod := money.SafeDiv(realTotalInvested, decimal.NewFromInt(int64(len(simDates))))

	simCurve := make([]DCACurvePoint, 0, len(simDates))
	cumSim := decimal.Zero
	for _, d := range simDates {
		price := closestPriceForward(prices, d, 5)
		if price != nil && !price.IsZero() {
			cumSim = cumSim.Add(perPeriod.Div(*price))
		}
		simCurve = append(simCurve, DCACurvePoint{Date: d, CumQuantity: money.RoundQuantity(cumSim)})
	}

	diffBTC := money.RoundQuantity(cumReal.Sub(cumSim))
	diffPct := decimal.Zero
	if !cumSim.IsZero() {
		diffPct = money.RoundPercent(diffBTC.Div(cumSim).Mul(money.Hundred))
	}
	diffValueUSD := money.RoundMonetary(diffBTC.Mul(currentPriceUSD))
	diffValueEUR := decimal.Zero
	if !eurUSD.IsZero() {
		diffValueEUR = money.RoundMonetary(diffValueUSD.Div(eurUSD))
	}

	return DCASimulationResult{
		RealCurve:      realCurve,
		SimulatedCurve: simCurve,
		DiffBTC:        diffBTC,
		DiffPct:        diffPct,
		DiffValueUSD:   diffValueUSD,
		DiffValueEUR:   diffValueEUR,
	}
}

func generateCadenceDates(from, to time.Time, cadence Cadence) []time.Time {
	var dates []time.Time
	step := 7 * 24 * time.Hour
	if cadence == CadenceMonthly {
		for d := from; !d.After(to); d = d.AddDate(0, 1, 0) {
			dates = append(dates, d)
		}
		return dates
	}
	for d := from; !d.After(to); d = d.Add(step) {
		dates = append(dates, d)
	}
	return dates
}

// closestPriceForward finds the first daily close at or after `date`
// within a `windowDays`-day forward window, or nil if none exists.
func closestPriceForward(prices []domain.PriceHistory, date time.Time, windowDays int) *decimal.Decimal {
	deadline := date.AddDate(0, 0, windowDays)
	idx := sort.Search(len(prices), func(i int) bool { return !prices[i].OpenAt.Before(date) })
	if idx < len(prices) && !prices[idx].OpenAt.After(deadline) {
		close := prices[idx].Close
		return &close
	}
	return nil
}
