package views

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelperezz21/crypto-portfolio/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dailyPrice(dateStr, closeStr string) domain.PriceHistory {
	return domain.PriceHistory{
		Symbol: "BTCUSDT", Interval: "1d", OpenAt: day(dateStr),
		Close: dec(closeStr),
	}
}

func TestComputeMovingAverages_NilUntilWindowFilled(t *testing.T) {
	prices := make([]domain.PriceHistory, 0, 60)
	base := day("2024-01-01")
	for i := 0; i < 60; i++ {
		prices = append(prices, domain.PriceHistory{
			OpenAt: base.AddDate(0, 0, i),
			Close:  decimal.NewFromInt(int64(100 + i)),
		})
	}

	points := ComputeMovingAverages(prices)
	require.Len(t, points, 60)

	// Fewer than 50 closes seen so far: MA50 must be nil.
	assert.Nil(t, points[48].MA50)
	assert.NotNil(t, points[49].MA50)
	// Never reaches 200 points in this fixture, so MA200 stays nil throughout.
	assert.Nil(t, points[59].MA200)
}

func TestComputeMovingAverages_MA50MatchesManualAverage(t *testing.T) {
	prices := make([]domain.PriceHistory, 0, 50)
	base := day("2024-01-01")
	sum := decimal.Zero
	for i := 0; i < 50; i++ {
		c := decimal.NewFromInt(int64(1000 + i*10))
		sum = sum.Add(c)
		prices = append(prices, domain.PriceHistory{OpenAt: base.AddDate(0, 0, i), Close: c})
	}

	points := ComputeMovingAverages(prices)
	require.NotNil(t, points[49].MA50)
	expected := sum.Div(decimal.NewFromInt(50)).Round(8)
	assert.True(t, points[49].MA50.Equal(expected))
}

func TestTimingPercentile_BoughtAtThirtyDayLow(t *testing.T) {
	// S8: a buy at the exact bottom of its trailing 30-day window scores 0.
	base := day("2024-01-01")
	var prices []domain.PriceHistory
	for i := 0; i < 30; i++ {
		prices = append(prices, domain.PriceHistory{
			OpenAt: base.AddDate(0, 0, i),
			Close:  decimal.NewFromInt(int64(100 - i)), // descending: day 29 close = 71, lowest
		})
	}
	buyDate := base.AddDate(0, 0, 30)
	lowestClose := prices[len(prices)-1].Close

	pct := TimingPercentile(buyDate, lowestClose, prices)
	require.NotNil(t, pct)
	assert.True(t, pct.Equal(decimal.Zero))
}

func TestTimingPercentile_FlatWindowIsFifty(t *testing.T) {
	base := day("2024-01-01")
	var prices []domain.PriceHistory
	for i := 0; i < 30; i++ {
		prices = append(prices, domain.PriceHistory{OpenAt: base.AddDate(0, 0, i), Close: dec("100")})
	}
	pct := TimingPercentile(base.AddDate(0, 0, 30), dec("100"), prices)
	require.NotNil(t, pct)
	assert.True(t, pct.Equal(decimal.NewFromInt(50)))
}

func TestTimingPercentile_NoPriorDataReturnsNil(t *testing.T) {
	assert.Nil(t, TimingPercentile(day("2024-01-01"), dec("100"), nil))
}

func TestComputeTimingAggregates_LabelsDipBuyer(t *testing.T) {
	low := decimal.NewFromInt(10)
	timings := []BuyTiming{
		{Percentile: &low},
		{Percentile: &low},
	}
	agg := ComputeTimingAggregates(timings)
	assert.Equal(t, "Dip Buyer", agg.Label)
	assert.Equal(t, 2, agg.Q1Count)
}

func TestComputeTimingAggregates_LabelsFOMOBuyer(t *testing.T) {
	high := decimal.NewFromInt(90)
	timings := []BuyTiming{{Percentile: &high}}
	agg := ComputeTimingAggregates(timings)
	assert.Equal(t, "FOMO Buyer", agg.Label)
	assert.Equal(t, 1, agg.Q4Count)
}

func TestComputeTimingAggregates_EmptyIsNeutral(t *testing.T) {
	agg := ComputeTimingAggregates(nil)
	assert.Equal(t, "Neutral", agg.Label)
}

func TestComputePriceHistogram_BucketsByFiveThousand(t *testing.T) {
	buys := []domain.Transaction{
		{Price: decPtr("21000"), Quantity: dec("0.5")},
		{Price: decPtr("24999"), Quantity: dec("0.1")},
		{Price: decPtr("30500"), Quantity: dec("1.0")},
	}

	buckets := ComputePriceHistogram(buys)
	require.Len(t, buckets, 2)
	assert.Equal(t, "$20k-25k", buckets[0].Label)
	assert.True(t, buckets[0].QuantityBTC.Equal(dec("0.6")))
	assert.Equal(t, 2, buckets[0].BuyCount)
	assert.Equal(t, "$30k-35k", buckets[1].Label)
}

func TestComputeMonthlyHeatmap_AggregatesPerCalendarMonth(t *testing.T) {
	buys := []domain.Transaction{
		{ExecutedAt: day("2024-01-05"), Price: decPtr("100"), Quantity: dec("1")},
		{ExecutedAt: day("2024-01-20"), Price: decPtr("200"), Quantity: dec("1")},
		{ExecutedAt: day("2024-02-01"), Price: decPtr("300"), Quantity: dec("1")},
	}

	cells := ComputeMonthlyHeatmap(buys)
	require.Len(t, cells, 2)
	assert.Equal(t, 2024, cells[0].Year)
	assert.Equal(t, 1, cells[0].Month)
	assert.True(t, cells[0].InvestedUSD.Equal(dec("300")))
	assert.Equal(t, 2, cells[0].BuyCount)
}

func TestSimulateDCA_MatchesRealSpendWhenPricesFlat(t *testing.T) {
	// With a flat price series the cadence-synthesized curve accumulates the
	// same total BTC as the real buys that spent the same total amount.
	buys := []domain.Transaction{
		{ExecutedAt: day("2024-01-01"), Price: decPtr("100"), Quantity: dec("1")},
		{ExecutedAt: day("2024-02-01"), Price: decPtr("100"), Quantity: dec("1")},
	}

	var prices []domain.PriceHistory
	for d := day("2024-01-01"); !d.After(day("2024-03-01")); d = d.AddDate(0, 0, 1) {
		prices = append(prices, domain.PriceHistory{OpenAt: d, Close: dec("100")})
	}

	result := SimulateDCA(buys, prices, CadenceMonthly, day("2024-03-01"), dec("100"), dec("1.08"))
	require.NotEmpty(t, result.SimulatedCurve)
	assert.True(t, result.DiffBTC.Abs().LessThanOrEqual(dec("0.1")))
}

func TestSimulateDCA_EmptyBuysReturnsZeroValue(t *testing.T) {
	result := SimulateDCA(nil, nil, CadenceWeekly, day("2024-01-01"), dec("100"), dec("1.08"))
	assert.Empty(t, result.RealCurve)
	assert.Empty(t, result.SimulatedCurve)
}
