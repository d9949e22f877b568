package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func price(s string) *decimal.Decimal {
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

func TestComputeFIFO_OldestLotFirst(t *testing.T) {
	// S1: oldest lot is consumed before the newer one.
	buys := []Flow{
		{Quantity: dec("1.0"), Price: price("30000"), ExecutedAt: day("2023-01-01")},
		{Quantity: dec("1.0"), Price: price("50000"), ExecutedAt: day("2023-06-01")},
	}
	sells := []Flow{
		{Quantity: dec("1.0"), Price: price("40000"), ExecutedAt: day("2023-07-01")},
	}

	result := ComputeFIFO(buys, sells, dec("1.08"))

	assert.True(t, result.RealizedPnLUSD.Equal(dec("10000")))
	require.Len(t, result.RemainingLots, 1)
	assert.True(t, result.RemainingLots[0].Quantity.Equal(dec("1.0")))
	assert.True(t, result.CostBasisUSD.Equal(dec("50000")))
}

func TestComputeFIFO_PartialConsumption(t *testing.T) {
	// S2
	buys := []Flow{
		{Quantity: dec("2.0"), Price: price("20000"), ExecutedAt: day("2023-01-01")},
	}
	sells := []Flow{
		{Quantity: dec("1.0"), Price: price("50000"), ExecutedAt: day("2023-02-01")},
	}

	result := ComputeFIFO(buys, sells, dec("1.08"))

	assert.True(t, result.RealizedPnLUSD.Equal(dec("30000")))
	require.Len(t, result.RemainingLots, 1)
	assert.True(t, result.RemainingLots[0].Quantity.Equal(dec("1.0")))
	assert.True(t, result.CostBasisUSD.Equal(dec("20000")))
}

func TestComputeFIFO_ExcessSellDiscardedSilently(t *testing.T) {
	// Invariant 1: remaining quantity never goes negative; excess sells are
	// silently discarded rather than erroring.
	buys := []Flow{
		{Quantity: dec("1.0"), Price: price("10000"), ExecutedAt: day("2023-01-01")},
	}
	sells := []Flow{
		{Quantity: dec("5.0"), Price: price("11000"), ExecutedAt: day("2023-02-01")},
	}

	result := ComputeFIFO(buys, sells, dec("1.08"))

	assert.Empty(t, result.RemainingLots)
	assert.True(t, result.RealizedPnLUSD.Equal(dec("1000")))
}

func TestComputeFIFO_NoSells_CostBasisIsSumOfBuys(t *testing.T) {
	// Invariant 2
	buys := []Flow{
		{Quantity: dec("1.0"), Price: price("10000"), ExecutedAt: day("2023-01-01")},
		{Quantity: dec("2.0"), Price: price("20000"), ExecutedAt: day("2023-02-01")},
	}

	result := ComputeFIFO(buys, nil, dec("1.08"))

	assert.True(t, result.CostBasisUSD.Equal(dec("50000")))
	assert.True(t, result.RealizedPnLUSD.IsZero())
}

func TestComputeVWAP_SingleFlow(t *testing.T) {
	// Invariant 4: VWAP of a single flow equals its price.
	flows := []Flow{{Quantity: dec("3.5"), Price: price("21000")}}
	assert.True(t, ComputeVWAP(flows).Equal(dec("21000")))
}

func TestComputeVWAP_Empty(t *testing.T) {
	assert.True(t, ComputeVWAP(nil).IsZero())
}

func TestComputeDrawdown_PeakTrough(t *testing.T) {
	// S3
	snaps := []Snapshot{
		{Date: day("2024-01-01"), TotalValueUSD: dec("10000")},
		{Date: day("2024-02-01"), TotalValueUSD: dec("20000")},
		{Date: day("2024-03-01"), TotalValueUSD: dec("10000")},
	}

	result := ComputeDrawdown(snaps)

	assert.True(t, result.MaxDrawdownPct.Equal(dec("-50.00")))
	require.NotNil(t, result.PeakDate)
	require.NotNil(t, result.TroughDate)
	assert.Equal(t, day("2024-02-01"), *result.PeakDate)
	assert.Equal(t, day("2024-03-01"), *result.TroughDate)
}

func TestComputeDrawdown_MonotonicSeriesIsZero(t *testing.T) {
	// Invariant 3
	snaps := []Snapshot{
		{Date: day("2024-01-01"), TotalValueUSD: dec("10000")},
		{Date: day("2024-02-01"), TotalValueUSD: dec("20000")},
		{Date: day("2024-03-01"), TotalValueUSD: dec("30000")},
	}

	result := ComputeDrawdown(snaps)
	assert.True(t, result.MaxDrawdownPct.IsZero())
}

func TestComputeDrawdown_Empty(t *testing.T) {
	result := ComputeDrawdown(nil)
	assert.True(t, result.MaxDrawdownPct.IsZero())
	assert.Nil(t, result.PeakDate)
	assert.Nil(t, result.TroughDate)
}

func TestComputeXIRR_BreakEven(t *testing.T) {
	// S4
	flows := []CashFlow{
		{Date: day("2024-01-01"), Amount: dec("-10000")},
		{Date: day("2025-01-01"), Amount: dec("10000")},
	}

	result := ComputeXIRR(flows)
	require.NotNil(t, result)
	diff, _ := result.Abs().Float64()
	assert.Less(t, diff, 1.0) // well within tolerance; break-even is ~0%
}

func TestComputeXIRR_PeriodicFlows(t *testing.T) {
	// Invariant 9: n periodic cashflows -A and a final +A*n should yield a
	// rate close to 0.
	flows := []CashFlow{
		{Date: day("2021-01-01"), Amount: dec("-1000")},
		{Date: day("2022-01-01"), Amount: dec("-1000")},
		{Date: day("2023-01-01"), Amount: dec("-1000")},
		{Date: day("2024-01-01"), Amount: dec("3000")},
	}

	result := ComputeXIRR(flows)
	require.NotNil(t, result)
	f, _ := result.Float64()
	assert.InDelta(t, 0.0, f, 2.0)
}

func TestComputeXIRR_InsufficientFlows(t *testing.T) {
	assert.Nil(t, ComputeXIRR([]CashFlow{{Date: day("2024-01-01"), Amount: dec("100")}}))
}

func TestEurUnitCost_EURQuotedTradeUsesPriceDirectly(t *testing.T) {
	f := Flow{Quantity: dec("0.1"), Price: price("50000"), QuoteAsset: "EUR"}
	assert.True(t, eurUnitCost(f, dec("1.08")).Equal(dec("50000")))
}

func TestEurUnitCost_NonEURTradeConvertsAtCurrentRate(t *testing.T) {
	f := Flow{Quantity: dec("1"), Price: price("108"), QuoteAsset: "USDT"}
	assert.True(t, eurUnitCost(f, dec("1.08")).Equal(dec("100.00000000")))
}
