// Package domain holds the value types shared across the ingestion and
// analytics layers: Account, Transaction, BalanceSnapshot, PriceHistory and
// PortfolioSnapshot. All monetary and quantity fields are exact decimals;
// binary floats never cross this boundary except inside the XIRR kernel.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncStatus is the lifecycle state of an Account's ingestion.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// TransactionType enumerates the exchange events recorded per transaction.
type TransactionType string

const (
	TxBuy             TransactionType = "buy"
	TxSell            TransactionType = "sell"
	TxDeposit         TransactionType = "deposit"
	TxWithdrawal      TransactionType = "withdrawal"
	TxConvert         TransactionType = "convert"
	TxEarnInterest    TransactionType = "earn_interest"
	TxStakingReward   TransactionType = "staking_reward"
)

// BuyLikeTypes partition transactions the way FIFO and VWAP expect: buys add
// lots, sells consume them.
var BuyLikeTypes = map[TransactionType]bool{
	TxBuy:           true,
	TxDeposit:       true,
	TxEarnInterest:  true,
	TxStakingReward: true,
}

var SellLikeTypes = map[TransactionType]bool{
	TxSell:       true,
	TxWithdrawal: true,
}

// FiatAndStablecoins is the asset set treated as cash-equivalent when
// computing invested capital and XIRR cashflows.
var FiatAndStablecoins = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CHF": true,
	"USDT": true, "USDC": true, "BUSD": true, "FDUSD": true,
	"DAI": true, "TUSD": true, "USDP": true,
}

// TrackedAssets is the fixed whitelist of assets the system ingests
// balances for.
var TrackedAssets = map[string]bool{
	"BTC": true, "USDT": true, "USDC": true, "BUSD": true,
	"FDUSD": true, "EUR": true, "USD": true,
}

// TrackedTradeSymbols is the fixed set of spot pairs synchronized for
// trade history.
var TrackedTradeSymbols = []string{"BTCUSDT", "BTCEUR", "BTCBUSD", "BTCFDUSD"}

// HistoryEpoch is the earliest timestamp from which history is fetched:
// 2021-01-01T00:00:00Z, 1_609_459_200_000 ms.
var HistoryEpoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// Account is the single row representing the ingested exchange account.
type Account struct {
	ID                 uuid.UUID
	DisplayName        string
	EncryptedAPIKey    []byte
	EncryptedAPISecret []byte
	LastSyncAt         *time.Time
	SyncStatus         SyncStatus
	CreatedAt          time.Time
}

// Transaction is one row per exchange event: trade, deposit, withdrawal, or
// fiat order, mapped into a common shape.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	ExchangeID     *string // unique across the table when non-null
	Type           TransactionType
	BaseAsset      string
	QuoteAsset     *string
	Quantity       decimal.Decimal
	Price          *decimal.Decimal
	TotalValueUSD  *decimal.Decimal
	FeeAsset       *string
	FeeAmount      *decimal.Decimal
	ExecutedAt     time.Time
	RawData        map[string]any
}

// BalanceSnapshot is an append-only per-(account, asset, snapshot_at) row.
type BalanceSnapshot struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Asset      string
	Free       decimal.Decimal
	Locked     decimal.Decimal
	ValueUSD   *decimal.Decimal
	SnapshotAt time.Time
}

// Total returns free+locked, the "current balance" definition from spec §3.
func (b BalanceSnapshot) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// PriceHistory is one OHLCV candle uniquely keyed by (symbol, interval, open_at).
type PriceHistory struct {
	Symbol   string
	Interval string // "1d", "1w", "1M"
	OpenAt   time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// PortfolioSnapshot caches one day's portfolio totals per account.
type PortfolioSnapshot struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	SnapshotDate       time.Time // date-only, UTC midnight
	TotalValueUSD      decimal.Decimal
	InvestedUSD        decimal.Decimal
	PnLUnrealizedUSD   decimal.Decimal
	PnLRealizedUSD     decimal.Decimal
	BTCQuantity        *decimal.Decimal
	BTCAvgBuyPriceUSD  *decimal.Decimal
	Composition        map[string]decimal.Decimal
}
