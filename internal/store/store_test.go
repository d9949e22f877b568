package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelperezz21/crypto-portfolio/internal/database"
	"github.com/angelperezz21/crypto-portfolio/internal/domain"
)

func newTestStore(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	accountID := uuid.New()
	_, err = db.ExecContext(context.Background(), `
		INSERT INTO accounts (id, display_name, encrypted_api_key, encrypted_api_secret, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		accountID.String(), "test", []byte("key"), []byte("secret"), "idle", time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)

	return New(db), accountID
}

func exchangeID(s string) *string { return &s }
func quoteAsset(s string) *string { return &s }
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

func TestUpsertTransactions_DuplicateExchangeIDIsIgnored(t *testing.T) {
	s, accountID := newTestStore(t)
	ctx := context.Background()

	txn := domain.Transaction{
		AccountID:  accountID,
		ExchangeID: exchangeID("ex-1"),
		Type:       domain.TxBuy,
		BaseAsset:  "BTC",
		QuoteAsset: quoteAsset("USDT"),
		Quantity:   dec("0.5"),
		Price:      decPtr("30000"),
		ExecutedAt: time.Now().UTC(),
	}

	n1, err := s.UpsertTransactions(ctx, []domain.Transaction{txn})
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	// Re-ingesting the same exchange_id must be a no-op (invariant 5).
	txn.ID = uuid.New()
	n2, err := s.UpsertTransactions(ctx, []domain.Transaction{txn})
	require.NoError(t, err)
	require.Equal(t, 0, n2)

	all, err := s.GetTransactionsForAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Quantity.Equal(dec("0.5")))
}

func TestGetLastTradeIDForPair_DisambiguatesBySymbol(t *testing.T) {
	s, accountID := newTestStore(t)
	ctx := context.Background()

	txns := []domain.Transaction{
		{
			AccountID: accountID, ExchangeID: exchangeID("1"), Type: domain.TxBuy,
			BaseAsset: "BTC", QuoteAsset: quoteAsset("USDT"), Quantity: dec("0.1"),
			ExecutedAt: time.Now().UTC(), RawData: map[string]any{"symbol": "BTCUSDT"},
		},
		{
			AccountID: accountID, ExchangeID: exchangeID("2"), Type: domain.TxBuy,
			BaseAsset: "BTC", QuoteAsset: quoteAsset("EUR"), Quantity: dec("0.1"),
			ExecutedAt: time.Now().UTC(), RawData: map[string]any{"symbol": "BTCEUR"},
		},
	}
	_, err := s.UpsertTransactions(ctx, txns)
	require.NoError(t, err)

	id, err := s.GetLastTradeIDForPair(ctx, accountID, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, int64(1), *id)

	id, err = s.GetLastTradeIDForPair(ctx, accountID, "BTCEUR")
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Equal(t, int64(2), *id)

	id, err = s.GetLastTradeIDForPair(ctx, accountID, "BTCBUSD")
	require.NoError(t, err)
	require.Nil(t, id)
}

func TestGetLatestBalances_PicksMostRecentSnapshotPerAsset(t *testing.T) {
	s, accountID := newTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()

	require.NoError(t, s.AppendBalanceSnapshot(ctx, domain.BalanceSnapshot{
		AccountID: accountID, Asset: "BTC", Free: dec("1.0"), Locked: dec("0"), SnapshotAt: older,
	}))
	require.NoError(t, s.AppendBalanceSnapshot(ctx, domain.BalanceSnapshot{
		AccountID: accountID, Asset: "BTC", Free: dec("1.5"), Locked: dec("0.1"), SnapshotAt: newer,
	}))

	balances, err := s.GetLatestBalances(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balances["BTC"].Equal(dec("1.6")))
}

func TestUpsertPrices_DuplicateCandleIsIgnored(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	kline := domain.PriceHistory{
		Symbol: "BTCUSDT", Interval: "1d", OpenAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open: dec("42000"), High: dec("43000"), Low: dec("41000"), Close: dec("42500"), Volume: dec("100"),
	}

	n1, err := s.UpsertPrices(ctx, []domain.PriceHistory{kline})
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := s.UpsertPrices(ctx, []domain.PriceHistory{kline})
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

func TestEnrichTotalValueUSD_DirectUSDQuoteAndEURViaDailyRate(t *testing.T) {
	s, accountID := newTestStore(t)
	ctx := context.Background()

	executedAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	txns := []domain.Transaction{
		{
			AccountID: accountID, ExchangeID: exchangeID("usd-1"), Type: domain.TxBuy,
			BaseAsset: "BTC", QuoteAsset: quoteAsset("USDT"), Quantity: dec("1"), Price: decPtr("100"),
			ExecutedAt: executedAt,
		},
		{
			AccountID: accountID, ExchangeID: exchangeID("eur-1"), Type: domain.TxBuy,
			BaseAsset: "BTC", QuoteAsset: quoteAsset("EUR"), Quantity: dec("1"), Price: decPtr("100"),
			ExecutedAt: executedAt,
		},
	}
	_, err := s.UpsertTransactions(ctx, txns)
	require.NoError(t, err)

	_, err = s.UpsertPrices(ctx, []domain.PriceHistory{{
		Symbol: "EURUSDT", Interval: "1d", OpenAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open: dec("1.08"), High: dec("1.08"), Low: dec("1.08"), Close: dec("1.08"), Volume: dec("0"),
	}})
	require.NoError(t, err)

	n, err := s.EnrichTotalValueUSD(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	all, err := s.GetTransactionsForAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, txn := range all {
		require.NotNil(t, txn.TotalValueUSD)
	}
}
