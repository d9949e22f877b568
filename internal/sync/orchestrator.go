// Package sync orchestrates one account's full ingestion cycle: balances,
// prices, trades, deposits, withdrawals, fiat orders, then enrichment.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/internal/domain"
	"github.com/angelperezz21/crypto-portfolio/internal/exchange"
	"github.com/angelperezz21/crypto-portfolio/internal/security"
)

// Store is the narrow persistence surface the orchestrator depends on —
// the subset of store.Store's methods the ingestion steps need. The
// portfolio service depends on its own narrower portfolio.Reader; the HTTP
// layer holds the concrete *store.Store.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.SyncStatus) error
	SetLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error
	UpsertTransactions(ctx context.Context, txns []domain.Transaction) (int, error)
	AppendBalanceSnapshot(ctx context.Context, snap domain.BalanceSnapshot) error
	UpsertPrices(ctx context.Context, rows []domain.PriceHistory) (int, error)
	EnrichTotalValueUSD(ctx context.Context) (int, error)
	GetLastTradeIDForPair(ctx context.Context, accountID uuid.UUID, symbol string) (*int64, error)
	GetFirstTradeTimeForPair(ctx context.Context, accountID uuid.UUID, symbol string) (*time.Time, error)
}

// ClientFactory builds a fresh exchange client from decrypted credentials.
// Injected so the orchestrator never depends on exchange.New directly,
// matching the narrow-interface discipline of the rest of the codebase.
type ClientFactory func(apiKey, apiSecret string) *exchange.Client

// Orchestrator runs the fixed step sequence of spec §4.2 for one account.
type Orchestrator struct {
	store      Store
	box        *security.Box
	newClient  ClientFactory
	log        zerolog.Logger
	now        func() time.Time
}

// Config configures an Orchestrator.
type Config struct {
	Store     Store
	Box       *security.Box
	NewClient ClientFactory
	Log       zerolog.Logger
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     cfg.Store,
		box:       cfg.Box,
		newClient: cfg.NewClient,
		log:       cfg.Log.With().Str("component", "sync_orchestrator").Logger(),
		now:       time.Now,
	}
}

// klineInterval is the daily interval used for both tracked price symbols.
const klineInterval = "1d"

// priceSymbols are the two pairs whose daily klines back FX enrichment and
// the synthesized performance history.
var priceSymbols = []string{"BTCUSDT", "EURUSDT"}

// Run drives the full step sequence for accountID: set status=syncing,
// balances, prices, trades, deposits, withdrawals, fiat orders, enrich,
// then set status=idle or error. Each step after status-setting is
// isolated — a failing step is recorded into stats.Errors and the
// remaining steps still run — except credential decryption, which aborts
// the whole run immediately per spec §7's DecryptionError policy.
func (o *Orchestrator) Run(ctx context.Context, accountID uuid.UUID) (*SyncStats, error) {
	stats := &SyncStats{StartedAt: o.now()}

	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	apiKey, err := o.box.DecryptString(account.EncryptedAPIKey)
	if err != nil {
		o.setStatusBestEffort(ctx, accountID, domain.SyncStatusError)
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := o.box.DecryptString(account.EncryptedAPISecret)
	if err != nil {
		o.setStatusBestEffort(ctx, accountID, domain.SyncStatusError)
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	if err := o.store.SetAccountStatus(ctx, accountID, domain.SyncStatusSyncing); err != nil {
		return nil, fmt.Errorf("set status syncing: %w", err)
	}

	client := o.newClient(apiKey, apiSecret)
	defer client.Close()

	o.runStep(ctx, stats, "balances", func() error {
		return o.syncBalances(ctx, client, accountID, stats)
	})

	o.runStep(ctx, stats, "prices", func() error {
		return o.syncPrices(ctx, client, stats)
	})

	for _, symbol := range domain.TrackedTradeSymbols {
		sym := symbol
		o.runStep(ctx, stats, "trades:"+sym, func() error {
			return o.syncTrades(ctx, client, accountID, sym, stats)
		})
	}

	o.runStep(ctx, stats, "deposits", func() error {
		return o.syncDeposits(ctx, client, accountID, stats)
	})

	o.runStep(ctx, stats, "withdrawals", func() error {
		return o.syncWithdrawals(ctx, client, accountID, stats)
	})

	o.runStep(ctx, stats, "fiat", func() error {
		return o.syncFiat(ctx, client, accountID, stats)
	})

	o.runStep(ctx, stats, "enrich", func() error {
		n, err := o.store.EnrichTotalValueUSD(ctx)
		if err != nil {
			return err
		}
		o.log.Debug().Int("rows_enriched", n).Msg("fx enrichment complete")
		return nil
	})

	stats.FinishedAt = o.now()

	finalStatus := domain.SyncStatusIdle
	if len(stats.Errors) > 0 {
		finalStatus = domain.SyncStatusError
	}
	if err := o.store.SetAccountStatus(ctx, accountID, finalStatus); err != nil {
		return stats, fmt.Errorf("set final status: %w", err)
	}
	if err := o.store.SetLastSyncAt(ctx, accountID, stats.FinishedAt); err != nil {
		return stats, fmt.Errorf("set last sync at: %w", err)
	}

	return stats, nil
}

// setStatusBestEffort sets the account's sync status without propagating a
// failure to set it — used on the DecryptionError abort path, where the
// decrypt error is already what gets returned to the caller and a status
// write failure here shouldn't mask it.
func (o *Orchestrator) setStatusBestEffort(ctx context.Context, accountID uuid.UUID, status domain.SyncStatus) {
	if err := o.store.SetAccountStatus(ctx, accountID, status); err != nil {
		o.log.Error().Err(err).Str("status", string(status)).Msg("failed to record account status")
	}
}

// runStep isolates one step: a panic or error is captured into
// stats.Errors and execution continues with the next step, per spec §7's
// step-level propagation policy.
func (o *Orchestrator) runStep(ctx context.Context, stats *SyncStats, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			stats.recordError(name, fmt.Errorf("panic: %v", r))
			o.log.Error().Str("step", name).Interface("panic", r).Msg("sync step panicked")
		}
	}()

	if err := ctx.Err(); err != nil {
		stats.recordError(name, err)
		return
	}

	if err := fn(); err != nil {
		stats.recordError(name, err)
		o.log.Error().Err(err).Str("step", name).Msg("sync step failed")
		return
	}
	o.log.Debug().Str("step", name).Msg("sync step completed")
}

// syncBalances takes one account snapshot and appends a new
// BalanceSnapshot row (never updated in place) for every tracked asset
// with a positive balance.
func (o *Orchestrator) syncBalances(ctx context.Context, client *exchange.Client, accountID uuid.UUID, stats *SyncStats) error {
	balances, err := client.GetAccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	snapshotAt := o.now()
	for _, b := range balances {
		if !domain.TrackedAssets[b.Asset] {
			continue
		}
		total := b.Free.Add(b.Locked)
		if total.LessThanOrEqual(decimal.Zero) {
			continue
		}
		snap := domain.BalanceSnapshot{
			ID:         uuid.New(),
			AccountID:  accountID,
			Asset:      b.Asset,
			Free:       b.Free,
			Locked:     b.Locked,
			SnapshotAt: snapshotAt,
		}
		if err := o.store.AppendBalanceSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("append balance snapshot %s: %w", b.Asset, err)
		}
		stats.BalancesSaved++
	}
	return nil
}

// syncPrices paginates daily klines for BTCUSDT and EURUSDT from the
// history epoch forward, upserting each batch so progress survives a
// mid-run failure.
func (o *Orchestrator) syncPrices(ctx context.Context, client *exchange.Client, stats *SyncStats) error {
	for _, symbol := range priceSymbols {
		next := client.Klines(symbol, klineInterval, domain.HistoryEpoch.UnixMilli())
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, more, err := next(ctx)
			if err != nil {
				return fmt.Errorf("fetch klines %s: %w", symbol, err)
			}
			if len(batch) > 0 {
				rows := make([]domain.PriceHistory, len(batch))
				for i, k := range batch {
					rows[i] = domain.PriceHistory{
						Symbol:   symbol,
						Interval: klineInterval,
						OpenAt:   time.UnixMilli(k.OpenTime).UTC(),
						Open:     k.Open,
						High:     k.High,
						Low:      k.Low,
						Close:    k.Close,
						Volume:   k.Volume,
					}
				}
				if _, err := o.store.UpsertPrices(ctx, rows); err != nil {
					return fmt.Errorf("upsert prices %s: %w", symbol, err)
				}
			}
			if !more {
				break
			}
		}
	}
	return nil
}

// syncTrades implements the trades step of spec §4.2 for one symbol:
// initial-backfill via time pagination when nothing is known yet, a gap
// backfill when the oldest known trade is later than the history epoch,
// and an incremental id-paginated tail in all cases.
func (o *Orchestrator) syncTrades(ctx context.Context, client *exchange.Client, accountID uuid.UUID, symbol string, stats *SyncStats) error {
	lastID, err := o.store.GetLastTradeIDForPair(ctx, accountID, symbol)
	if err != nil {
		return fmt.Errorf("get last trade id %s: %w", symbol, err)
	}

	if lastID == nil {
		if err := o.drainTradesByTime(ctx, client, accountID, symbol, domain.HistoryEpoch.UnixMilli(), nil, stats); err != nil {
			return fmt.Errorf("time-paginate %s: %w", symbol, err)
		}
		lastID, err = o.store.GetLastTradeIDForPair(ctx, accountID, symbol)
		if err != nil {
			return fmt.Errorf("get last trade id %s after backfill: %w", symbol, err)
		}
	} else {
		oldest, err := o.store.GetFirstTradeTimeForPair(ctx, accountID, symbol)
		if err != nil {
			return fmt.Errorf("get first trade time %s: %w", symbol, err)
		}
		if oldest != nil && oldest.After(domain.HistoryEpoch) {
			stopMS := oldest.UnixMilli()
			if err := o.drainTradesByTime(ctx, client, accountID, symbol, domain.HistoryEpoch.UnixMilli(), &stopMS, stats); err != nil {
				return fmt.Errorf("gap-backfill %s: %w", symbol, err)
			}
		}
	}

	if lastID != nil {
		if err := o.drainTradesByID(ctx, client, accountID, symbol, *lastID+1, stats); err != nil {
			return fmt.Errorf("id-paginate %s: %w", symbol, err)
		}
	}
	return nil
}

func (o *Orchestrator) drainTradesByTime(ctx context.Context, client *exchange.Client, accountID uuid.UUID, symbol string, startMS int64, stopBeforeMS *int64, stats *SyncStats) error {
	next := client.TradesByTime(symbol, startMS, stopBeforeMS)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := next(ctx)
		if err != nil {
			return err
		}
		if len(page.Trades) > 0 {
			n, err := o.persistTrades(ctx, accountID, symbol, page.Trades)
			if err != nil {
				return err
			}
			stats.TradesSaved += n
		}
		if !page.More {
			return nil
		}
	}
}

func (o *Orchestrator) drainTradesByID(ctx context.Context, client *exchange.Client, accountID uuid.UUID, symbol string, startID int64, stats *SyncStats) error {
	next := client.TradesByID(symbol, startID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := next(ctx)
		if err != nil {
			return err
		}
		if len(page.Trades) > 0 {
			n, err := o.persistTrades(ctx, accountID, symbol, page.Trades)
			if err != nil {
				return err
			}
			stats.TradesSaved += n
		}
		if !page.More {
			return nil
		}
	}
}

func (o *Orchestrator) persistTrades(ctx context.Context, accountID uuid.UUID, symbol string, trades []exchange.Trade) (int, error) {
	base, quote := exchange.ParseSymbol(symbol)
	txns := make([]domain.Transaction, len(trades))
	for i, t := range trades {
		txType := domain.TxSell
		if t.IsBuyer {
			txType = domain.TxBuy
		}
		exchangeID := fmt.Sprintf("%d", t.ID)
		price := t.Price
		txns[i] = domain.Transaction{
			ID:         uuid.New(),
			AccountID:  accountID,
			ExchangeID: &exchangeID,
			Type:       txType,
			BaseAsset:  base,
			QuoteAsset: &quote,
			Quantity:   t.Qty,
			Price:      &price,
			FeeAsset:   &t.CommissionAsset,
			FeeAmount:  &t.Commission,
			ExecutedAt: time.UnixMilli(t.Time).UTC(),
			RawData: map[string]any{
				"symbol":      symbol,
				"order_id":    t.OrderID,
				"is_maker":    t.IsMaker,
				"quote_qty":   t.QuoteQty.String(),
			},
		}
	}
	return o.store.UpsertTransactions(ctx, txns)
}

// syncDeposits ingests crypto deposits across 90-day windows from the
// history epoch, filtered to the tracked asset set.
func (o *Orchestrator) syncDeposits(ctx context.Context, client *exchange.Client, accountID uuid.UUID, stats *SyncStats) error {
	nowMS := o.now().UnixMilli()
	next := client.DepositWindows(domain.HistoryEpoch.UnixMilli(), nowMS)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, more, err := next(ctx)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			txns := make([]domain.Transaction, 0, len(records))
			for _, r := range records {
				if !domain.TrackedAssets[r.Coin] {
					continue
				}
				exchangeID := r.ID
				if exchangeID == "" {
					exchangeID = r.TxID
				}
				txns = append(txns, domain.Transaction{
					ID:         uuid.New(),
					AccountID:  accountID,
					ExchangeID: &exchangeID,
					Type:       domain.TxDeposit,
					BaseAsset:  r.Coin,
					Quantity:   r.Amount,
					ExecutedAt: time.UnixMilli(r.InsertTime).UTC(),
					RawData:    map[string]any{"network": r.Network, "address": r.Address, "tx_id": r.TxID},
				})
			}
			n, err := o.store.UpsertTransactions(ctx, txns)
			if err != nil {
				return err
			}
			stats.DepositsSaved += n
		}
		if !more {
			return nil
		}
	}
}

// syncWithdrawals is the withdrawal analog of syncDeposits.
func (o *Orchestrator) syncWithdrawals(ctx context.Context, client *exchange.Client, accountID uuid.UUID, stats *SyncStats) error {
	nowMS := o.now().UnixMilli()
	next := client.WithdrawalWindows(domain.HistoryEpoch.UnixMilli(), nowMS)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, more, err := next(ctx)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			txns := make([]domain.Transaction, 0, len(records))
			for _, r := range records {
				if !domain.TrackedAssets[r.Coin] {
					continue
				}
				exchangeID := r.ID
				if exchangeID == "" {
					exchangeID = r.TxID
				}
				executedAt, err := parseWithdrawalTime(r.ApplyTime)
				if err != nil {
					return &exchange.DataIntegrityError{Field: "apply_time", Value: r.ApplyTime}
				}
				fee := r.TransactionFee
				txns = append(txns, domain.Transaction{
					ID:         uuid.New(),
					AccountID:  accountID,
					ExchangeID: &exchangeID,
					Type:       domain.TxWithdrawal,
					BaseAsset:  r.Coin,
					Quantity:   r.Amount,
					FeeAsset:   &r.Coin,
					FeeAmount:  &fee,
					ExecutedAt: executedAt,
					RawData:    map[string]any{"address": r.Address, "tx_id": r.TxID},
				})
			}
			n, err := o.store.UpsertTransactions(ctx, txns)
			if err != nil {
				return err
			}
			stats.WithdrawalsSaved += n
		}
		if !more {
			return nil
		}
	}
}

func parseWithdrawalTime(s string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04:05", s)
}

// syncFiat ingests both fiat deposits and fiat withdrawals. On the known
// permission-missing error codes it logs a warning and returns cleanly —
// per spec §9's audit note, any other error (including other
// ExchangeAPIError codes) propagates into the step's error capture.
func (o *Orchestrator) syncFiat(ctx context.Context, client *exchange.Client, accountID uuid.UUID, stats *SyncStats) error {
	nowMS := o.now().UnixMilli()

	for _, txType := range []exchange.FiatTransactionType{exchange.FiatDeposit, exchange.FiatWithdrawal} {
		fiatType := domain.TxDeposit
		if txType == exchange.FiatWithdrawal {
			fiatType = domain.TxWithdrawal
		}

		next := client.FiatOrderWindows(txType, domain.HistoryEpoch.UnixMilli(), nowMS)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			orders, more, err := next(ctx)
			if err != nil {
				if exchange.IsFiatPermissionError(err) {
					o.log.Warn().Err(err).Msg("fiat endpoint unavailable: API key lacks Enable Fiat permission")
					break
				}
				return err
			}
			if len(orders) > 0 {
				txns := make([]domain.Transaction, len(orders))
				for i, ord := range orders {
					exchangeID := ord.OrderNo
					amount := ord.Amount
					txns[i] = domain.Transaction{
						ID:         uuid.New(),
						AccountID:  accountID,
						ExchangeID: &exchangeID,
						Type:       fiatType,
						BaseAsset:  ord.FiatCurrency,
						Quantity:   amount,
						ExecutedAt: time.UnixMilli(ord.CreateTime).UTC(),
						RawData:    map[string]any{"method": ord.Method, "status": ord.Status},
					}
				}
				n, err := o.store.UpsertTransactions(ctx, txns)
				if err != nil {
					return err
				}
				stats.FiatOrdersSaved += n
			}
			if !more {
				break
			}
		}
	}
	return nil
}
