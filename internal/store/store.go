// Package store implements the narrow persistence interface analytics and
// sync depend on, backed by SQLite. Nothing outside this package issues
// SQL directly against the ledger database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelperezz21/crypto-portfolio/internal/database"
	"github.com/angelperezz21/crypto-portfolio/internal/domain"
)

// Store is the SQL-backed persistence adapter. The portfolio service and
// the orchestrator depend only on the interfaces portfolio.Reader and
// sync.Store; Store is the one concrete implementation.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

// --- Accounts ---------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, encrypted_api_key, encrypted_api_secret,
		       last_sync_at, sync_status, created_at
		FROM accounts WHERE id = ?`, id.String())

	var a domain.Account
	var idStr, status, createdAt string
	var lastSync *string
	if err := row.Scan(&idStr, &a.DisplayName, &a.EncryptedAPIKey, &a.EncryptedAPISecret,
		&lastSync, &status, &createdAt); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	a.ID = uuid.MustParse(idStr)
	a.SyncStatus = domain.SyncStatus(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastSync != nil {
		t, err := time.Parse(time.RFC3339, *lastSync)
		if err == nil {
			a.LastSyncAt = &t
		}
	}
	return &a, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET sync_status = ? WHERE id = ?`, string(status), id.String())
	return err
}

func (s *Store) SetLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_sync_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339), id.String())
	return err
}

// UpdateAccountSettings persists a display-name/credential change from the
// settings endpoint — the one write path the HTTP layer is allowed
// (spec §5's mutation discipline: the orchestrator owns every other
// exchange-sourced table).
func (s *Store) UpdateAccountSettings(ctx context.Context, a domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET display_name = ?, encrypted_api_key = ?, encrypted_api_secret = ?
		WHERE id = ?`,
		a.DisplayName, a.EncryptedAPIKey, a.EncryptedAPISecret, a.ID.String())
	return err
}

// CreateAccount inserts the single account row (first-run settings flow).
func (s *Store) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, encrypted_api_key, encrypted_api_secret, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.DisplayName, a.EncryptedAPIKey, a.EncryptedAPISecret,
		string(domain.SyncStatusIdle), a.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// --- Transactions -------------------------------------------------------

// UpsertTransactions inserts rows, ignoring duplicates by exchange_id —
// the idempotency primitive the whole sync pipeline relies on. Returns the
// number of rows actually inserted.
func (s *Store) UpsertTransactions(ctx context.Context, txns []domain.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert transactions: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions
			(id, account_id, exchange_id, type, base_asset, quote_asset, quantity,
			 price, total_value_usd, fee_asset, fee_amount, executed_at, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert transactions: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range txns {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		raw, err := marshalRaw(t.RawData)
		if err != nil {
			return inserted, fmt.Errorf("marshal raw payload: %w", err)
		}

		res, err := stmt.ExecContext(ctx, id.String(), t.AccountID.String(), nullableStr(t.ExchangeID),
			string(t.Type), t.BaseAsset, nullableStr(t.QuoteAsset), t.Quantity.String(),
			nullableDecimal(t.Price), nullableDecimal(t.TotalValueUSD), nullableStr(t.FeeAsset),
			nullableDecimal(t.FeeAmount), t.ExecutedAt.UTC().Format(time.RFC3339Nano), raw)
		if err != nil {
			return inserted, fmt.Errorf("insert transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit upsert transactions: %w", err)
	}
	return inserted, nil
}

// AppendBalanceSnapshot inserts one always-new balance row (never updated
// in place) per spec's append-only semantics.
func (s *Store) AppendBalanceSnapshot(ctx context.Context, snap domain.BalanceSnapshot) error {
	id := snap.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (id, account_id, asset, free, locked, value_usd, snapshot_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), snap.AccountID.String(), snap.Asset, snap.Free.String(), snap.Locked.String(),
		nullableDecimal(snap.ValueUSD), snap.SnapshotAt.UTC().Format(time.RFC3339Nano))
	return err
}

// UpsertPrices inserts klines, ignoring duplicates by (symbol, interval, open_at).
func (s *Store) UpsertPrices(ctx context.Context, rows []domain.PriceHistory) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert prices: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (symbol, interval, open_at, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, open_at) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert prices: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range rows {
		res, err := stmt.ExecContext(ctx, p.Symbol, p.Interval, p.OpenAt.UTC().Format(time.RFC3339),
			p.Open.String(), p.High.String(), p.Low.String(), p.Close.String(), p.Volume.String())
		if err != nil {
			return inserted, fmt.Errorf("insert price: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit upsert prices: %w", err)
	}
	return inserted, nil
}

// EnrichTotalValueUSD backfills total_value_usd on every row where it is
// still null, touching nothing else (spec §4.2 step 7's idempotency rule).
// The set of candidate rows is selected in bulk, but each row's
// total_value_usd is computed with exact decimal arithmetic in Go rather
// than SQLite's floating-point REAL cast — money math never goes through
// a binary float outside the XIRR kernel (spec §9). Returns the number of
// rows updated.
func (s *Store) EnrichTotalValueUSD(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enrich: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, quote_asset, price, quantity
		FROM transactions
		WHERE total_value_usd IS NULL
		  AND price IS NOT NULL
		  AND quote_asset IN ('USDT', 'BUSD', 'FDUSD', 'USD', 'EUR')`)
	if err != nil {
		return 0, fmt.Errorf("select enrichment candidates: %w", err)
	}

	type candidate struct {
		id, quoteAsset, price, quantity string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.quoteAsset, &c.price, &c.quantity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan enrichment candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate enrichment candidates: %w", err)
	}
	rows.Close()

	eurRates, err := s.eurUSDCloseByDate(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("load eurusdt closes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE transactions SET total_value_usd = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare enrichment update: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for _, c := range candidates {
		price, err := decimal.NewFromString(c.price)
		if err != nil {
			continue
		}
		quantity, err := decimal.NewFromString(c.quantity)
		if err != nil {
			continue
		}

		var totalUSD decimal.Decimal
		if c.quoteAsset == "EUR" {
			date, err := s.transactionDate(ctx, tx, c.id)
			if err != nil {
				return updated, err
			}
			rate, ok := eurRates[date]
			if !ok {
				continue
			}
			totalUSD = price.Mul(quantity).Mul(rate).Round(8)
		} else {
			totalUSD = price.Mul(quantity).Round(8)
		}

		if _, err := stmt.ExecContext(ctx, totalUSD.String(), c.id); err != nil {
			return updated, fmt.Errorf("update enriched row: %w", err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return updated, fmt.Errorf("commit enrich: %w", err)
	}
	return updated, nil
}

// eurUSDCloseByDate loads every EURUSDT daily close, keyed by its
// date-truncated open_at, for the enrichment join in EnrichTotalValueUSD.
func (s *Store) eurUSDCloseByDate(ctx context.Context, tx *sql.Tx) (map[string]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT date(open_at), close FROM price_history
		WHERE symbol = 'EURUSDT' AND interval = '1d'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var date, closeStr string
		if err := rows.Scan(&date, &closeStr); err != nil {
			return nil, err
		}
		c, err := decimal.NewFromString(closeStr)
		if err != nil {
			continue
		}
		out[date] = c
	}
	return out, rows.Err()
}

// transactionDate returns the date-truncated executed_at for one
// transaction id, used to key the EURUSDT close lookup.
func (s *Store) transactionDate(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	row := tx.QueryRowContext(ctx, `SELECT date(executed_at) FROM transactions WHERE id = ?`, id)
	var date string
	if err := row.Scan(&date); err != nil {
		return "", fmt.Errorf("get transaction date: %w", err)
	}
	return date, nil
}

// GetLastTradeIDForPair returns the highest exchange trade id previously
// ingested for symbol, disambiguated via the raw payload's stored pair
// (two symbols can share a base asset, e.g. BTCUSDT and BTCEUR).
func (s *Store) GetLastTradeIDForPair(ctx context.Context, accountID uuid.UUID, symbol string) (*int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(CAST(exchange_id AS INTEGER))
		FROM transactions
		WHERE account_id = ?
		  AND type IN ('buy', 'sell')
		  AND json_extract(raw_data, '$.symbol') = ?`, accountID.String(), symbol)

	var id *int64
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("get last trade id: %w", err)
	}
	return id, nil
}

// GetFirstTradeTimeForPair returns the earliest executed_at among
// previously ingested trades for symbol, used to decide whether a gap
// backfill is needed between the history epoch and the oldest known trade.
func (s *Store) GetFirstTradeTimeForPair(ctx context.Context, accountID uuid.UUID, symbol string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(executed_at)
		FROM transactions
		WHERE account_id = ?
		  AND type IN ('buy', 'sell')
		  AND json_extract(raw_data, '$.symbol') = ?`, accountID.String(), symbol)

	var s2 *string
	if err := row.Scan(&s2); err != nil {
		return nil, fmt.Errorf("get first trade time: %w", err)
	}
	if s2 == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s2)
	if err != nil {
		t, err = time.Parse(time.RFC3339, *s2)
		if err != nil {
			return nil, fmt.Errorf("parse first trade time: %w", err)
		}
	}
	return &t, nil
}

// GetLatestBalances returns, per asset, the total (free+locked) from the
// balance snapshot with the maximum snapshot_at.
func (s *Store) GetLatestBalances(ctx context.Context, accountID uuid.UUID) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bs.asset, bs.free, bs.locked
		FROM balance_snapshots bs
		JOIN (
			SELECT asset, MAX(snapshot_at) AS max_ts
			FROM balance_snapshots
			WHERE account_id = ?
			GROUP BY asset
		) latest ON bs.asset = latest.asset AND bs.snapshot_at = latest.max_ts
		WHERE bs.account_id = ?`, accountID.String(), accountID.String())
	if err != nil {
		return nil, fmt.Errorf("get latest balances: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var asset, free, locked string
		if err := rows.Scan(&asset, &free, &locked); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		f, _ := decimal.NewFromString(free)
		l, _ := decimal.NewFromString(locked)
		out[asset] = f.Add(l)
	}
	return out, rows.Err()
}

// GetTransactionsForAccount returns all transactions ordered by
// executed_at ascending (ties by exchange_id), satisfying the total-order
// requirement FIFO depends on.
func (s *Store) GetTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, exchange_id, type, base_asset, quote_asset, quantity,
		       price, total_value_usd, fee_asset, fee_amount, executed_at, raw_data
		FROM transactions
		WHERE account_id = ?
		ORDER BY executed_at ASC, exchange_id ASC`, accountID.String())
}

// GetTransactionsForAccountAsset filters GetTransactionsForAccount by base_asset.
func (s *Store) GetTransactionsForAccountAsset(ctx context.Context, accountID uuid.UUID, asset string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, exchange_id, type, base_asset, quote_asset, quantity,
		       price, total_value_usd, fee_asset, fee_amount, executed_at, raw_data
		FROM transactions
		WHERE account_id = ? AND base_asset = ?
		ORDER BY executed_at ASC, exchange_id ASC`, accountID.String(), asset)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var idStr, accountIDStr, typeStr, executedAt string
		var exchangeID, quoteAsset, price, totalValueUSD, feeAsset, feeAmount, rawData *string

		if err := rows.Scan(&idStr, &accountIDStr, &exchangeID, &typeStr, &t.BaseAsset, &quoteAsset,
			&t.Quantity, &price, &totalValueUSD, &feeAsset, &feeAmount, &executedAt, &rawData); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		t.ID = uuid.MustParse(idStr)
		t.AccountID = uuid.MustParse(accountIDStr)
		t.Type = domain.TransactionType(typeStr)
		t.ExchangeID = exchangeID
		t.QuoteAsset = quoteAsset

		if p, ok := parseDecimalPtr(price); ok {
			t.Price = p
		}
		if v, ok := parseDecimalPtr(totalValueUSD); ok {
			t.TotalValueUSD = v
		}
		if f, ok := parseDecimalPtr(feeAmount); ok {
			t.FeeAmount = f
		}
		t.FeeAsset = feeAsset

		if parsed, err := time.Parse(time.RFC3339Nano, executedAt); err == nil {
			t.ExecutedAt = parsed
		} else {
			t.ExecutedAt, _ = time.Parse(time.RFC3339, executedAt)
		}

		if rawData != nil {
			var m map[string]any
			if err := json.Unmarshal([]byte(*rawData), &m); err == nil {
				t.RawData = m
			}
		}

		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPriceHistory returns klines for symbol/interval in [from, to] order by open_at.
func (s *Store) GetPriceHistory(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, open_at, open, high, low, close, volume
		FROM price_history
		WHERE symbol = ? AND interval = ? AND open_at >= ? AND open_at <= ?
		ORDER BY open_at ASC`,
		symbol, interval, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("get price history: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceHistory
	for rows.Next() {
		var p domain.PriceHistory
		var openAt, open, high, low, closePrice, volume string
		if err := rows.Scan(&p.Symbol, &p.Interval, &openAt, &open, &high, &low, &closePrice, &volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		p.OpenAt, _ = time.Parse(time.RFC3339, openAt)
		p.Open, _ = decimal.NewFromString(open)
		p.High, _ = decimal.NewFromString(high)
		p.Low, _ = decimal.NewFromString(low)
		p.Close, _ = decimal.NewFromString(closePrice)
		p.Volume, _ = decimal.NewFromString(volume)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPortfolioSnapshots returns cached daily snapshots in [from, to]; a nil
// bound leaves that side open, so both nil returns the full history.
func (s *Store) GetPortfolioSnapshots(ctx context.Context, accountID uuid.UUID, from, to *time.Time) ([]domain.PortfolioSnapshot, error) {
	query := `
		SELECT id, account_id, snapshot_date, total_value_usd, invested_usd,
		       pnl_unrealized_usd, pnl_realized_usd, btc_quantity, btc_avg_buy_price_usd, composition
		FROM portfolio_snapshots
		WHERE account_id = ?`
	args := []any{accountID.String()}
	if from != nil {
		query += " AND snapshot_date >= ?"
		args = append(args, from.UTC().Format("2006-01-02"))
	}
	if to != nil {
		query += " AND snapshot_date <= ?"
		args = append(args, to.UTC().Format("2006-01-02"))
	}
	query += " ORDER BY snapshot_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get portfolio snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.PortfolioSnapshot
	for rows.Next() {
		var p domain.PortfolioSnapshot
		var idStr, accountIDStr, snapDate, totalVal, invested, pnlUnreal, pnlReal string
		var btcQty, btcAvg, composition *string

		if err := rows.Scan(&idStr, &accountIDStr, &snapDate, &totalVal, &invested,
			&pnlUnreal, &pnlReal, &btcQty, &btcAvg, &composition); err != nil {
			return nil, fmt.Errorf("scan portfolio snapshot: %w", err)
		}

		p.ID = uuid.MustParse(idStr)
		p.AccountID = uuid.MustParse(accountIDStr)
		p.SnapshotDate, _ = time.Parse("2006-01-02", snapDate)
		p.TotalValueUSD, _ = decimal.NewFromString(totalVal)
		p.InvestedUSD, _ = decimal.NewFromString(invested)
		p.PnLUnrealizedUSD, _ = decimal.NewFromString(pnlUnreal)
		p.PnLRealizedUSD, _ = decimal.NewFromString(pnlReal)

		if q, ok := parseDecimalPtr(btcQty); ok {
			p.BTCQuantity = q
		}
		if a, ok := parseDecimalPtr(btcAvg); ok {
			p.BTCAvgBuyPriceUSD = a
		}
		if composition != nil {
			var m map[string]decimal.Decimal
			if err := json.Unmarshal([]byte(*composition), &m); err == nil {
				p.Composition = m
			}
		}

		out = append(out, p)
	}
	return out, rows.Err()
}

// --- scan helpers -------------------------------------------------------

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimalPtr(s *string) (*decimal.Decimal, bool) {
	if s == nil {
		return nil, false
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func marshalRaw(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
