package exchange

import (
	"context"
)

const (
	tradePageSize      = 1000
	fiatPageRows       = 500
	ninetyDaysMS int64 = 90 * 24 * 60 * 60 * 1000
)

// TradePage is one pull from a trade paginator.
type TradePage struct {
	Trades []Trade
	More   bool
}

// TradesByID returns a lazy, restartable iterator that pages myTrades with
// fromId, advancing fromId = last.ID + 1 whenever a full page (1000) comes
// back, and stopping on the first short page. Used once the store already
// knows the last ingested trade id for this symbol.
func (c *Client) TradesByID(symbol string, startID int64) func(ctx context.Context) (TradePage, error) {
	nextID := startID
	done := false
	return func(ctx context.Context) (TradePage, error) {
		if done {
			return TradePage{}, nil
		}
		trades, err := c.GetTrades(ctx, symbol, &nextID, nil, tradePageSize)
		if err != nil {
			return TradePage{}, err
		}
		if len(trades) < tradePageSize {
			done = true
			return TradePage{Trades: trades, More: false}, nil
		}
		nextID = trades[len(trades)-1].ID + 1
		return TradePage{Trades: trades, More: true}, nil
	}
}

// TradesByTime returns a lazy iterator that pages myTrades with startTime
// only (never endTime, avoiding the exchange's 24h-window rejection code
// -1127), advancing startTime = last.Time + 1 on a full page and stopping
// on a short page. If stopBeforeMS is non-nil, the iterator also stops
// once any trade in a batch reaches or crosses stopBeforeMS, yielding only
// the trades of that batch that precede it — used for gap-backfill, where the
// boundary is the oldest already-known trade time for the pair.
func (c *Client) TradesByTime(symbol string, startMS int64, stopBeforeMS *int64) func(ctx context.Context) (TradePage, error) {
	cursor := startMS
	done := false
	return func(ctx context.Context) (TradePage, error) {
		if done {
			return TradePage{}, nil
		}
		trades, err := c.GetTrades(ctx, symbol, nil, &cursor, tradePageSize)
		if err != nil {
			return TradePage{}, err
		}
		if len(trades) == 0 {
			done = true
			return TradePage{}, nil
		}

		if stopBeforeMS != nil {
			kept := trades[:0]
			for _, t := range trades {
				if t.Time >= *stopBeforeMS {
					done = true
					break
				}
				kept = append(kept, t)
			}
			trades = kept
		}

		if len(trades) == 0 {
			return TradePage{}, nil
		}

		more := len(trades) == tradePageSize && !done
		if more {
			cursor = trades[len(trades)-1].Time + 1
		} else {
			done = true
		}
		return TradePage{Trades: trades, More: more}, nil
	}
}

// DepositWindows iterates 90-day windows from sinceMS to nowMS, yielding
// one deposit batch per non-empty window.
func (c *Client) DepositWindows(sinceMS, nowMS int64) func(ctx context.Context) ([]DepositRecord, bool, error) {
	cursor := sinceMS
	return func(ctx context.Context) ([]DepositRecord, bool, error) {
		for cursor < nowMS {
			end := cursor + ninetyDaysMS
			if end > nowMS {
				end = nowMS
			}
			records, err := c.GetDeposits(ctx, cursor, end)
			windowStart := cursor
			cursor = end
			more := cursor < nowMS
			if err != nil {
				return nil, more, err
			}
			if len(records) == 0 {
				_ = windowStart
				continue
			}
			return records, more, nil
		}
		return nil, false, nil
	}
}

// WithdrawalWindows iterates 90-day windows analogously to DepositWindows.
func (c *Client) WithdrawalWindows(sinceMS, nowMS int64) func(ctx context.Context) ([]WithdrawalRecord, bool, error) {
	cursor := sinceMS
	return func(ctx context.Context) ([]WithdrawalRecord, bool, error) {
		for cursor < nowMS {
			end := cursor + ninetyDaysMS
			if end > nowMS {
				end = nowMS
			}
			records, err := c.GetWithdrawals(ctx, cursor, end)
			cursor = end
			more := cursor < nowMS
			if err != nil {
				return nil, more, err
			}
			if len(records) == 0 {
				continue
			}
			return records, more, nil
		}
		return nil, false, nil
	}
}

// FiatOrderWindows iterates 90-day windows, and within each window pages
// page=1.. with rows=500 until a short/empty page, then advances to the
// next window.
func (c *Client) FiatOrderWindows(txType FiatTransactionType, sinceMS, nowMS int64) func(ctx context.Context) ([]FiatOrder, bool, error) {
	windowStart := sinceMS
	page := 1
	return func(ctx context.Context) ([]FiatOrder, bool, error) {
		for windowStart < nowMS {
			windowEnd := windowStart + ninetyDaysMS
			if windowEnd > nowMS {
				windowEnd = nowMS
			}

			orders, err := c.GetFiatOrders(ctx, txType, windowStart, windowEnd, page, fiatPageRows)
			if err != nil {
				return nil, true, err
			}

			if len(orders) == 0 {
				windowStart = windowEnd
				page = 1
				continue
			}

			if len(orders) < fiatPageRows {
				page = 1
				windowStart = windowEnd
				return orders, windowStart < nowMS, nil
			}

			page++
			return orders, true, nil
		}
		return nil, false, nil
	}
}

// Klines iterates daily (or other interval) klines from startMS forward,
// advancing startMS to the last candle's CloseTime+1 on every non-empty
// batch, until a short batch signals completion.
func (c *Client) Klines(symbol, interval string, startMS int64) func(ctx context.Context) ([]Kline, bool, error) {
	cursor := startMS
	const batchSize = 1000
	return func(ctx context.Context) ([]Kline, bool, error) {
		klines, err := c.GetKlines(ctx, symbol, interval, cursor, batchSize)
		if err != nil {
			return nil, false, err
		}
		if len(klines) == 0 {
			return nil, false, nil
		}
		cursor = klines[len(klines)-1].CloseTime + 1
		more := len(klines) == batchSize
		return klines, more, nil
	}
}
