// Package sync orchestrates one account's full ingestion cycle: balances,
// prices, trades, deposits, withdrawals, fiat orders, then enrichment.
package sync

import "time"

// SyncStats is the per-run result handed back to the HTTP status endpoint.
// Fields mirror the dataclass the original Python service returns.
type SyncStats struct {
	StartedAt        time.Time
	FinishedAt        time.Time
	BalancesSaved     int
	TradesSaved       int
	DepositsSaved     int
	WithdrawalsSaved  int
	FiatOrdersSaved   int
	Errors            []string
}

func (s *SyncStats) recordError(step string, err error) {
	s.Errors = append(s.Errors, step+": "+err.Error())
}
