package exchange

import "github.com/shopspring/decimal"

// Trade is one fill returned by GET /api/v3/myTrades.
type Trade struct {
	ID              int64           `json:"id"`
	Symbol          string          `json:"symbol"`
	OrderID         int64           `json:"orderId"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	QuoteQty        decimal.Decimal `json:"quoteQty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"` // epoch ms
	IsBuyer         bool            `json:"isBuyer"`
	IsMaker         bool            `json:"isMaker"`
}

// DepositRecord is one row from GET /sapi/v1/capital/deposit/hisrec.
type DepositRecord struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Coin          string          `json:"coin"`
	Network       string          `json:"network"`
	Status        int             `json:"status"`
	Address       string          `json:"address"`
	TxID          string          `json:"txId"`
	InsertTime    int64           `json:"insertTime"` // epoch ms
}

// WithdrawalRecord is one row from GET /sapi/v1/capital/withdraw/history.
type WithdrawalRecord struct {
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionFee decimal.Decimal `json:"transactionFee"`
	Coin           string          `json:"coin"`
	Status         int             `json:"status"`
	Address        string          `json:"address"`
	TxID           string          `json:"txId"`
	ApplyTime      string          `json:"applyTime"` // "2021-01-02 12:00:00"
}

// FiatOrder is one row from GET /sapi/v1/fiat/orders.
type FiatOrder struct {
	OrderNo         string          `json:"orderNo"`
	FiatCurrency    string          `json:"fiatCurrency"`
	Amount          decimal.Decimal `json:"amount"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	CreateTime      int64           `json:"createTime"` // epoch ms
	UpdateTime      int64           `json:"updateTime"`
}

// FiatTransactionType selects deposits (0) vs withdrawals (1) on the fiat
// orders endpoint.
type FiatTransactionType int

const (
	FiatDeposit    FiatTransactionType = 0
	FiatWithdrawal FiatTransactionType = 1
)

// Kline is one OHLCV candle from GET /api/v3/klines.
type Kline struct {
	OpenTime  int64 // epoch ms
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}

// AccountBalance is one asset's free/locked balance from GET /api/v3/account.
type AccountBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// AccountInfo is the signed balance snapshot response.
type AccountInfo struct {
	Balances []AccountBalance `json:"balances"`
}
