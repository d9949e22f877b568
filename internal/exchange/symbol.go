package exchange

import "strings"

// quoteSuffixes is the fixed, ordered list of recognized quote assets used
// to derive base/quote from a bare symbol via longest-suffix match — the
// exchange's myTrades endpoint does not return baseAsset/quoteAsset.
var quoteSuffixes = []string{"USDT", "BUSD", "FDUSD", "BTC", "ETH", "BNB", "EUR", "USD"}

// ParseSymbol splits a symbol like "BTCUSDT" into (base, quote) by
// longest-suffix match against quoteSuffixes, in order. If no suffix
// matches, it conservatively returns (symbol, "USDT").
func ParseSymbol(symbol string) (base, quote string) {
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return strings.TrimSuffix(symbol, suffix), suffix
		}
	}
	return symbol, "USDT"
}
