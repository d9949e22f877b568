package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// decodeKlines converts the exchange's wire format for /api/v3/klines — an
// array of heterogeneous arrays — into typed Kline records. Wire layout:
// [openTime, open, high, low, close, volume, closeTime, ...ignored].
func decodeKlines(raw [][]any) ([]Kline, error) {
	klines := make([]Kline, 0, len(raw))
	for i, row := range raw {
		if len(row) < 7 {
			return nil, &DataIntegrityError{Field: fmt.Sprintf("klines[%d]", i), Value: "short row"}
		}

		openTime, err := toInt64(row[0])
		if err != nil {
			return nil, &DataIntegrityError{Field: "openTime", Value: fmt.Sprint(row[0])}
		}
		closeTime, err := toInt64(row[6])
		if err != nil {
			return nil, &DataIntegrityError{Field: "closeTime", Value: fmt.Sprint(row[6])}
		}

		open, err := toDecimal(row[1])
		if err != nil {
			return nil, &DataIntegrityError{Field: "open", Value: fmt.Sprint(row[1])}
		}
		high, err := toDecimal(row[2])
		if err != nil {
			return nil, &DataIntegrityError{Field: "high", Value: fmt.Sprint(row[2])}
		}
		low, err := toDecimal(row[3])
		if err != nil {
			return nil, &DataIntegrityError{Field: "low", Value: fmt.Sprint(row[3])}
		}
		closePrice, err := toDecimal(row[4])
		if err != nil {
			return nil, &DataIntegrityError{Field: "close", Value: fmt.Sprint(row[4])}
		}
		volume, err := toDecimal(row[5])
		if err != nil {
			return nil, &DataIntegrityError{Field: "volume", Value: fmt.Sprint(row[5])}
		}

		klines = append(klines, Kline{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: closeTime,
		})
	}
	return klines, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return 0, err
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
