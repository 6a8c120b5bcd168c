package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCVCandle is a cached candle fetched from an exchange. The composite
// (exchange, symbol, timeframe, datetime) key is unique so refetches upsert.
type OHLCVCandle struct {
	ID        uint            `gorm:"primaryKey"`
	Exchange  string          `json:"exchange"  gorm:"type:varchar(30);not null;uniqueIndex:ux_ohlcv_candles_key,priority:1;index:idx_ohlcv_candles_lookup,priority:1"`
	Symbol    string          `json:"symbol"    gorm:"type:varchar(50);not null;uniqueIndex:ux_ohlcv_candles_key,priority:2;index:idx_ohlcv_candles_lookup,priority:2"`
	Timeframe string          `json:"timeframe" gorm:"type:varchar(10);not null;uniqueIndex:ux_ohlcv_candles_key,priority:3;index:idx_ohlcv_candles_lookup,priority:3"`
	Datetime  time.Time       `json:"datetime"  gorm:"not null;uniqueIndex:ux_ohlcv_candles_key,priority:4;index:idx_ohlcv_candles_lookup,priority:4"`
	Open      decimal.Decimal `json:"open"   gorm:"type:double precision;not null"`
	High      decimal.Decimal `json:"high"   gorm:"type:double precision;not null"`
	Low       decimal.Decimal `json:"low"    gorm:"type:double precision;not null"`
	Close     decimal.Decimal `json:"close"  gorm:"type:double precision;not null"`
	Volume    decimal.Decimal `json:"volume" gorm:"type:double precision;not null"`
}

func (OHLCVCandle) TableName() string {
	return "ohlcv_candles"
}

func NewOHLCVCandle(exchange, symbol, timeframe string, b Bar) OHLCVCandle {
	return OHLCVCandle{
		Exchange:  exchange,
		Symbol:    symbol,
		Timeframe: timeframe,
		Datetime:  b.Time.UTC(),
		Open:      decimal.NewFromFloat(b.Open),
		High:      decimal.NewFromFloat(b.High),
		Low:       decimal.NewFromFloat(b.Low),
		Close:     decimal.NewFromFloat(b.Close),
		Volume:    decimal.NewFromFloat(b.Volume),
	}
}

func (o OHLCVCandle) ToBar() Bar {
	return Bar{
		Time:   o.Datetime,
		Open:   o.Open.InexactFloat64(),
		High:   o.High.InexactFloat64(),
		Low:    o.Low.InexactFloat64(),
		Close:  o.Close.InexactFloat64(),
		Volume: o.Volume.InexactFloat64(),
	}
}

// CandlesToSeries converts candles sorted by datetime ascending.
func CandlesToSeries(candles []OHLCVCandle) PriceSeries {
	out := make(PriceSeries, len(candles))
	for i, c := range candles {
		out[i] = c.ToBar()
	}
	return out
}
