package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/repository"
)

const binanceMaxLimit = 1000

type binancePeriod struct {
	period goex.KlinePeriod
	// factor > 1 means the timeframe is built from `factor` native bars.
	factor int
}

var binancePeriods = map[string]binancePeriod{
	"1m":  {goex.KLINE_PERIOD_1MIN, 1},
	"5m":  {goex.KLINE_PERIOD_5MIN, 1},
	"15m": {goex.KLINE_PERIOD_15MIN, 1},
	"30m": {goex.KLINE_PERIOD_30MIN, 1},
	"1h":  {goex.KLINE_PERIOD_1H, 1},
	"2h":  {goex.KLINE_PERIOD_1H, 2},
	"4h":  {goex.KLINE_PERIOD_4H, 1},
	"6h":  {goex.KLINE_PERIOD_1H, 6},
	"12h": {goex.KLINE_PERIOD_4H, 3},
	"1d":  {goex.KLINE_PERIOD_1DAY, 1},
	"1w":  {goex.KLINE_PERIOD_1WEEK, 1},
}

// BinanceProvider reads public spot klines through goex.
type BinanceProvider struct {
	api goex.API
	log *logrus.Entry
}

func NewBinanceProvider(baseURL string, timeout time.Duration, log *logrus.Entry) *BinanceProvider {
	if baseURL == "" {
		baseURL = binance.GLOBAL_API_BASE_URL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	apiConfig := &goex.APIConfig{
		HttpClient: &http.Client{Timeout: timeout},
		Endpoint:   baseURL,
	}
	return &BinanceProvider{
		api: binance.NewWithConfig(apiConfig),
		log: log.WithField("provider", "binance"),
	}
}

func (b *BinanceProvider) Name() string { return "binance" }

func (b *BinanceProvider) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error) {
	interval, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	timeframe = canonicalTimeframe(timeframe)
	p, ok := binancePeriods[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: %q on binance", ErrUnsupportedTimeframe, timeframe)
	}
	pair, err := currencyPair(symbol)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := limit * p.factor
	if size <= 0 || size > binanceMaxLimit {
		size = binanceMaxLimit
	}

	klines, err := b.api.GetKlineRecords(pair, p.period, size)
	if err != nil {
		b.log.WithFields(map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
		}).WithError(err).Warn("GetKlineRecords failed")
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: binance %s %s", ErrNoData, symbol, timeframe)
	}

	bars := make(model.PriceSeries, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, model.Bar{
			Time:   time.Unix(k.Timestamp, 0).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Vol,
		})
	}
	log := b.log.WithFields(map[string]interface{}{"symbol": symbol, "timeframe": timeframe})
	bars = normalizeBars(bars, 0, log)

	if p.factor > 1 {
		bars, err = aggregateBars(b.Name(), symbol, timeframe, bars, interval)
		if err != nil {
			return nil, err
		}
	}
	return normalizeBars(bars, limit, log), nil
}

// LastPrice is the close of the most recent one-minute kline.
func (b *BinanceProvider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := b.FetchBars(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	last, _ := bars.Last()
	return last.Close, nil
}

func currencyPair(symbol string) (goex.CurrencyPair, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return goex.CurrencyPair{}, err
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: quote}), nil
}

// aggregateBars resamples native bars into the requested interval.
func aggregateBars(exchange, symbol, timeframe string, bars model.PriceSeries, interval time.Duration) (model.PriceSeries, error) {
	candles := make([]model.OHLCVCandle, len(bars))
	for i, b := range bars {
		candles[i] = model.NewOHLCVCandle(exchange, symbol, timeframe, b)
	}
	agg, err := repository.AggregateCandles(candles, interval, timeframe)
	if err != nil {
		return nil, err
	}
	return model.CandlesToSeries(agg), nil
}
