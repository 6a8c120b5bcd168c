package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"signalengine/src/model"
)

const (
	defaultKrakenBaseURL   = "https://api.kraken.com"
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

type krakenInterval struct {
	minutes int
	factor  int
}

var krakenIntervals = map[string]krakenInterval{
	"1m":  {1, 1},
	"5m":  {5, 1},
	"15m": {15, 1},
	"30m": {30, 1},
	"1h":  {60, 1},
	"2h":  {60, 2},
	"4h":  {240, 1},
	"6h":  {60, 6},
	"12h": {240, 3},
	"1d":  {1440, 1},
	"1w":  {10080, 1},
}

var krakenAssetAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

type krakenTicker struct {
	C []string `json:"c"`
}

// KrakenProvider reads the public spot REST API.
type KrakenProvider struct {
	http *resty.Client
	log  *logrus.Entry
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == 429 || code == 408
}

func NewKrakenProvider(baseURL string, timeout time.Duration, attempts int, log *logrus.Entry) *KrakenProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenBaseURL
	}
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(attempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &KrakenProvider{http: httpClient, log: log.WithField("provider", "kraken")}
}

func (k *KrakenProvider) Name() string { return "kraken" }

// KrakenPair maps BTC/USDT to XBTUSDT.
func KrakenPair(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if alias, ok := krakenAssetAliases[base]; ok {
		base = alias
	}
	return base + quote, nil
}

func (k *KrakenProvider) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error) {
	interval, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	timeframe = canonicalTimeframe(timeframe)
	ki, ok := krakenIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: %q on kraken", ErrUnsupportedTimeframe, timeframe)
	}
	pair, err := KrakenPair(symbol)
	if err != nil {
		return nil, err
	}

	result, err := k.get(ctx, "/0/public/OHLC", map[string]string{
		"pair":     pair,
		"interval": strconv.Itoa(ki.minutes),
	})
	if err != nil {
		return nil, fmt.Errorf("kraken ohlc %s: %w", symbol, err)
	}

	var bars model.PriceSeries
	for key, raw := range result {
		if key == "last" {
			continue
		}
		var rows [][]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken ohlc %s: decode %s: %w", symbol, key, err)
		}
		for _, row := range rows {
			bar, err := parseKrakenRow(row)
			if err != nil {
				return nil, fmt.Errorf("kraken ohlc %s: %w", symbol, err)
			}
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: kraken %s %s", ErrNoData, symbol, timeframe)
	}
	log := k.log.WithFields(map[string]interface{}{"symbol": symbol, "timeframe": timeframe})
	bars = normalizeBars(bars, 0, log)

	if ki.factor > 1 {
		bars, err = aggregateBars(k.Name(), symbol, timeframe, bars, interval)
		if err != nil {
			return nil, err
		}
	}
	return normalizeBars(bars, limit, log), nil
}

func (k *KrakenProvider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	pair, err := KrakenPair(symbol)
	if err != nil {
		return 0, err
	}
	result, err := k.get(ctx, "/0/public/Ticker", map[string]string{"pair": pair})
	if err != nil {
		return 0, fmt.Errorf("kraken ticker %s: %w", symbol, err)
	}
	for _, raw := range result {
		var t krakenTicker
		if err := json.Unmarshal(raw, &t); err != nil {
			return 0, fmt.Errorf("kraken ticker %s: %w", symbol, err)
		}
		if len(t.C) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(t.C[0], 64)
		if err != nil {
			return 0, fmt.Errorf("kraken ticker %s: %w", symbol, err)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: kraken ticker %s", ErrNoData, symbol)
}

func (k *KrakenProvider) get(ctx context.Context, path string, params map[string]string) (map[string]json.RawMessage, error) {
	resp, err := k.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		k.log.WithFields(map[string]interface{}{"path": path, "params": params}).WithError(err).Warn("kraken request failed")
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var out krakenResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(out.Error) > 0 {
		return nil, errors.New(strings.Join(out.Error, "; "))
	}
	return out.Result, nil
}

// parseKrakenRow decodes [time, open, high, low, close, vwap, volume, count].
func parseKrakenRow(row []interface{}) (model.Bar, error) {
	if len(row) < 7 {
		return model.Bar{}, fmt.Errorf("short ohlc row (%d fields)", len(row))
	}
	ts, ok := row[0].(float64)
	if !ok {
		return model.Bar{}, fmt.Errorf("bad ohlc timestamp %v", row[0])
	}
	fields := [5]float64{}
	for i, idx := range []int{1, 2, 3, 4, 6} {
		v, err := toFloat(row[idx])
		if err != nil {
			return model.Bar{}, err
		}
		fields[i] = v
	}
	return model.Bar{
		Time:   time.Unix(int64(ts), 0).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected ohlc value %v", v)
	}
}
