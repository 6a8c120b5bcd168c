package picks

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbols     []string `envconfig:"PICKS_SYMBOLS" default:"BTC/USDT,ETH/USDT,SOL/USDT,BNB/USDT,XRP/USDT"`
	Timeframe   string   `envconfig:"MARKET_TIMEFRAME" default:"1h"`
	Bars        int      `envconfig:"MARKET_BARS" default:"1000"`
	MaxPicks    int      `envconfig:"MAX_PICKS" default:"5"`
	Concurrency int      `envconfig:"PICKS_CONCURRENCY" default:"4"`
	Capital     float64  `envconfig:"ACCOUNT_CAPITAL" default:"10000"`
	// Strategies optionally restricts the registry to these ids.
	Strategies []string `envconfig:"STRATEGIES"`
}

func DefaultConfig() Config {
	return Config{
		Symbols:     []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT", "XRP/USDT"},
		Timeframe:   "1h",
		Bars:        1000,
		MaxPicks:    5,
		Concurrency: 4,
		Capital:     10000,
	}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
