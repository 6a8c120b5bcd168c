package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Exchange      string        `envconfig:"MARKET_EXCHANGE" default:"binance"`
	Fallbacks     []string      `envconfig:"MARKET_FALLBACKS" default:"kraken"`
	Timeout       time.Duration `envconfig:"MARKET_TIMEOUT" default:"15s"`
	CacheEnabled  bool          `envconfig:"MARKET_CACHE" default:"true"`
	BinanceURL    string        `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
	KrakenURL     string        `envconfig:"KRAKEN_BASE_URL" default:"https://api.kraken.com"`
	RetryAttempts int           `envconfig:"MARKET_RETRY_ATTEMPTS" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
