package candles

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Timeframes []string `envconfig:"SYNC_TIMEFRAMES" default:"1h"`
	Limit      int      `envconfig:"SYNC_LIMIT" default:"1000"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
