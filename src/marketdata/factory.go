package marketdata

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/repository"
)

// NewProvider builds one named venue adapter.
func NewProvider(name string, cfg Config, log *logrus.Entry) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binance":
		return NewBinanceProvider(cfg.BinanceURL, cfg.Timeout, log), nil
	case "kraken":
		return NewKrakenProvider(cfg.KrakenURL, cfg.Timeout, cfg.RetryAttempts, log), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}

// NewFromConfig builds the primary exchange followed by its fallbacks, each
// wrapped in the candle cache when db is set and caching is enabled.
func NewFromConfig(cfg Config, db *gorm.DB, log *logrus.Entry) (Provider, error) {
	names := []string{cfg.Exchange}
	seen := map[string]bool{strings.ToLower(cfg.Exchange): true}
	for _, n := range cfg.Fallbacks {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, n)
	}

	var repo *repository.OHLCVRepository
	if cfg.CacheEnabled && db != nil {
		repo = repository.NewOHLCVRepositoryWithDB(db)
	}

	providers := make([]Provider, 0, len(names))
	for _, n := range names {
		p, err := NewProvider(n, cfg, log)
		if err != nil {
			return nil, err
		}
		if repo != nil {
			p = NewCachedProvider(p, repo, log)
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFallbackProvider(log, providers...), nil
}
