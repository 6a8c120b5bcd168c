package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`  // debug | info | warn | error
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"` // json | text
	Driver    string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	// DatabaseURL is a file path or DSN for sqlite and a postgres:// URL for postgres.
	DatabaseURL  string `envconfig:"DATABASE_URL" default:"signalengine.db"`
	GormLogLevel int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
	MaxOpenConns int    `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"20"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
