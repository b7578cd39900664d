package main

import (
	"time"

	"github.com/tinytelemetry/histlog/internal/model"
)

const (
	defaultBindHost          = "127.0.0.1"
	defaultAPIPort           = 3080
	defaultLogDir            = "/var/log/histlog"
	defaultUpdateInterval    = model.DefaultUpdateInterval
	defaultMaxCachedMessages = model.DefaultMaxCachedMessages
	defaultRefreshInterval   = 1 * time.Minute
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	LogDir            string        `mapstructure:"log-dir" yaml:"log-dir"`
	UpdateInterval    time.Duration `mapstructure:"update-interval" yaml:"update-interval"`
	MaxCachedMessages int           `mapstructure:"max-cached-messages" yaml:"max-cached-messages"`
	WatchEnabled      bool          `mapstructure:"watch-enabled" yaml:"watch-enabled"`
	RefreshInterval   time.Duration `mapstructure:"refresh-interval" yaml:"refresh-interval"`
	APIEnabled        bool          `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort           int           `mapstructure:"api-port" yaml:"api-port"`
	APIAddr           string        `mapstructure:"api-addr" yaml:"api-addr"`
	SocketPath        string        `mapstructure:"socket-path" yaml:"socket-path"`
	ConfigPath        string        `mapstructure:"-" yaml:"-"` // not from config file
}
