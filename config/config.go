package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/alert"
	"acctmonitor/internal/monitor"
	"acctmonitor/internal/poller"
	"acctmonitor/internal/server"
	"acctmonitor/pkg/backend"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend kinds.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend BackendConfig    `mapstructure:"backend"`
	Monitor MonitorConfig    `mapstructure:"monitor"`
	Alerts  alert.Thresholds `mapstructure:"alerts"`
	Server  server.Config    `mapstructure:"server"`
	Log     LogConfig        `mapstructure:"log"`
	Export  ExportConfig     `mapstructure:"export"`
}

// BackendConfig selects the account data source.
type BackendConfig struct {
	Kind     string         `mapstructure:"kind"` // "rest" or "postgres"
	REST     backend.Config `mapstructure:"rest"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	Concurrency       int           `mapstructure:"concurrency"`
	CycleTimeout      time.Duration `mapstructure:"cycle_timeout"`
	TradeHistoryDays  int           `mapstructure:"trade_history_days"`
	TradeRefreshEvery int           `mapstructure:"trade_refresh_every"` // cycles, 0 = on demand only
	MaxAccounts       int           `mapstructure:"max_accounts"`
	Accounts          []int64       `mapstructure:"accounts"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"backend":    "backend.kind",
	"interval":   "monitor.interval",
	"accounts":   "monitor.accounts",
	"host":       "server.host",
	"port":       "server.port",
	"log-level":  "log.level",
	"export-dir": "export.dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", BackendREST)
	v.SetDefault("backend.rest.base_url", "")
	v.SetDefault("backend.rest.token", "")
	v.SetDefault("backend.rest.timeout", 10*time.Second)
	v.SetDefault("backend.rest.rate_limit", 0)
	v.SetDefault("backend.rest.burst", 1)
	v.SetDefault("backend.postgres.host", "localhost")
	v.SetDefault("backend.postgres.port", 5432)
	v.SetDefault("backend.postgres.user", "postgres")
	v.SetDefault("backend.postgres.password", "")
	v.SetDefault("backend.postgres.dbname", "")
	v.SetDefault("backend.postgres.sslmode", "disable")
	v.SetDefault("backend.postgres.timezone", "")
	v.SetDefault("backend.postgres.max_open_conns", 10)
	v.SetDefault("backend.postgres.max_idle_conns", 5)
	v.SetDefault("backend.postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("backend.postgres.auto_migrate", false)

	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("monitor.concurrency", 16)
	v.SetDefault("monitor.cycle_timeout", 30*time.Second)
	v.SetDefault("monitor.trade_history_days", 30)
	v.SetDefault("monitor.trade_refresh_every", 5)
	v.SetDefault("monitor.max_accounts", 100000)
	v.SetDefault("monitor.accounts", []int64{})

	v.SetDefault("alerts.margin_warning_level", 150)
	v.SetDefault("alerts.margin_critical_level", 100)
	v.SetDefault("alerts.max_loss_threshold", -1000)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.write_wait", 2*time.Second)
	v.SetDefault("server.pong_wait", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("export.dir", "exports")
}

// Load loads application configuration using Viper.
// It reads a .env file when present, then the yaml file at path (or
// config.yaml on the search path when path is empty), and overrides with
// environment variables and any changed flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., MONITOR_INTERVAL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch d := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(d))
		case int:
			return decimal.NewFromInt(int64(d)), nil
		case int64:
			return decimal.NewFromInt(d), nil
		case float64:
			return decimal.NewFromFloat(d), nil
		case decimal.Decimal:
			return d, nil
		}
		return data, nil
	}
}

func invalid(field, reason string) error {
	return &account.ValidationError{Field: field, Reason: reason}
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendREST:
		if c.Backend.REST.BaseURL == "" {
			return invalid("backend.rest.base_url", "required for the rest backend")
		}
	case BackendPostgres:
		if c.Backend.Postgres.DBName == "" {
			return invalid("backend.postgres.dbname", "required for the postgres backend")
		}
	default:
		return invalid("backend.kind", fmt.Sprintf("unknown backend %q", c.Backend.Kind))
	}

	if c.Monitor.Interval < time.Second {
		return invalid("monitor.interval", "must be at least 1s")
	}
	if c.Monitor.Concurrency < 1 {
		return invalid("monitor.concurrency", "must be at least 1")
	}
	if c.Monitor.TradeHistoryDays < 1 {
		return invalid("monitor.trade_history_days", "must be at least 1")
	}
	if c.Monitor.TradeRefreshEvery < 0 {
		return invalid("monitor.trade_refresh_every", "must not be negative")
	}
	for _, id := range c.Monitor.Accounts {
		if !account.ID(id).Valid() {
			return invalid("monitor.accounts", fmt.Sprintf("login %d is not positive", id))
		}
	}

	if c.Alerts.MarginCriticalLevel.GreaterThan(c.Alerts.MarginWarningLevel) {
		return invalid("alerts.margin_critical_level", "must not exceed margin_warning_level")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port", "out of range")
	}
	return nil
}

// AccountIDs returns the configured logins as account IDs.
func (c MonitorConfig) AccountIDs() []account.ID {
	ids := make([]account.ID, 0, len(c.Accounts))
	for _, id := range c.Accounts {
		ids = append(ids, account.ID(id))
	}
	return ids
}

// System returns the monitor configuration.
func (c *Config) System() monitor.Config {
	return monitor.Config{
		Poller: poller.Config{
			Interval:          c.Monitor.Interval,
			Concurrency:       c.Monitor.Concurrency,
			CycleTimeout:      c.Monitor.CycleTimeout,
			TradeHistoryDays:  c.Monitor.TradeHistoryDays,
			TradeRefreshEvery: c.Monitor.TradeRefreshEvery,
		},
		MaxAccounts: c.Monitor.MaxAccounts,
		Thresholds:  c.Alerts,
	}
}

// ServerConfig returns the server configuration with the export directory
// filled in.
func (c *Config) ServerConfig() server.Config {
	s := c.Server
	s.ExportDir = c.Export.Dir
	return s
}
