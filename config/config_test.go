package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/alert"
	"acctmonitor/pkg/backend"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// go test -v --run TestLoadDefaults
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "backend:\n  rest:\n    base_url: http://gw\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, BackendREST, cfg.Backend.Kind)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 16, cfg.Monitor.Concurrency)
	assert.Equal(t, 30, cfg.Monitor.TradeHistoryDays)
	assert.Equal(t, 100000, cfg.Monitor.MaxAccounts)
	assert.True(t, cfg.Alerts.MarginWarningLevel.Equal(decimal.NewFromInt(150)))
	assert.True(t, cfg.Alerts.MarginCriticalLevel.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Alerts.MaxLossThreshold.Equal(decimal.NewFromInt(-1000)))
	assert.Equal(t, "0.0.0.0:8765", cfg.Server.Addr())
	assert.Equal(t, "exports", cfg.ServerConfig().ExportDir)
	assert.Empty(t, cfg.Monitor.AccountIDs())
}

// go test -v --run TestLoadOverrides
func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
backend:
  rest:
    base_url: http://gw
monitor:
  accounts: [1001, 1002]
alerts:
  margin_warning_level: "200.5"
`)
	t.Setenv("MONITOR_INTERVAL", "2s")
	t.Setenv("ALERTS_MARGIN_CRITICAL_LEVEL", "90")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8765, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--port=9000"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, []account.ID{1001, 1002}, cfg.Monitor.AccountIDs())
	assert.True(t, cfg.Alerts.MarginWarningLevel.Equal(decimal.RequireFromString("200.5")))
	assert.True(t, cfg.Alerts.MarginCriticalLevel.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level, "unchanged flag keeps the default")

	sys := cfg.System()
	assert.Equal(t, 2*time.Second, sys.Poller.Interval)
	assert.Equal(t, 5, sys.Poller.TradeRefreshEvery)
}

// go test -v --run TestLoadMissingFile
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

// go test -v --run TestValidate
func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend: BackendConfig{Kind: BackendREST, REST: backend.Config{BaseURL: "http://gw"}},
			Monitor: MonitorConfig{Interval: time.Second, Concurrency: 1, TradeHistoryDays: 30},
			Alerts:  alert.DefaultThresholds(),
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name  string
		edit  func(c *Config)
		field string
	}{
		{"unknown backend", func(c *Config) { c.Backend.Kind = "mt5" }, "backend.kind"},
		{"missing base url", func(c *Config) { c.Backend.REST.BaseURL = "" }, "backend.rest.base_url"},
		{"missing dbname", func(c *Config) { c.Backend.Kind = BackendPostgres }, "backend.postgres.dbname"},
		{"short interval", func(c *Config) { c.Monitor.Interval = 500 * time.Millisecond }, "monitor.interval"},
		{"no concurrency", func(c *Config) { c.Monitor.Concurrency = 0 }, "monitor.concurrency"},
		{"bad account", func(c *Config) { c.Monitor.Accounts = []int64{1001, 0} }, "monitor.accounts"},
		{"critical above warning", func(c *Config) {
			c.Alerts.MarginCriticalLevel = decimal.NewFromInt(200)
		}, "alerts.margin_critical_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.edit(&c)
			err := c.Validate()
			var ve *account.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
