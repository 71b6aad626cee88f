package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acctmonitor/config"
	"acctmonitor/internal/account"
	"acctmonitor/internal/metrics"
	"acctmonitor/internal/monitor"
	"acctmonitor/internal/server"
	"acctmonitor/logger"
	"acctmonitor/pkg/backend"
	"acctmonitor/pkg/storage/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `usage: monitor <command> [flags]

commands:
  serve      run the monitor and its websocket/http server
  add        start monitoring --login
  remove     stop monitoring --login
  snapshot   print one (--login) or all account snapshots
  exposure   print net exposure, optionally for --symbol
  stats      print monitor statistics
  alerts     print active alerts
  trades     print trade history for --login
  watch      print broadcast frames until interrupted
  export     write the current state to -o (json or yaml)

run "monitor <command> --help" for the flags of a command`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "add", "remove", "snapshot", "exposure", "stats", "alerts", "trades", "watch", "export":
		err = runClient(cmd, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to config.yaml")
	fs.String("backend", "", "data source: rest or postgres")
	fs.Duration("interval", 0, "poll interval")
	fs.StringSlice("accounts", nil, "logins to monitor from start")
	fs.String("host", "", "listen host")
	fs.Int("port", 0, "listen port")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("export-dir", "", "directory for exports requested over http")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// viper config
	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return err
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sys := monitor.New(cfg.System(), source, metrics.New(reg), log)
	defer func() {
		if err := sys.Close(); err != nil {
			log.Warn("close monitor", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = sys.Initialize(initCtx)
	cancel()
	if err != nil {
		return err
	}

	for _, id := range cfg.Monitor.AccountIDs() {
		if err := sys.AddAccount(id); err != nil {
			if account.IsValidationError(err) {
				log.Warn("account not added", zap.Int64("login_id", int64(id)), zap.Error(err))
				continue
			}
			return err
		}
	}

	if err := sys.Start(); err != nil {
		return err
	}

	srv := server.New(cfg.ServerConfig(), sys, reg, log)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("shutting down")
	return nil
}

func newSource(cfg *config.Config) (account.DataSource, error) {
	switch cfg.Backend.Kind {
	case config.BackendPostgres:
		return postgres.Open(cfg.Backend.Postgres, cfg.Log.Environment)
	default:
		return backend.NewClient(cfg.Backend.REST), nil
	}
}
