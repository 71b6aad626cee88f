package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acctmonitor/config"
	"acctmonitor/internal/account"
	"acctmonitor/internal/export"
	"acctmonitor/internal/monitor"
	"acctmonitor/logger"
	"acctmonitor/pkg/monitorclient"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// runClient executes cmd against a running server.
func runClient(cmd string, args []string) error {
	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	url := fs.String("url", "ws://127.0.0.1:8765/ws", "monitor websocket url")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	login := fs.Int64("login", 0, "account login")
	symbol := fs.String("symbol", "", "instrument symbol")
	refresh := fs.Bool("refresh", false, "fetch fresh trade history")
	output := fs.StringP("output", "o", "", "export file (.json or .yaml)")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := logger.New(config.LogConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := monitorclient.New(*url, log)
	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	err = c.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd == "watch" {
		c.SetFrameHandler(func(f monitor.Frame) {
			log.Debug("frame received", zap.String("type", f.Type), zap.Uint64("cycle", f.Cycle))
			printJSON(f)
		})
		return c.Listen(ctx)
	}

	reqCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	id := account.ID(*login)
	needLogin := func() error {
		if !id.Valid() {
			return errors.New("--login is required")
		}
		return nil
	}

	switch cmd {
	case "add":
		if err := needLogin(); err != nil {
			return err
		}
		if err := c.AddAccount(reqCtx, id); err != nil {
			return err
		}
		fmt.Printf("monitoring %d\n", id)
	case "remove":
		if err := needLogin(); err != nil {
			return err
		}
		if err := c.RemoveAccount(reqCtx, id); err != nil {
			return err
		}
		fmt.Printf("stopped monitoring %d\n", id)
	case "snapshot":
		if *login != 0 {
			v, err := c.Snapshot(reqCtx, id)
			if err != nil {
				return err
			}
			return printJSON(v)
		}
		v, err := c.Snapshots(reqCtx)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "exposure":
		v, err := c.Exposure(reqCtx, *symbol)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "stats":
		v, err := c.Stats(reqCtx)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "alerts":
		v, err := c.Alerts(reqCtx)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "trades":
		if err := needLogin(); err != nil {
			return err
		}
		v, err := c.Trades(reqCtx, id, *refresh)
		if err != nil {
			return err
		}
		return printJSON(v)
	case "export":
		return runExport(reqCtx, c, *output)
	}
	return nil
}

// runExport assembles the export document from the server's replies and
// writes it to path.
func runExport(ctx context.Context, c *monitorclient.Client, path string) error {
	doc := export.Document{Timestamp: time.Now().UTC()}
	var err error
	if doc.Stats, err = c.Stats(ctx); err != nil {
		return err
	}
	if doc.Accounts, err = c.Snapshots(ctx); err != nil {
		return err
	}
	exposure, err := c.Exposure(ctx, "")
	if err != nil {
		return err
	}
	doc.Exposure = exposure.Exposure

	if path == "" {
		path = export.DefaultPath(".", doc.Timestamp)
	}
	if err := export.Write(doc, path); err != nil {
		return err
	}
	fmt.Printf("exported %d accounts to %s\n", len(doc.Accounts), path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
