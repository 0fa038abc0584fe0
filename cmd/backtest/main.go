// Command backtest runs backtests and manages candle data from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backtest-service/services/api"
	"backtest-service/services/clickhouse"
	"backtest-service/services/config"
)

type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Backtest trading strategies over historical or synthetic candles",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("BACKTEST_CONFIG"), "path to YAML config")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		runCmd(a),
		compareCmd(a),
		generateCmd(a),
		ingestCmd(a),
		resampleCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	zcfg := zap.NewDevelopmentConfig()
	if !a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.OutputPaths = []string{"stderr"}
	a.logger, err = zcfg.Build()
	return err
}

// openStore connects to ClickHouse, or returns nil when none is configured.
func (a *app) openStore(ctx context.Context) (*clickhouse.Store, error) {
	if len(a.cfg.ClickHouse.Addr) == 0 {
		return nil, nil
	}
	conn, err := clickhouse.Open(ctx, a.cfg.ClickHouse)
	if err != nil {
		return nil, err
	}
	store := clickhouse.NewStore(conn, a.cfg.ClickHouse, a.logger)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// dateFlag parses --start/--end in the formats the HTTP API accepts.
func dateFlag(name, value string) (time.Time, error) {
	t, err := api.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
