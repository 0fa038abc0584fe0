package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"backtest-service/services/arrowpipeline"
	"backtest-service/services/backtest"
	"backtest-service/services/engine"
	"backtest-service/services/marketdata"
)

const cliUser = "cli"

type runFlags struct {
	symbol     string
	timeframe  string
	start, end string
	capital    float64
	fraction   float64
	commission float64
	arrowOut   string
	jsonOut    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "BTCUSDT", "instrument symbol")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", string(engine.DefaultTimeframe), "bar interval")
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "end date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().Float64Var(&f.capital, "capital", backtest.DefaultInitialCapital, "initial capital")
	cmd.Flags().Float64Var(&f.fraction, "fraction", backtest.DefaultPositionSizeFraction, "fraction of cash per entry")
	cmd.Flags().Float64Var(&f.commission, "commission", backtest.DefaultCommissionRate, "commission rate per side")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

// parseStrategy reads "name:short/long" or "short/long" into a crossover descriptor.
func parseStrategy(spec string) (*engine.StrategyDescriptor, error) {
	name, periods := "", spec
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		name, periods = spec[:i], spec[i+1:]
	}
	var short, long int
	if _, err := fmt.Sscanf(periods, "%d/%d", &short, &long); err != nil {
		return nil, fmt.Errorf("strategy %q: want short/long periods: %w", spec, err)
	}
	if name == "" {
		name = fmt.Sprintf("MA %d/%d", short, long)
	}
	return &engine.StrategyDescriptor{
		ID:     name,
		UserID: cliUser,
		Name:   name,
		Kind:   engine.KindMACrossover,
		Params: engine.StrategyParams{ShortPeriod: short, LongPeriod: long},
	}, nil
}

// newService builds a backtest service over in-memory strategies, backed by
// ClickHouse when configured.
func (a *app) newService(cmd *cobra.Command, strategies memStrategies) (*backtest.Service, func(), error) {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	var src marketdata.Store
	if store != nil {
		src = store
		closer = func() { store.Close() }
	}
	provider := marketdata.NewProvider(src, a.logger)
	svc := backtest.NewService(provider, strategies, &memResults{}, a.logger,
		backtest.WithMaxWorkers(a.cfg.Engine.MaxWorkers))
	return svc, closer, nil
}

func runCmd(a *app) *cobra.Command {
	var f runFlags
	var strategy string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one moving-average crossover backtest",
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := parseStrategy(strategy)
			if err != nil {
				return err
			}
			start, err := dateFlag("start", f.start)
			if err != nil {
				return err
			}
			end, err := dateFlag("end", f.end)
			if err != nil {
				return err
			}

			svc, closeStore, err := a.newService(cmd, memStrategies{desc.ID: desc})
			if err != nil {
				return err
			}
			defer closeStore()

			capital, fraction, commission := f.capital, f.fraction, f.commission
			res, err := svc.RunBacktest(cmd.Context(), cliUser, backtest.RunRequest{
				StrategyID:           desc.ID,
				Symbol:               f.symbol,
				Timeframe:            f.timeframe,
				StartDate:            start,
				EndDate:              end,
				InitialCapital:       &capital,
				PositionSizeFraction: &fraction,
				CommissionRate:       &commission,
			})
			if err != nil {
				return err
			}

			if f.arrowOut != "" {
				if err := writeEquityArrow(a, f.arrowOut, res.Equity); err != nil {
					return err
				}
			}
			if f.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printSummary(cmd, res)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&strategy, "strategy", "10/20", "crossover periods as [name:]short/long")
	cmd.Flags().StringVar(&f.arrowOut, "arrow", "", "write the equity curve to this Arrow IPC file")
	return cmd
}

func writeEquityArrow(a *app, path string, equity []engine.EquityPoint) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return arrowpipeline.NewPipeline(a.cfg.Arrow, a.logger).WriteEquity(out, equity)
}

func printSummary(cmd *cobra.Command, res *engine.BacktestResult) {
	m := res.Metrics
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s %s  %s -> %s\n", res.StrategyName, res.Symbol, res.Timeframe,
		res.Period.Start.Format("2006-01-02"), res.Period.End.Format("2006-01-02"))
	fmt.Fprintf(w, "  capital      %.2f -> %.2f\n", res.Capital.Initial, res.Capital.Final)
	fmt.Fprintf(w, "  return       %.2f (%.2f%%)\n", m.TotalReturn, m.TotalReturnPercent)
	fmt.Fprintf(w, "  trades       %d (win rate %.1f%%)\n", m.TotalTrades, m.WinRate)
	fmt.Fprintf(w, "  profit factor %s\n", m.ProfitFactor)
	fmt.Fprintf(w, "  sharpe       %.3f\n", m.SharpeRatio)
	fmt.Fprintf(w, "  max drawdown %.2f%%\n", m.MaxDrawdown)
}
