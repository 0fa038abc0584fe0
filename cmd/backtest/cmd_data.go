package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backtest-service/services/arrowpipeline"
	"backtest-service/services/backtest"
	"backtest-service/services/engine"
	"backtest-service/services/marketdata"
)

func compareCmd(a *app) *cobra.Command {
	var f runFlags
	var strategies []string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run several crossover strategies over the same window and rank them by Sharpe ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := dateFlag("start", f.start)
			if err != nil {
				return err
			}
			end, err := dateFlag("end", f.end)
			if err != nil {
				return err
			}

			repo := memStrategies{}
			ids := make([]string, 0, len(strategies))
			for _, s := range strategies {
				desc, err := parseStrategy(s)
				if err != nil {
					return err
				}
				repo[desc.ID] = desc
				ids = append(ids, desc.ID)
			}

			svc, closeStore, err := a.newService(cmd, repo)
			if err != nil {
				return err
			}
			defer closeStore()

			cmp, err := svc.CompareStrategies(cmd.Context(), cliUser, backtest.CompareRequest{
				StrategyIDs: ids,
				Symbol:      f.symbol,
				Timeframe:   f.timeframe,
				StartDate:   start,
				EndDate:     end,
			})
			if err != nil {
				return err
			}
			if f.jsonOut {
				return printJSON(cmd.OutOrStdout(), cmp)
			}

			w := cmd.OutOrStdout()
			for i, e := range cmp.Ranking {
				fmt.Fprintf(w, "%d. %-16s sharpe %7.3f  return %9.2f  trades %d\n",
					i+1, e.StrategyName, e.Metrics.SharpeRatio, e.Metrics.TotalReturn, e.Metrics.TotalTrades)
			}
			for _, e := range cmp.Comparisons {
				if e.Error != "" {
					fmt.Fprintf(w, "-  %-16s failed: %s\n", e.StrategyID, e.Error)
				}
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVar(&strategies, "strategy", []string{"fast:5/20", "default:10/20", "slow:20/50"}, "crossover periods as [name:]short/long, repeatable")
	return cmd
}

func generateCmd(a *app) *cobra.Command {
	var (
		timeframe  string
		start, end string
		seed       int64
		out        string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic random-walk candle series as CSV or Arrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := dateFlag("start", start)
			if err != nil {
				return err
			}
			to, err := dateFlag("end", end)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			series := marketdata.Synthesize(rand.New(rand.NewSource(seed)), timeframe, from, to)

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := writeSeries(a, w, out, series); err != nil {
				return err
			}
			a.logger.Info("Generated synthetic series",
				zap.Int("candles", len(series)),
				zap.Int64("seed", seed),
				zap.String("out", out),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", string(engine.DefaultTimeframe), "bar interval")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file; .arrow writes an Arrow IPC stream")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func isArrow(path string) bool { return strings.EqualFold(filepath.Ext(path), ".arrow") }

func writeSeries(a *app, w io.Writer, path string, series []engine.Candle) error {
	if isArrow(path) {
		return arrowpipeline.NewPipeline(a.cfg.Arrow, a.logger).WriteCandles(w, series)
	}
	return writeCandlesCSV(w, series)
}

func readSeries(a *app, path string) ([]engine.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if isArrow(path) {
		return arrowpipeline.NewPipeline(a.cfg.Arrow, a.logger).ReadCandles(f)
	}
	return readCandlesCSV(f)
}

func ingestCmd(a *app) *cobra.Command {
	var symbol, timeframe string
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load CSV or Arrow candle files into ClickHouse",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := engine.ParseTimeframe(timeframe); !ok {
				return engine.ErrInvalidParams.WithDetails("unsupported timeframe %q", timeframe)
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("ingest needs clickhouse.addr or CLICKHOUSE_ADDR")
			}
			defer store.Close()

			total := 0
			for _, path := range args {
				series, err := readSeries(a, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if gaps := engine.DetectGaps(series, engine.Timeframe(timeframe).Duration()); len(gaps) > 0 {
					a.logger.Warn("Series has gaps", zap.String("file", path), zap.Int("gaps", len(gaps)))
				}
				n, err := store.InsertCandles(cmd.Context(), symbol, timeframe, series)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				a.logger.Info("Ingested file", zap.String("file", path), zap.Int("rows", n))
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d candles for %s %s\n", total, symbol, timeframe)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol")
	cmd.Flags().StringVar(&timeframe, "timeframe", string(engine.DefaultTimeframe), "bar interval of the files")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func resampleCmd(a *app) *cobra.Command {
	var in, out, to string
	cmd := &cobra.Command{
		Use:   "resample",
		Short: "Aggregate a candle file into a coarser timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, ok := engine.ParseTimeframe(to)
			if !ok {
				return engine.ErrInvalidParams.WithDetails("unsupported timeframe %q", to)
			}
			series, err := readSeries(a, in)
			if err != nil {
				return err
			}
			if len(series) == 0 {
				return engine.ErrDataNotFound.WithDetails("no candles parsed from %s", in)
			}
			bars := resample(series, tf.Duration())

			w := cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			a.logger.Info("Resampled series", zap.Int("in", len(series)), zap.Int("out", len(bars)), zap.String("timeframe", to))
			return writeSeries(a, w, out, bars)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input CSV or .arrow file")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file")
	cmd.Flags().StringVar(&to, "to", string(engine.TF1h), "target timeframe")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
