// Command relay-sim replays PM2.5 sensor exports through a ventilation relay
// policy and reports how often, and for how long, the relay would have run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pm25-relay-sim/internal/batch"
	"github.com/sweeney/pm25-relay-sim/internal/config"
	"github.com/sweeney/pm25-relay-sim/internal/csvio"
	"github.com/sweeney/pm25-relay-sim/internal/logging"
	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mqtt"
	"github.com/sweeney/pm25-relay-sim/internal/report"
	"github.com/sweeney/pm25-relay-sim/internal/status"
	"github.com/sweeney/pm25-relay-sim/internal/store"
	"github.com/sweeney/pm25-relay-sim/internal/web"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		fmt.Fprintf(os.Stderr, "received %v, shutting down\n", s)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the command-line overrides. Only flags that were set replace
// the environment configuration.
type flags struct {
	envFile  string
	input    string
	output   string
	policy   string
	workers  int
	report   string
	httpAddr string
	broker   string
	noMixing bool
	hold     bool
	list     bool
	showRun  string
}

func parseFlags(args []string) (*flags, *flag.FlagSet, error) {
	f := &flags{}
	fs := flag.NewFlagSet("relay-sim", flag.ContinueOnError)
	fs.StringVar(&f.envFile, "env", ".env", "dotenv file to load (missing is ignored)")
	fs.StringVar(&f.input, "input", "", "directory of sensor CSV exports")
	fs.StringVar(&f.output, "output", "", `directory for processed CSVs ("" disables)`)
	fs.StringVar(&f.policy, "policy", "", "relay policy: window or area")
	fs.IntVar(&f.workers, "workers", 0, "series processed in parallel")
	fs.StringVar(&f.report, "report", "", "path of the xlsx event report")
	fs.StringVar(&f.httpAddr, "http", "", "HTTP status address (empty to disable)")
	fs.StringVar(&f.broker, "broker", "", "MQTT broker address (empty to disable)")
	fs.BoolVar(&f.noMixing, "no-mixing", false, "skip the indoor air model")
	fs.BoolVar(&f.hold, "hold", false, "keep the status server up after the batch completes")
	fs.BoolVar(&f.list, "list", false, "print the series that would be processed and exit")
	fs.StringVar(&f.showRun, "show-run", "", "print the summaries stored for a run id and exit (needs DB_HOST)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// apply overrides cfg with every flag given on the command line.
func (f *flags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "input":
			cfg.InputDir = f.input
		case "output":
			cfg.OutputDir = f.output
		case "policy":
			cfg.Policy = f.policy
		case "workers":
			cfg.Workers = f.workers
		case "report":
			cfg.ReportPath = f.report
		case "http":
			cfg.HTTPAddr = f.httpAddr
		case "broker":
			cfg.MQTT.Broker = f.broker
		case "no-mixing":
			cfg.MixingEnabled = !f.noMixing
		}
	})
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	f, fs, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	policy, err := cfg.RelayPolicy()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "relay-sim")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if f.showRun != "" {
		return showRun(ctx, cfg, logger, f.showRun, stdout)
	}

	paths, err := batch.DiscoverCSV(cfg.InputDir)
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.InputDir, err)
	}
	if f.list {
		for _, p := range paths {
			fmt.Fprintln(stdout, filepath.Base(p))
		}
		return nil
	}

	runID := uuid.NewString()
	tracker := status.NewTracker(time.Now(), runID, status.Config{
		Policy:    policy.Name(),
		Workers:   cfg.Workers,
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		Broker:    cfg.MQTT.Broker,
		HTTPAddr:  cfg.HTTPAddr,
	})

	procOpts := []batch.Option{batch.WithRunID(runID), batch.WithTracker(tracker)}
	sinkOpts, closeSinks, err := openSinks(ctx, cfg, logger, tracker)
	if err != nil {
		return err
	}
	defer closeSinks()
	procOpts = append(procOpts, sinkOpts...)

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	proc := batch.NewProcessor(batch.Options{
		Policy:            policy,
		QuietWindow:       cfg.Relay.QuietWindow,
		Mixing:            cfg.Mixing,
		MixingEnabled:     cfg.MixingEnabled,
		ElevatedThreshold: cfg.ElevatedThreshold,
		Filter:            csvio.Filter{Months: cfg.Months, From: cfg.From, To: cfg.To},
		OutputDir:         cfg.OutputDir,
		Workers:           cfg.Workers,
	}, logger, procOpts...)

	results, err := proc.ProcessFiles(ctx, paths)
	if err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}

	rows := reportRows(results, policy.Name())
	if cfg.ReportPath != "" {
		if err := report.WriteFile(cfg.ReportPath, rows); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", zap.String("path", cfg.ReportPath))
	}
	printSummary(stdout, rows)

	if f.hold && cfg.HTTPAddr != "" {
		logger.Info("batch complete; holding status server until interrupted")
		<-ctx.Done()
	}
	return nil
}

// openSinks connects every configured store and broker. The returned close
// func releases whatever was opened.
func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger, tracker *status.Tracker) ([]batch.Option, func(), error) {
	var opts []batch.Option
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Host != "" {
		db, err := store.OpenPostgres(cfg.Database)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() { db.Close() })
		if err := store.EnsureSchema(ctx, db); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		baselines := store.NewBaselineRepository(db, logger)
		opts = append(opts,
			batch.WithBaselineStore(baselines),
			batch.WithBaselineSource(baselines),
			batch.WithSummaryStore(store.NewSummaryRepository(db, logger)))
		logger.Info("postgres store enabled", zap.String("host", cfg.Database.Host))
	}

	if cfg.ClickHouse.Addr != "" {
		sink, err := store.NewClickHouseSink(ctx, cfg.ClickHouse, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { sink.Close() })
		opts = append(opts, batch.WithEstimateSink(sink))
		logger.Info("clickhouse sink enabled", zap.String("addr", cfg.ClickHouse.Addr))
	}

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		}, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("mqtt: %w", err)
		}
		closers = append(closers, func() { pub.Close() })
		tracker.WatchMQTT(pub)
		opts = append(opts, batch.WithPublisher(pub))
		logger.Info("mqtt publisher enabled", zap.String("broker", cfg.MQTT.Broker))
	}

	return opts, closeAll, nil
}

// runLister reads back the summaries of a finished run.
type runLister interface {
	ListRun(ctx context.Context, runID string) ([]store.SummaryRecord, error)
}

func showRun(ctx context.Context, cfg *config.Config, logger *zap.Logger, runID string, w io.Writer) error {
	if cfg.Database.Host == "" {
		return errors.New("-show-run needs a database (DB_HOST)")
	}
	db, err := store.OpenPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return printRun(ctx, store.NewSummaryRepository(db, logger), runID, w)
}

// printRun prints a stored run in the same format as a live one.
func printRun(ctx context.Context, l runLister, runID string, w io.Writer) error {
	recs, err := l.ListRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list run %s: %w", runID, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("no summaries stored for run %s", runID)
	}
	rows := make([]report.Row, len(recs))
	for i, rec := range recs {
		rows[i] = report.Row{
			Series:   rec.Series,
			Policy:   rec.Policy,
			Readings: rec.Readings,
			Summary: logic.Summary{
				Count:        rec.Events,
				MeanDuration: rec.MeanDuration,
				MeanGap:      rec.MeanGap,
			},
			OnShare:       rec.OnShare,
			ElevatedShare: rec.ElevatedShare,
			ErrorKind:     logic.ErrorKind(rec.ErrorKind),
		}
		if rec.OpenSince != nil {
			rows[i].Summary.Open = true
			rows[i].Summary.OpenSince = *rec.OpenSince
		}
	}
	fmt.Fprintf(w, "run %s (%s)\n", runID, recs[0].Policy)
	printSummary(w, rows)
	return nil
}

func reportRows(results []batch.Result, policy string) []report.Row {
	rows := make([]report.Row, len(results))
	for i, r := range results {
		rows[i] = report.Row{
			Series:        r.Series,
			Policy:        policy,
			Readings:      r.Readings,
			Summary:       r.Summary,
			OnShare:       r.OnShare,
			ElevatedShare: r.ElevatedShare,
			ErrorKind:     r.ErrorKind,
		}
	}
	return rows
}

// printSummary writes one line per series and the averages line.
func printSummary(w io.Writer, rows []report.Row) {
	for _, r := range rows {
		if r.ErrorKind != logic.KindNone {
			fmt.Fprintf(w, "%s: error=%s\n", r.Series, r.ErrorKind)
			continue
		}
		line := fmt.Sprintf("%s: events=%d duration=%s between=%s on=%.2f%%",
			r.Series, r.Summary.Count,
			logic.ToDaysHours(r.Summary.MeanDuration),
			logic.ToDaysHours(r.Summary.MeanGap),
			r.OnShare)
		if r.Summary.Open {
			line += " open_since=" + r.Summary.OpenSince.UTC().Format(time.RFC3339)
		}
		fmt.Fprintln(w, line)
	}
	agg := report.Averages(rows)
	fmt.Fprintf(w, "%s: series=%d events=%.2f duration=%s between=%s\n",
		report.AveragesLabel, agg.Series, agg.MeanEvents,
		logic.ToDaysHours(agg.MeanDuration), logic.ToDaysHours(agg.MeanGap))
}
