// Package batch runs the relay simulation over a set of sensor exports:
// one independent pass per series, bounded parallelism across series, and
// fan-out of the results to the configured sinks.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/pm25-relay-sim/internal/csvio"
	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mixing"
	"github.com/sweeney/pm25-relay-sim/internal/mqtt"
	"github.com/sweeney/pm25-relay-sim/internal/status"
	"github.com/sweeney/pm25-relay-sim/internal/store"
)

// BaselineStore persists the daily baseline table of a series.
type BaselineStore interface {
	SaveDaily(ctx context.Context, series string, table logic.DailyBaseline) error
}

// BaselineSource returns the daily baseline table stored for a series by
// earlier runs.
type BaselineSource interface {
	LoadDaily(ctx context.Context, series string) (logic.DailyBaseline, error)
}

// SummaryStore persists the outcome of a series.
type SummaryStore interface {
	SaveSummary(ctx context.Context, rec store.SummaryRecord) error
}

// EstimateSink receives the per-reading indoor estimate of a series.
type EstimateSink interface {
	WriteEstimate(ctx context.Context, runID, series string, run logic.Run, est mixing.Estimate) error
}

// Options are the simulation settings shared by every series of a run.
type Options struct {
	Policy            logic.RelayPolicy
	QuietWindow       logic.HourRange
	Mixing            mixing.Params
	MixingEnabled     bool
	ElevatedThreshold float64
	Filter            csvio.Filter
	// OutputDir receives one processed CSV per input; empty disables output.
	OutputDir string
	Workers   int
}

// DefaultOptions returns the windowed-ratio policy with default constants.
func DefaultOptions() Options {
	return Options{
		Policy:            logic.NewWindowedRatioPolicy(),
		QuietWindow:       logic.DefaultQuietWindow,
		Mixing:            mixing.DefaultParams(),
		MixingEnabled:     true,
		ElevatedThreshold: logic.DefaultElevatedThreshold,
		Workers:           1,
	}
}

// Result is the outcome of one series. On error the fields computed before
// the failure are still set.
type Result struct {
	Series   string
	Readings int
	// Source is the parsed export behind the series; nil for in-memory series.
	Source        *csvio.Export
	Table         logic.DailyBaseline
	Run           logic.Run
	Events        []logic.Event
	Summary       logic.Summary
	Estimate      *mixing.Estimate
	OnShare       float64
	ElevatedShare float64
	Err           error
	ErrorKind     logic.ErrorKind
}

func (r *Result) fail(err error) {
	r.Err = err
	r.ErrorKind = logic.Classify(err)
}

// Option configures a Processor.
type Option func(*Processor)

// WithPublisher publishes transitions, summaries and lifecycle events.
func WithPublisher(pub mqtt.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithBaselineStore persists daily baselines.
func WithBaselineStore(s BaselineStore) Option {
	return func(p *Processor) { p.baselines = s }
}

// WithBaselineSource fills dates the series has no quiet-window readings for
// from previously stored baselines.
func WithBaselineSource(s BaselineSource) Option {
	return func(p *Processor) { p.stored = s }
}

// WithSummaryStore persists per-series summaries.
func WithSummaryStore(s SummaryStore) Option {
	return func(p *Processor) { p.summaries = s }
}

// WithEstimateSink receives indoor estimates.
func WithEstimateSink(s EstimateSink) Option {
	return func(p *Processor) { p.estimates = s }
}

// WithTracker reports progress to a status tracker.
func WithTracker(t *status.Tracker) Option {
	return func(p *Processor) { p.tracker = t }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(p *Processor) { p.runID = id }
}

// Processor simulates series and fans results out to its sinks.
type Processor struct {
	opts   Options
	logger *zap.Logger
	runID  string

	publisher mqtt.Publisher
	baselines BaselineStore
	stored    BaselineSource
	summaries SummaryStore
	estimates EstimateSink
	tracker   *status.Tracker

	now func() time.Time
}

// NewProcessor creates a Processor. Every run gets a fresh UUID unless
// WithRunID is given.
func NewProcessor(opts Options, logger *zap.Logger, options ...Option) *Processor {
	if opts.Policy == nil {
		opts.Policy = logic.NewWindowedRatioPolicy()
	}
	if !opts.QuietWindow.Valid() {
		opts.QuietWindow = logic.DefaultQuietWindow
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		opts:   opts,
		logger: logger,
		runID:  uuid.NewString(),
		now:    time.Now,
	}
	for _, o := range options {
		o(p)
	}
	p.logger = p.logger.With(zap.String("run_id", p.runID))
	return p
}

// RunID identifies this processor's run in stores and messages.
func (p *Processor) RunID() string {
	return p.runID
}

// ProcessSeries runs the full per-series pass: daily baseline, relay policy,
// event extraction, indoor model and exposure shares. It touches no sinks.
func (p *Processor) ProcessSeries(name string, series logic.Series) Result {
	return p.simulate(name, series, logic.BuildDailyBaseline(series, p.opts.QuietWindow))
}

func (p *Processor) simulate(name string, series logic.Series, table logic.DailyBaseline) Result {
	res := Result{Series: name, Readings: len(series), Table: table}
	log := p.logger.With(zap.String("series", name))

	if res.Table.Len() == 0 {
		log.Warn("no readings in quiet window; baselines fall back to strategy defaults",
			zap.Stringer("quiet_window", p.opts.QuietWindow))
	}

	run, err := logic.SimulateRelay(series, res.Table, p.opts.Policy)
	if err != nil {
		res.fail(fmt.Errorf("simulate relay: %w", err))
		return res
	}
	res.Run = run

	events, openSince := logic.ExtractEvents(run.Samples())
	res.Events = events
	res.Summary = logic.Summarize(events, openSince)
	if openSince != nil {
		log.Warn("series ended with relay ON; trailing interval not counted as an event",
			zap.Time("open_since", *openSince))
	}

	states := run.States()
	res.OnShare = logic.OnShare(states)

	if !p.opts.MixingEnabled {
		return res
	}
	est, err := mixing.Simulate(series, p.opts.Mixing)
	if errors.Is(err, logic.ErrDegenerate) {
		log.Warn("too few readings for the indoor model; no estimate", zap.Error(err))
		return res
	}
	if err != nil {
		res.fail(fmt.Errorf("simulate indoor: %w", err))
		return res
	}
	res.Estimate = &est
	res.ElevatedShare = logic.ElevatedShare(states, est.Indoor, p.opts.ElevatedThreshold)
	return res
}

// ProcessFile reads one export, processes it and feeds the sinks.
func (p *Processor) ProcessFile(ctx context.Context, path string) Result {
	name := filepath.Base(path)
	log := p.logger.With(zap.String("series", name))
	if p.tracker != nil {
		p.tracker.Start(name, p.now())
	}

	res := p.readAndProcess(ctx, name, path)
	if res.Err != nil {
		log.Warn("series failed",
			zap.String("kind", string(res.ErrorKind)),
			zap.Error(res.Err))
	} else {
		log.Info("series processed",
			zap.Int("readings", res.Readings),
			zap.Int("events", res.Summary.Count),
			zap.Duration("mean_duration", res.Summary.MeanDuration),
			zap.Float64("on_share", res.OnShare))
	}

	p.writeOutputs(ctx, log, res)

	if p.tracker != nil {
		st := status.SeriesStatus{
			Name:          name,
			Readings:      res.Readings,
			Summary:       res.Summary,
			OnShare:       res.OnShare,
			ElevatedShare: res.ElevatedShare,
			ErrorKind:     res.ErrorKind,
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		p.tracker.Finish(st, p.now())
	}
	return res
}

func (p *Processor) readAndProcess(ctx context.Context, name, path string) Result {
	f, err := os.Open(path)
	if err != nil {
		res := Result{Series: name}
		res.fail(fmt.Errorf("%w: %v", logic.ErrInput, err))
		return res
	}
	defer f.Close()

	exp, stats, err := csvio.ReadExport(f, p.opts.Filter)
	if err != nil {
		res := Result{Series: name}
		res.fail(fmt.Errorf("read %s: %w", name, err))
		return res
	}
	if skipped := stats.BadTime + stats.BadValue; skipped > 0 {
		p.logger.Debug("skipped unusable rows",
			zap.String("series", name),
			zap.Int("bad_time", stats.BadTime),
			zap.Int("bad_value", stats.BadValue))
	}

	table := logic.BuildDailyBaseline(exp.Series, p.opts.QuietWindow)
	if p.stored != nil {
		stored, err := p.stored.LoadDaily(ctx, name)
		if err != nil {
			p.logger.Warn("failed to load stored baselines", zap.String("series", name), zap.Error(err))
		} else {
			var added int
			table, added = table.Backfill(stored)
			if added > 0 {
				p.logger.Debug("backfilled baselines from store",
					zap.String("series", name),
					zap.Int("days", added))
			}
		}
	}
	res := p.simulate(name, exp.Series, table)
	res.Source = exp
	return res
}

// writeOutputs sends whatever the series produced to the sinks. Sink failures
// are logged and do not change the series result.
func (p *Processor) writeOutputs(ctx context.Context, log *zap.Logger, res Result) {
	if len(res.Run.Decisions) > 0 && p.opts.OutputDir != "" {
		if err := p.writeProcessed(res); err != nil {
			log.Warn("failed to write processed csv", zap.Error(err))
		}
	}
	if res.Table.Len() > 0 && p.baselines != nil {
		if err := p.baselines.SaveDaily(ctx, res.Series, res.Table); err != nil {
			log.Warn("failed to save baselines", zap.Error(err))
		}
	}
	if res.Estimate != nil && p.estimates != nil {
		if err := p.estimates.WriteEstimate(ctx, p.runID, res.Series, res.Run, *res.Estimate); err != nil {
			log.Warn("failed to write indoor estimate", zap.Error(err))
		}
	}
	if p.summaries != nil {
		if err := p.summaries.SaveSummary(ctx, p.summaryRecord(res)); err != nil {
			log.Warn("failed to save summary", zap.Error(err))
		}
	}
	if p.publisher != nil {
		for _, t := range mqtt.Transitions(p.runID, res.Series, res.Run) {
			if err := p.publisher.PublishTransition(t); err != nil {
				log.Warn("failed to publish transition", zap.Error(err))
				break
			}
		}
		if err := p.publisher.PublishSummary(mqtt.SeriesSummary{
			RunID:         p.runID,
			Series:        res.Series,
			Policy:        p.opts.Policy.Name(),
			Summary:       res.Summary,
			OnShare:       res.OnShare,
			ElevatedShare: res.ElevatedShare,
			ErrorKind:     res.ErrorKind,
		}); err != nil {
			log.Warn("failed to publish summary", zap.Error(err))
		}
	}
}

func (p *Processor) writeProcessed(res Result) error {
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(p.opts.OutputDir, ProcessedName(res.Series)))
	if err != nil {
		return err
	}
	var indoor []float64
	if res.Estimate != nil {
		indoor = res.Estimate.Indoor
	}
	if err := csvio.WriteProcessed(f, res.Source, res.Run, indoor); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ProcessedName is the output file name for the export named name.
func ProcessedName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + processedSuffix
}

const processedSuffix = "_processed.csv"

func (p *Processor) summaryRecord(res Result) store.SummaryRecord {
	rec := store.SummaryRecord{
		RunID:         p.runID,
		Series:        res.Series,
		Policy:        p.opts.Policy.Name(),
		Readings:      res.Readings,
		Events:        res.Summary.Count,
		MeanDuration:  res.Summary.MeanDuration,
		MeanGap:       res.Summary.MeanGap,
		OnShare:       res.OnShare,
		ElevatedShare: res.ElevatedShare,
		ErrorKind:     string(res.ErrorKind),
	}
	if res.Summary.Open {
		t := res.Summary.OpenSince
		rec.OpenSince = &t
	}
	return rec
}

// ProcessFiles processes every path with at most Workers series in flight.
// A failing series never affects another; its error is carried in its
// Result. The returned error is non-nil only when ctx was cancelled, in
// which case unprocessed series carry the context error.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string) ([]Result, error) {
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = filepath.Base(path)
	}
	if p.tracker != nil {
		p.tracker.Register(names...)
	}
	p.publishSystem("STARTUP", "")
	p.logger.Info("batch started",
		zap.Int("series", len(paths)),
		zap.Int("workers", p.opts.Workers),
		zap.String("policy", p.opts.Policy.Name()))

	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, path := range paths {
		i, path := i, path // per-iteration copies (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Series: names[i], Err: err, ErrorKind: logic.KindOther}
				return nil
			}
			results[i] = p.ProcessFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		p.publishSystem("SHUTDOWN", "CANCELLED")
		return results, err
	}
	if p.tracker != nil {
		p.tracker.MarkComplete()
	}
	p.publishSystem("COMPLETE", "")

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("batch complete",
		zap.Int("series", len(results)),
		zap.Int("failed", failed))
	return results, nil
}

func (p *Processor) publishSystem(event, reason string) {
	if p.publisher == nil {
		return
	}
	ev := mqtt.SystemEvent{Timestamp: p.now(), Event: event, Reason: reason, RunID: p.runID}
	if p.tracker != nil {
		ev.RawPayload = status.FormatStatusEvent(p.tracker.Snapshot(), event, reason)
	}
	if err := p.publisher.PublishSystem(ev); err != nil {
		p.logger.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
	}
}

// DiscoverCSV returns the *.csv files directly inside dir, sorted by name.
// Processed outputs from earlier runs are skipped.
func DiscoverCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" || strings.HasSuffix(e.Name(), processedSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.New("no csv files found")
	}
	return paths, nil
}
