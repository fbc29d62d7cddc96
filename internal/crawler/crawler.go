// Package crawler drives one ingestion run: the full events page first, then one
// "load more" batch per weekly date bucket. Only the page fetch is fatal; every batch
// failure is logged and skipped. The fetcher and store are always closed when Run returns.
package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmoraes/event-harvester/internal/archive"
	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/extractor"
	"github.com/vmoraes/event-harvester/internal/fetcher"
	"github.com/vmoraes/event-harvester/internal/ingest"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/metrics"
	"github.com/vmoraes/event-harvester/internal/notifier"
	"github.com/vmoraes/event-harvester/internal/store"
)

const (
	DefaultBatchDates    = 3
	DefaultBatchInterval = 7 * 24 * time.Hour
)

// Fetcher is the subset of *fetcher.Fetcher the driver needs.
type Fetcher interface {
	FetchPage(ctx context.Context) (string, error)
	FetchBatch(ctx context.Context, action, startDate string, offset int) (*fetcher.BatchPayload, error)
	Close() error
}

// FatalError aborts a run.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("run aborted during %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Config controls the batch horizon.
type Config struct {
	BatchDates    int
	BatchInterval time.Duration
	// Action is the load-more action name sent with each batch request.
	Action string
}

// Deps are the collaborators of a run. Archive, Notifier and Metrics are optional.
type Deps struct {
	Fetcher   Fetcher
	Extractor *extractor.Extractor
	Ingest    *ingest.Coordinator
	Store     store.Store
	Archive   archive.Archiver
	Notifier  notifier.Notifier
	Metrics   *metrics.Metrics
}

// Summary describes a finished run.
type Summary struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	PagesFetched   int           `json:"pages_fetched"`
	BatchesFetched int           `json:"batches_fetched"`
	BatchesSkipped int           `json:"batches_skipped"`
	Ingest         ingest.Result `json:"ingest"`
	Counts         store.Counts  `json:"counts"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Driver runs the pagination sequence.
type Driver struct {
	deps  Deps
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

// New returns a Driver. Zero Config fields take their defaults.
func New(deps Deps, cfg Config, log *logger.Logger) *Driver {
	if cfg.BatchDates <= 0 {
		cfg.BatchDates = DefaultBatchDates
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if cfg.Action == "" {
		cfg.Action = fetcher.LoadMoreAction
	}
	if deps.Archive == nil {
		deps.Archive = archive.Noop{}
	}
	return &Driver{
		deps:  deps,
		cfg:   cfg,
		log:   log.With(logger.Fields{"component": "crawler"}),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Run executes one ingestion run. The fetcher and store are closed before it returns,
// whatever the outcome; a panic inside the run is returned as a *FatalError.
func (d *Driver) Run(ctx context.Context) (summary Summary, err error) {
	summary.RunID = d.newID()
	// Buckets follow the calendar date of the clock's own zone, not UTC.
	started := d.now()
	summary.StartedAt = started.UTC()
	log := d.log.With(logger.Fields{"run_id": summary.RunID})

	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Stage: "run", Err: fmt.Errorf("panic: %v", r)}
		}
		d.release(log)

		summary.FinishedAt = d.now().UTC()
		d.deps.Metrics.RunFinished(summary.Duration(), summary.FinishedAt, err == nil)
		if err != nil {
			log.Error("Run failed", logger.Fields{"elapsed": summary.Duration().String()}, err)
			return
		}
		log.Info("Run finished", logger.Fields{
			"elapsed":   summary.Duration().String(),
			"committed": summary.Ingest.Committed,
			"failed":    summary.Ingest.Failed,
		})
	}()

	log.Info("Run started", nil)
	today := event.FormatDate(event.Truncate(started))

	page, err := d.deps.Fetcher.FetchPage(ctx)
	d.deps.Metrics.Fetch("page", err)
	if err != nil {
		return summary, &FatalError{Stage: "page fetch", Err: err}
	}
	summary.PagesFetched++
	d.archive(ctx, log, summary.RunID, "page", today, page)
	summary.Ingest.Add(d.process(ctx, log, page))

	for _, date := range event.WeeklyDates(started, d.cfg.BatchDates, d.cfg.BatchInterval) {
		if err := ctx.Err(); err != nil {
			return summary, &FatalError{Stage: "batch fetch", Err: err}
		}

		startDate := event.FormatDate(date)
		// Offset stays at zero: one page per date bucket.
		payload, err := d.deps.Fetcher.FetchBatch(ctx, d.cfg.Action, startDate, 0)
		d.deps.Metrics.Fetch("batch", err)
		if err != nil {
			summary.BatchesSkipped++
			log.Warn("Batch fetch failed, skipping date", logger.Fields{
				"start_date": startDate,
				"error":      err.Error(),
			})
			continue
		}
		if strings.TrimSpace(payload.HTML) == "" {
			summary.BatchesSkipped++
			log.Warn("Batch has no content, skipping date", logger.Fields{"start_date": startDate})
			continue
		}

		summary.BatchesFetched++
		d.archive(ctx, log, summary.RunID, "batch", startDate, payload.HTML)
		summary.Ingest.Add(d.process(ctx, log, payload.HTML))
	}

	counts, cerr := d.deps.Store.Counts(ctx)
	if cerr != nil {
		log.Warn("Could not count stored rows", logger.Fields{"error": cerr.Error()})
	}
	summary.Counts = counts
	return summary, nil
}

// process extracts and ingests one markup document, then announces what was committed.
func (d *Driver) process(ctx context.Context, log *logger.Logger, markup string) ingest.Result {
	candidates := d.deps.Extractor.Extract(markup)
	res := d.deps.Ingest.Ingest(ctx, candidates)

	if d.deps.Notifier != nil && len(res.Sightings) > 0 {
		if err := d.deps.Notifier.Notify(ctx, res.Sightings); err != nil {
			log.Warn("Notification failed", logger.Fields{
				"sightings": len(res.Sightings),
				"error":     err.Error(),
			})
		}
	}
	return res
}

func (d *Driver) archive(ctx context.Context, log *logger.Logger, runID, kind, date, markup string) {
	if err := d.deps.Archive.Put(ctx, runID, kind, date, []byte(markup)); err != nil {
		log.Warn("Archiving payload failed", logger.Fields{
			"kind":  kind,
			"date":  date,
			"error": err.Error(),
		})
	}
}

func (d *Driver) release(log *logger.Logger) {
	if err := d.deps.Fetcher.Close(); err != nil {
		log.Warn("Closing fetcher failed", logger.Fields{"error": err.Error()})
	}
	if err := d.deps.Store.Close(); err != nil {
		log.Warn("Closing store failed", logger.Fields{"error": err.Error()})
	}
}
