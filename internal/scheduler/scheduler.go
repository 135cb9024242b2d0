// Package scheduler runs the recurring jobs: pipeline runs during
// trading sessions, idempotency-key pruning, end-of-day parquet
// export and the nightly backup.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/modules/risk"
)

// HOSE continuous sessions: 09:00-11:30 and 13:00-14:45 local time.
// The ATO/ATC auction windows are excluded; LO orders placed there
// would queue with different matching semantics.
var sessions = []struct{ openMin, closeMin int }{
	{9 * 60, 11*60 + 30},
	{13 * 60, 14*60 + 45},
}

const jobTimeout = 10 * time.Minute

// RunTrigger starts one agent pipeline run.
type RunTrigger interface {
	TriggerRun(ctx context.Context) (string, error)
}

// Pruner deletes expired idempotency records.
type Pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// DayExporter writes one day of tick history to parquet.
type DayExporter interface {
	ExportDay(ctx context.Context, day time.Time) (int, error)
}

// Backuper produces and uploads one backup archive.
type Backuper interface {
	RunBackup(ctx context.Context) error
}

// Specs are the cron expressions for each job. An empty spec disables
// that job.
type Specs struct {
	Pipeline string // e.g. "*/15 9-14 * * MON-FRI"
	Prune    string // e.g. "0 */6 * * *"
	Export   string // e.g. "30 15 * * MON-FRI"
	Backup   string // e.g. "0 1 * * *"
}

// Scheduler owns the cron runner and the job wiring.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	calendar *risk.Calendar

	trigger  RunTrigger
	pruner   Pruner
	exporter DayExporter
	backuper Backuper

	log zerolog.Logger
	now func() time.Time
}

// New creates a scheduler. Cron expressions are evaluated in the
// given location (the exchange's local time).
func New(location *time.Location, calendar *risk.Calendar, trigger RunTrigger, pruner Pruner, exporter DayExporter, backuper Backuper, log zerolog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(location)),
		location: location,
		calendar: calendar,
		trigger:  trigger,
		pruner:   pruner,
		exporter: exporter,
		backuper: backuper,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      func() time.Time { return time.Now().In(location) },
	}
}

// Register adds every job with a non-empty spec.
func (s *Scheduler) Register(specs Specs) error {
	type entry struct {
		name string
		spec string
		fn   func()
	}
	for _, e := range []entry{
		{"pipeline", specs.Pipeline, s.runPipeline},
		{"idempotency_prune", specs.Prune, s.runPrune},
		{"parquet_export", specs.Export, s.runExport},
		{"backup", specs.Backup, s.runBackup},
	} {
		if e.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return err
		}
		s.log.Info().Str("job", e.name).Str("spec", e.spec).Msg("Job scheduled")
	}
	return nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// shouldRunPipeline gates pipeline runs to continuous trading
// sessions on trading days.
func (s *Scheduler) shouldRunPipeline(now time.Time) bool {
	now = now.In(s.location)
	if s.calendar != nil && !s.calendar.IsTradingDay(now) {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	for _, sess := range sessions {
		if minute >= sess.openMin && minute <= sess.closeMin {
			return true
		}
	}
	return false
}

func (s *Scheduler) runPipeline() {
	if s.trigger == nil {
		return
	}
	now := s.now()
	if !s.shouldRunPipeline(now) {
		s.log.Debug().Time("now", now).Msg("Outside trading session, pipeline run skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	runID, err := s.trigger.TriggerRun(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("Scheduled pipeline run failed")
		return
	}
	s.log.Info().Str("run_id", runID).Msg("Scheduled pipeline run completed")
}

func (s *Scheduler) runPrune() {
	if s.pruner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.pruner.PruneExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Idempotency prune failed")
		return
	}
	s.log.Info().Int64("pruned", n).Msg("Idempotency prune completed")
}

// runExport writes yesterday's partition: the job fires after the
// close, and the previous calendar day is the last complete one when
// it runs overnight.
func (s *Scheduler) runExport() {
	if s.exporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	day := s.now()
	if day.Hour() < 12 {
		day = day.AddDate(0, 0, -1)
	}

	n, err := s.exporter.ExportDay(ctx, day)
	if err != nil {
		s.log.Error().Err(err).Time("day", day).Msg("Parquet export failed")
		return
	}
	s.log.Info().Int("rows", n).Str("day", day.Format("2006-01-02")).Msg("Parquet export completed")
}

func (s *Scheduler) runBackup() {
	if s.backuper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.backuper.RunBackup(ctx); err != nil {
		s.log.Error().Err(err).Msg("Backup failed")
		return
	}
	s.log.Info().Msg("Backup completed")
}
