package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/modules/risk"
)

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) TriggerRun(ctx context.Context) (string, error) {
	f.calls++
	return "run-1", f.err
}

type fakePruner struct {
	calls int
	n     int64
}

func (f *fakePruner) PruneExpired(ctx context.Context) (int64, error) {
	f.calls++
	return f.n, nil
}

type fakeExporter struct {
	days []time.Time
	err  error
}

func (f *fakeExporter) ExportDay(ctx context.Context, day time.Time) (int, error) {
	f.days = append(f.days, day)
	return 42, f.err
}

type fakeBackuper struct {
	calls int
	err   error
}

func (f *fakeBackuper) RunBackup(ctx context.Context) error {
	f.calls++
	return f.err
}

func testScheduler(trigger RunTrigger) *Scheduler {
	calendar := risk.NewCalendar(risk.VietnamHolidays2026())
	return New(time.UTC, calendar, trigger, nil, nil, nil, zerolog.Nop())
}

func TestShouldRunPipelineSessionGating(t *testing.T) {
	s := testScheduler(nil)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"morning session", time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC), true},       // Monday
		{"lunch break", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), false},
		{"afternoon session", time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC), true},
		{"after close", time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC), false},
		{"before open", time.Date(2026, 8, 24, 8, 59, 0, 0, time.UTC), false},
		{"session open edge", time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), true},
		{"session close edge", time.Date(2026, 8, 24, 14, 45, 0, 0, time.UTC), true},
		{"saturday", time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC), false},
		{"national day holiday", time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.shouldRunPipeline(tt.at))
		})
	}
}

func TestRunPipelineSkippedOutsideSession(t *testing.T) {
	trigger := &fakeTrigger{}
	s := testScheduler(trigger)
	s.now = func() time.Time { return time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC) }

	s.runPipeline()
	assert.Zero(t, trigger.calls)
}

func TestRunPipelineFiresDuringSession(t *testing.T) {
	trigger := &fakeTrigger{}
	s := testScheduler(trigger)
	s.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) }

	s.runPipeline()
	assert.Equal(t, 1, trigger.calls)
}

func TestRunPipelineSurvivesTriggerError(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("screener exploded")}
	s := testScheduler(trigger)
	s.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) }

	assert.NotPanics(t, func() { s.runPipeline() })
}

func TestRunPruneInvokesPruner(t *testing.T) {
	pruner := &fakePruner{n: 7}
	s := New(time.UTC, nil, nil, pruner, nil, nil, zerolog.Nop())

	s.runPrune()
	assert.Equal(t, 1, pruner.calls)
}

func TestRunExportPicksLastCompleteDay(t *testing.T) {
	exporter := &fakeExporter{}
	s := New(time.UTC, nil, nil, nil, exporter, nil, zerolog.Nop())

	// Fired after the close: export today.
	s.now = func() time.Time { return time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC) }
	s.runExport()

	// Fired overnight: export yesterday.
	s.now = func() time.Time { return time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC) }
	s.runExport()

	require.Len(t, exporter.days, 2)
	assert.Equal(t, 24, exporter.days[0].Day())
	assert.Equal(t, 24, exporter.days[1].Day())
}

func TestRunBackupInvokesBackuper(t *testing.T) {
	backuper := &fakeBackuper{}
	s := New(time.UTC, nil, nil, nil, nil, backuper, zerolog.Nop())

	s.runBackup()
	assert.Equal(t, 1, backuper.calls)
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, nil, &fakeTrigger{}, nil, nil, nil, zerolog.Nop())
	assert.Error(t, s.Register(Specs{Pipeline: "not a cron spec"}))
}

func TestRegisterSkipsEmptySpecs(t *testing.T) {
	s := New(time.UTC, nil, &fakeTrigger{}, &fakePruner{}, nil, nil, zerolog.Nop())
	require.NoError(t, s.Register(Specs{Pipeline: "*/15 9-14 * * MON-FRI"}))
}

func TestMissingDependenciesAreNoOps(t *testing.T) {
	s := New(time.UTC, nil, nil, nil, nil, nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		s.runPipeline()
		s.runPrune()
		s.runExport()
		s.runBackup()
	})
}
