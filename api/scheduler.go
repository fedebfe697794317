/*
scheduler.go - Background recognition and dunning runs

PURPOSE:
  Runs the two periodic jobs of the engine without external cron:
  - Dunning: scans overdue invoices and fires due reminder steps
  - Recognition: generates draft journals for the current month

DESIGN:
  One goroutine per job, driven by a ticker. Both jobs are idempotent at
  the domain layer (dunning steps are recorded per invoice, recognition
  skips periods that already have an entry), so overlapping or repeated
  runs are harmless. Stop() closes the stop channel and waits for both
  goroutines to drain.

  Every sweep writes a run record per tenant (running, then completed or
  failed with the error text). GET /api/runs lists them.

TENANCY:
  Jobs iterate a fixed tenant list registered at startup. A production
  deployment would read the tenant set from the store.

SEE ALSO:
  - billing/collections.go: dunning semantics
  - recognition/schedule.go: journal generation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/recognition"
)

// Scheduler drives the periodic collections and recognition jobs.
type Scheduler struct {
	Tracker     *billing.Tracker
	Recognition *recognition.Runner
	Runs        ledger.RunStore
	Tenants     []ledger.TenantID

	// Intervals control how often each job wakes. Zero disables the job.
	DunningInterval     time.Duration
	RecognitionInterval time.Duration

	log  zerolog.Logger
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler returns a scheduler with daily dunning and daily
// recognition sweeps. Every sweep leaves a run record per tenant.
func NewScheduler(tracker *billing.Tracker, runner *recognition.Runner, runs ledger.RunStore, tenants []ledger.TenantID, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Tracker:             tracker,
		Recognition:         runner,
		Runs:                runs,
		Tenants:             tenants,
		DunningInterval:     24 * time.Hour,
		RecognitionInterval: 24 * time.Hour,
		log:                 log,
		stop:                make(chan struct{}),
	}
}

// Start launches the job goroutines. Each job also runs once at startup
// so a restarted server catches up immediately.
func (s *Scheduler) Start() {
	if s.DunningInterval > 0 {
		s.wg.Add(1)
		go s.loop("dunning", s.DunningInterval, s.runDunning)
	}
	if s.RecognitionInterval > 0 {
		s.wg.Add(1)
		go s.loop("recognition", s.RecognitionInterval, s.runRecognition)
	}
}

// Stop signals the jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(name string, interval time.Duration, job func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	job(context.Background())
	for {
		select {
		case <-ticker.C:
			job(context.Background())
		case <-s.stop:
			s.log.Debug().Str("job", name).Msg("scheduler job stopped")
			return
		}
	}
}

func (s *Scheduler) runDunning(ctx context.Context) {
	today := ledger.Today()
	for _, tenant := range s.Tenants {
		run := s.beginRun(ctx, tenant, "dunning", ledger.Period{Start: today, End: today})

		events, err := s.Tracker.RunDunning(ctx, tenant, today)
		s.finishRun(ctx, run, len(events), err)
		if err != nil {
			s.log.Error().Err(err).Str("tenant", string(tenant)).Msg("dunning run failed")
			continue
		}
		if len(events) > 0 {
			s.log.Info().
				Str("tenant", string(tenant)).
				Int("events", len(events)).
				Msg("dunning steps fired")
		}
	}
}

func (s *Scheduler) runRecognition(ctx context.Context) {
	today := ledger.Today()
	period := ledger.MonthPeriod(today)
	for _, tenant := range s.Tenants {
		run := s.beginRun(ctx, tenant, "recognition", period)

		entries, err := s.Recognition.Run(ctx, tenant, period, today)
		s.finishRun(ctx, run, len(entries), err)
		if err != nil {
			s.log.Error().Err(err).Str("tenant", string(tenant)).Msg("recognition run failed")
			continue
		}
		if len(entries) > 0 {
			s.log.Info().
				Str("tenant", string(tenant)).
				Str("period", period.Start.String()+".."+period.End.String()).
				Int("journals", len(entries)).
				Msg("draft journals generated")
		}
	}
}

// beginRun opens a running record for one tenant sweep. Record failures
// never block the job itself.
func (s *Scheduler) beginRun(ctx context.Context, tenant ledger.TenantID, job string, period ledger.Period) ledger.RunRecord {
	run := ledger.RunRecord{
		ID:        ledger.NewID("run"),
		TenantID:  tenant,
		Job:       job,
		Period:    period,
		Status:    ledger.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.Runs.SaveRunRecord(ctx, run); err != nil {
		s.log.Error().Err(err).Str("job", job).Msg("failed to save run record")
	}
	return run
}

func (s *Scheduler) finishRun(ctx context.Context, run ledger.RunRecord, items int, jobErr error) {
	now := time.Now().UTC()
	run.Items = items
	run.CompletedAt = &now
	if jobErr != nil {
		run.Status = ledger.RunFailed
		run.Error = jobErr.Error()
	} else {
		run.Status = ledger.RunCompleted
	}
	if err := s.Runs.SaveRunRecord(ctx, run); err != nil {
		s.log.Error().Err(err).Str("job", run.Job).Msg("failed to save run record")
	}
}
