// Package scheduler drives the four pipeline cadences off one cron runner.
// Every entry wraps its pipeline in a fresh context and logs failures instead
// of propagating them: a failed cycle is retried by the pipeline's own retry
// budget first and by the next cadence tick after that.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs is the pipeline surface the scheduler triggers.
type Jobs interface {
	RunDaily(ctx context.Context) error
	RunHourly(ctx context.Context) error
	RunWeekly(ctx context.Context) error
	RunMonthly(ctx context.Context) error
}

// Cron expressions with a seconds field.
const (
	dailySpec   = "0 0 10 * * *"   // every day 10:00 UTC
	hourlySpec  = "0 0 * * * *"    // top of every hour
	weeklySpec  = "0 0 2 * * MON"  // Monday 02:00 UTC, after Sunday's daily run
	monthlySpec = "0 0 10 1 * *"   // 1st of the month 10:00 UTC
)

// Service owns the cron runner.
type Service struct {
	jobs Jobs
	cron *cron.Cron
}

// NewService creates the scheduler around the given pipelines.
func NewService(jobs Jobs) *Service {
	return &Service{
		jobs: jobs,
		cron: cron.New(cron.WithSeconds()),
	}
}

// Start registers the four cadences and starts the runner.
func (s *Service) Start() error {
	entries := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"daily visibility", dailySpec, s.jobs.RunDaily},
		{"hourly visibility", hourlySpec, s.jobs.RunHourly},
		{"weekly benchmarks", weeklySpec, s.jobs.RunWeekly},
		{"monthly checkpoints", monthlySpec, s.jobs.RunMonthly},
	}

	for _, entry := range entries {
		entry := entry
		_, err := s.cron.AddFunc(entry.spec, func() {
			logrus.Infof("Starting scheduled %s run", entry.name)
			if err := entry.run(context.Background()); err != nil {
				logrus.Errorf("Scheduled %s run failed: %v", entry.name, err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	logrus.Info("Scheduler started with daily, hourly, weekly and monthly cadences")
	return nil
}

// Stop stops the runner; already-running jobs finish on their own.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
