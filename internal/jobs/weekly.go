package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/benchmark"
	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/models"
)

// RunWeekly aggregates the trailing week of observations into the "all"
// benchmark row plus one row per site category, then rolls the weekly site
// counters over. Every row is upserted under the run's ISO-week period, so
// re-running the job for an already-processed week converges on one row per
// (period, category).
func (p *Pipeline) RunWeekly(ctx context.Context) error {
	now := p.now().UTC()
	period := benchmark.PeriodKey(now)
	windowStart := now.AddDate(0, 0, -7)

	return p.engine.Execute(ctx, JobWeekly, period, func(ctx context.Context, run *engine.Run) error {
		var all models.Benchmark
		err := run.DoInto(ctx, "benchmark-all", &all, func(ctx context.Context) (any, error) {
			return p.benchmarkCategory(ctx, period, "all", windowStart, nil)
		})
		if err != nil {
			return err
		}

		var categories []string
		err = run.DoInto(ctx, "categories", &categories, func(ctx context.Context) (any, error) {
			return p.store.DistinctCategories(ctx)
		})
		if err != nil {
			return err
		}

		logrus.Infof("Weekly benchmark run %s: %d observations, %d categories", period, all.TotalRecommendations, len(categories))

		for _, category := range categories {
			category := category
			err := run.DoInto(ctx, "benchmark-"+category, nil, func(ctx context.Context) (any, error) {
				domains, err := p.store.DomainsForCategory(ctx, category)
				if err != nil {
					return nil, err
				}
				if len(domains) == 0 {
					// A category without site domains has no market segment
					// to roll up; skipping is normal, not an error.
					return map[string]string{"skipped": "no domains in category"}, nil
				}
				return p.benchmarkCategory(ctx, period, category, windowStart, domains)
			})
			if err != nil {
				return err
			}
		}

		err = run.DoInto(ctx, "rollover-counters", nil, func(ctx context.Context) (any, error) {
			rolled, err := p.store.RolloverWeeklyCounters(ctx, weekStart(now))
			if err != nil {
				return nil, err
			}
			logrus.Infof("Rolled weekly counters for %d sites", rolled)
			return map[string]int64{"sites": rolled}, nil
		})
		if err != nil {
			return err
		}

		return run.DoInto(ctx, "archive-"+period, nil, func(ctx context.Context) (any, error) {
			return p.archiveJSON(ctx, "benchmarks/"+period+".json", all), nil
		})
	})
}

// benchmarkCategory computes and upserts one (period, category) rollup.
func (p *Pipeline) benchmarkCategory(ctx context.Context, period, category string, windowStart time.Time, domains []string) (models.Benchmark, error) {
	b, err := p.agg.Aggregate(ctx, windowStart, domains)
	if err != nil {
		return b, err
	}

	b.Period = period
	b.Category = category

	if err := p.store.UpsertBenchmark(ctx, b); err != nil {
		return b, err
	}

	return b, nil
}
