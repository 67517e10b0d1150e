package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/momentum"
	"github.com/citewatch/citewatch/internal/store"
)

// RunMonthly closes the previous month for every paid site: it upserts the
// monthly checkpoint and emits the report event the dispatcher turns into
// the monthly email. Runs on the 1st, so the checkpoint period is the month
// that just ended.
func (p *Pipeline) RunMonthly(ctx context.Context) error {
	now := p.now().UTC()
	monthEnd := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthStart := monthEnd.AddDate(0, -1, 0)
	period := monthStart.Format("2006-01")
	prevPeriod := monthStart.AddDate(0, -1, 0).Format("2006-01")

	return p.engine.Execute(ctx, JobMonthly, period, func(ctx context.Context, run *engine.Run) error {
		var sites []models.EligibleSite
		err := run.DoInto(ctx, "fetch-paid-sites", &sites, func(ctx context.Context) (any, error) {
			all, err := p.store.ListActiveSites(ctx)
			if err != nil {
				return nil, err
			}
			return paidOnly(all), nil
		})
		if err != nil {
			return err
		}

		logrus.Infof("Monthly checkpoint run %s: %d paid sites", period, len(sites))

		for _, site := range sites {
			site := site
			err := run.DoInto(ctx, fmt.Sprintf("checkpoint-%d", site.ID), nil, func(ctx context.Context) (any, error) {
				return p.checkpointSite(ctx, site, period, prevPeriod, monthStart, monthEnd)
			})
			if err != nil {
				return err
			}

			err = run.DoInto(ctx, fmt.Sprintf("report-%d", site.ID), nil, func(ctx context.Context) (any, error) {
				p.publish(ctx, events.Event{
					Type:   events.TypeMonthlyReport,
					SiteID: site.ID,
					OrgID:  site.OrgID,
					Domain: site.Domain,
					Period: period,
				})
				return map[string]string{"period": period}, nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// checkpointSite writes one site's checkpoint for the closed month. The
// first checkpoint ever baselines its change at zero, which intentionally
// reads as full growth in the first report.
func (p *Pipeline) checkpointSite(ctx context.Context, site models.EligibleSite, period, prevPeriod string, monthStart, monthEnd time.Time) (models.Checkpoint, error) {
	var cp models.Checkpoint

	prev, err := p.store.GetCheckpoint(ctx, site.ID, prevPeriod)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return cp, err
	}

	won, total, err := p.store.MonthlyQueryStats(ctx, site.ID, monthStart, monthEnd)
	if err != nil {
		return cp, err
	}

	gaining, err := p.store.CountGainingCompetitors(ctx, site.ID, site.Domain, monthStart, monthEnd)
	if err != nil {
		return cp, err
	}

	change := momentum.CheckpointChange(site.MomentumScore, prev)

	cp = models.Checkpoint{
		SiteID:             site.ID,
		Period:             period,
		MomentumScore:      site.MomentumScore,
		MomentumChange:     change,
		QueriesWon:         won,
		QueriesLost:        total - won,
		CompetitorsGaining: gaining,
		RecommendedAction:  momentum.RecommendAction(site.MomentumScore, change),
	}

	if err := p.store.UpsertCheckpoint(ctx, cp); err != nil {
		return cp, err
	}

	return cp, nil
}
