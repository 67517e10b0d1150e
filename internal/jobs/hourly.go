package jobs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/models"
)

// RunHourly checks dominate-tier sites on the hourly cadence. No snapshots,
// no competitor pass, no archive: those belong to the daily run; the hourly
// one only keeps the citation log and counters fresh for the top tier.
func (p *Pipeline) RunHourly(ctx context.Context) error {
	now := p.now().UTC()
	key := now.Format("2006-01-02T15")

	return p.engine.Execute(ctx, JobHourly, key, func(ctx context.Context, run *engine.Run) error {
		var sites []models.EligibleSite
		err := run.DoInto(ctx, "fetch-hourly-sites", &sites, func(ctx context.Context) (any, error) {
			all, err := p.store.ListActiveSites(ctx)
			if err != nil {
				return nil, err
			}
			return dueHourly(all), nil
		})
		if err != nil {
			return err
		}

		logrus.Infof("Hourly visibility run %s: %d sites due", key, len(sites))

		for _, site := range sites {
			site := site
			err := run.DoInto(ctx, fmt.Sprintf("hourly-check-%d", site.ID), nil, func(ctx context.Context) (any, error) {
				return p.checkSite(ctx, site, now)
			})
			if err != nil {
				return err
			}

			if err := run.Sleep(ctx, fmt.Sprintf("pause-%d", site.ID), p.rateDelay); err != nil {
				return err
			}
		}

		return nil
	})
}
