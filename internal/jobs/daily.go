package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/momentum"
)

// RunDaily checks every site whose tier is due today, snapshots its market
// share and momentum, and runs the competitor pass once the whole batch's
// writes are visible.
func (p *Pipeline) RunDaily(ctx context.Context) error {
	now := p.now().UTC()
	key := now.Format("2006-01-02")

	return p.engine.Execute(ctx, JobDaily, key, func(ctx context.Context, run *engine.Run) error {
		var sites []models.EligibleSite
		err := run.DoInto(ctx, "fetch-eligible-sites", &sites, func(ctx context.Context) (any, error) {
			all, err := p.store.ListActiveSites(ctx)
			if err != nil {
				return nil, err
			}
			return dueDaily(all, now), nil
		})
		if err != nil {
			return err
		}

		logrus.Infof("Daily visibility run %s: %d sites due", key, len(sites))

		results := make([]models.CheckResult, 0, len(sites))
		for _, site := range sites {
			var res models.CheckResult
			err := run.DoInto(ctx, fmt.Sprintf("check-%d", site.ID), &res, func(ctx context.Context) (any, error) {
				return p.checkSite(ctx, site, now)
			})
			if err != nil {
				return err
			}
			results = append(results, res)

			if err := run.Sleep(ctx, fmt.Sprintf("pause-%d", site.ID), p.rateDelay); err != nil {
				return err
			}

			err = run.DoInto(ctx, fmt.Sprintf("snapshot-%d", site.ID), nil, func(ctx context.Context) (any, error) {
				return p.snapshotSite(ctx, site, res, now)
			})
			if err != nil {
				return err
			}
		}

		// Second pass: competitor totals are derived from the same log the
		// checks above appended to, so deltas are only computed once every
		// site's writes for this cycle are in.
		for _, site := range sites {
			site := site
			err := run.DoInto(ctx, fmt.Sprintf("competitors-%d", site.ID), nil, func(ctx context.Context) (any, error) {
				return p.competitorPass(ctx, site)
			})
			if err != nil {
				return err
			}
		}

		return run.DoInto(ctx, "archive-"+key, nil, func(ctx context.Context) (any, error) {
			return p.archiveJSON(ctx, "checks/daily/"+key+".json", results), nil
		})
	})
}

// checkSite runs one probe call and persists its facts. A failed probe is
// recorded as the step's output and produces no writes; the next cadence
// retries naturally.
func (p *Pipeline) checkSite(ctx context.Context, site models.EligibleSite, now time.Time) (models.CheckResult, error) {
	res := p.probe.Check(ctx, site.ID, site.Domain)
	if !res.Success {
		logrus.Warnf("Citation check failed for %s, continuing batch", site.Domain)
		return res, nil
	}

	// Platforms already citing the site, read before this check's rows land
	// so first-time visibility per platform is detectable.
	prior, err := p.store.PlatformsCiting(ctx, site.Domain, res.CheckedAt)
	if err != nil {
		return res, err
	}

	if err := p.store.InsertObservations(ctx, observationsFrom(site.Domain, res)); err != nil {
		return res, err
	}

	if err := p.store.RefreshSiteCounters(ctx, site.ID, site.Domain, weekStart(now)); err != nil {
		return res, err
	}

	if err := p.store.TouchSiteChecked(ctx, site.ID, res.CheckedAt); err != nil {
		return res, err
	}

	for _, pr := range res.Results {
		if pr.Cited && !prior[pr.Platform] {
			logrus.Infof("New citation for %s on %s", site.Domain, pr.Platform)
			p.publish(ctx, events.Event{
				Type:     events.TypeNewCitation,
				SiteID:   site.ID,
				OrgID:    site.OrgID,
				Domain:   site.Domain,
				Platform: pr.Platform,
			})
			// One alert per platform even when several queries cited it.
			prior[pr.Platform] = true
		}
	}

	return res, nil
}

// snapshotSite recomputes the momentum score, upserts today's market-share
// snapshot and emits a drop alert when queries won regressed past the
// threshold.
func (p *Pipeline) snapshotSite(ctx context.Context, site models.EligibleSite, res models.CheckResult, now time.Time) (map[string]int, error) {
	if !res.Success {
		// A failed check has no market-share reading; writing a zero-won
		// snapshot here would raise a false drop alert.
		return map[string]int{"skipped": 1}, nil
	}

	won, total := 0, len(res.Results)
	for _, pr := range res.Results {
		if pr.Cited {
			won++
		}
	}

	activity, err := p.store.WeeklyActivity(ctx, site.ID, site.Domain, now)
	if err != nil {
		return nil, err
	}

	score := momentum.Score(activity)
	delta := score - site.MomentumScore

	if err := p.store.UpdateSiteMomentum(ctx, site.ID, score, delta); err != nil {
		return nil, err
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	err = p.store.UpsertSnapshot(ctx, models.Snapshot{
		SiteID:        site.ID,
		Period:        day,
		QueriesWon:    won,
		QueriesTotal:  total,
		MomentumScore: score,
	})
	if err != nil {
		return nil, err
	}

	snaps, err := p.store.LatestSnapshots(ctx, site.ID, 2)
	if err != nil {
		return nil, err
	}

	if drop, ok := momentum.DetectDrop(snaps, p.dropThreshold); ok {
		logrus.Infof("Visibility drop for %s: %d -> %d", site.Domain, drop.Previous, drop.Current)
		p.publish(ctx, events.Event{
			Type:     events.TypeVisibilityDrop,
			SiteID:   site.ID,
			OrgID:    site.OrgID,
			Domain:   site.Domain,
			Previous: drop.Previous,
			Current:  drop.Current,
			Delta:    drop.Magnitude,
		})
	}

	return map[string]int{"score": score, "won": won, "total": total}, nil
}

// competitorPass recounts each tracked competitor's citations from the log
// and alerts on strictly positive deltas. Recomputing from the log makes a
// replayed pass converge: the second recount yields delta zero and no event.
func (p *Pipeline) competitorPass(ctx context.Context, site models.EligibleSite) (map[string]int, error) {
	comps, err := p.store.ListCompetitors(ctx, site.ID)
	if err != nil {
		return nil, err
	}

	gained := 0
	for _, comp := range comps {
		total, err := p.store.CountPair(ctx, site.Domain, comp.Domain, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}

		delta := total - comp.TotalCitations
		if delta > 0 {
			logrus.Infof("Competitor %s of %s gained %d citations", comp.Domain, site.Domain, delta)
			p.publish(ctx, events.Event{
				Type:       events.TypeCompetitorGain,
				SiteID:     site.ID,
				OrgID:      site.OrgID,
				Domain:     site.Domain,
				Competitor: comp.Domain,
				Previous:   comp.TotalCitations,
				Current:    total,
				Delta:      delta,
			})
			gained++
			// Alerted deltas reset so the same gain is not re-alerted.
			delta = 0
		}

		if err := p.store.UpdateCompetitor(ctx, comp.ID, total, delta); err != nil {
			return nil, err
		}
	}

	return map[string]int{"checked": len(comps), "gained": gained}, nil
}
