// Package jobs wires the pipeline components into the four scheduled
// pipelines: the daily and hourly visibility checks, the weekly benchmark
// rollup and the monthly checkpoint report. Each pipeline executes as one
// durable run whose steps are named per entity, so a crashed run resumes at
// the first unattempted site instead of redoing probe calls or re-emitting
// alerts.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/archive"
	"github.com/citewatch/citewatch/internal/benchmark"
	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/plans"
	"github.com/citewatch/citewatch/internal/probe"
)

// Job names; the dedupe key per run is derived from the cadence period.
const (
	JobDaily   = "daily-visibility"
	JobHourly  = "hourly-visibility"
	JobWeekly  = "weekly-benchmarks"
	JobMonthly = "monthly-checkpoints"
)

// Store is the persistence surface the pipelines consume. *store.Store
// satisfies it. The embedded benchmark.Source is the observation-query
// subset the weekly aggregation reads.
type Store interface {
	benchmark.Source

	ListActiveSites(ctx context.Context) ([]models.EligibleSite, error)

	InsertObservations(ctx context.Context, obs []models.Observation) error
	PlatformsCiting(ctx context.Context, domain string, before time.Time) (map[string]bool, error)
	RefreshSiteCounters(ctx context.Context, siteID int64, domain string, weekStart time.Time) error
	TouchSiteChecked(ctx context.Context, siteID int64, checkedAt time.Time) error
	RolloverWeeklyCounters(ctx context.Context, weekStart time.Time) (int64, error)

	UpdateSiteMomentum(ctx context.Context, siteID int64, score, delta int) error
	WeeklyActivity(ctx context.Context, siteID int64, domain string, now time.Time) (models.WeeklyActivity, error)
	UpsertSnapshot(ctx context.Context, snap models.Snapshot) error
	LatestSnapshots(ctx context.Context, siteID int64, limit int) ([]models.Snapshot, error)
	MonthlyQueryStats(ctx context.Context, siteID int64, from, to time.Time) (int, int, error)

	ListCompetitors(ctx context.Context, siteID int64) ([]models.Competitor, error)
	UpdateCompetitor(ctx context.Context, id int64, total, change int) error
	CountPair(ctx context.Context, scanned, recommended string, from, to time.Time) (int, error)
	CountGainingCompetitors(ctx context.Context, siteID int64, domain string, from, to time.Time) (int, error)

	DistinctCategories(ctx context.Context) ([]string, error)
	DomainsForCategory(ctx context.Context, category string) ([]string, error)
	UpsertBenchmark(ctx context.Context, b models.Benchmark) error

	GetCheckpoint(ctx context.Context, siteID int64, period string) (*models.Checkpoint, error)
	UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

// Pipeline runs the scheduled jobs.
type Pipeline struct {
	store  Store
	probe  probe.Checker
	bus    events.Bus
	engine *engine.Engine
	agg    *benchmark.Aggregator
	arc    archive.Archive

	rateDelay     time.Duration
	dropThreshold int

	now func() time.Time
}

// New creates the pipeline. rateDelay is the pause inserted after every
// probe call to stay under the external capability's rate limit.
func New(st Store, checker probe.Checker, bus events.Bus, eng *engine.Engine, arc archive.Archive, rateDelay time.Duration, dropThreshold int) *Pipeline {
	return &Pipeline{
		store:         st,
		probe:         checker,
		bus:           bus,
		engine:        eng,
		agg:           benchmark.New(st),
		arc:           arc,
		rateDelay:     rateDelay,
		dropThreshold: dropThreshold,
		now:           time.Now,
	}
}

// publish hands an alert event to the bus. Publish failures are logged, not
// propagated: a lost alert is recovered by the next cycle's detection, and
// must never fail the counter updates that already succeeded.
func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if err := p.bus.Publish(ctx, ev); err != nil {
		logrus.Errorf("Failed to publish %s for site %d: %v", ev.Type, ev.SiteID, err)
	}
}

// archiveJSON stores a payload best-effort.
func (p *Pipeline) archiveJSON(ctx context.Context, name string, payload any) map[string]string {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("Failed to marshal archive payload %s: %v", name, err)
		return map[string]string{"archived": "false"}
	}

	if err := p.arc.Store(ctx, name, data); err != nil {
		logrus.Errorf("Failed to archive %s: %v", name, err)
		return map[string]string{"archived": "false"}
	}

	return map[string]string{"archived": "true"}
}

// dueDaily filters active sites by the daily scheduling policy.
func dueDaily(sites []models.EligibleSite, now time.Time) []models.EligibleSite {
	due := make([]models.EligibleSite, 0, len(sites))
	for _, s := range sites {
		if plans.IsDueDaily(plans.Normalize(s.Plan), now) {
			due = append(due, s)
		}
	}
	return due
}

// dueHourly filters active sites by the hourly scheduling policy.
func dueHourly(sites []models.EligibleSite) []models.EligibleSite {
	due := make([]models.EligibleSite, 0, len(sites))
	for _, s := range sites {
		if plans.IsDueHourly(plans.Normalize(s.Plan)) {
			due = append(due, s)
		}
	}
	return due
}

// paidOnly filters active sites down to paying tiers.
func paidOnly(sites []models.EligibleSite) []models.EligibleSite {
	paid := make([]models.EligibleSite, 0, len(sites))
	for _, s := range sites {
		if plans.IsPaid(plans.Normalize(s.Plan)) {
			paid = append(paid, s)
		}
	}
	return paid
}

// weekStart returns the UTC midnight of the Monday of now's week.
func weekStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// observationsFrom flattens a check result into append-only citation facts:
// one row per (platform, recommended domain) the platform's answer named.
func observationsFrom(scannedDomain string, res models.CheckResult) []models.Observation {
	var obs []models.Observation
	for _, pr := range res.Results {
		for _, rec := range pr.RecommendedDomains {
			obs = append(obs, models.Observation{
				ScannedDomain:     scannedDomain,
				RecommendedDomain: rec,
				Platform:          pr.Platform,
				QueryText:         pr.Query,
				CitationURL:       pr.CitationURL,
				ObservedAt:        res.CheckedAt,
			})
		}
	}
	return obs
}
