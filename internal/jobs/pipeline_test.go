package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citewatch/citewatch/internal/archive"
	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/momentum"
)

func newTestPipeline(st *memStore, pr *stubProbe, bus *recBus, at time.Time) *Pipeline {
	eng := engine.New(newMemRunStore(), 1, 0)
	p := New(st, pr, bus, eng, archive.Disabled{}, 0, momentum.DefaultDropThreshold)
	p.now = func() time.Time { return at }
	return p
}

func eligible(id, orgID int64, domain, plan, category string) models.EligibleSite {
	return models.EligibleSite{
		Site: models.Site{ID: id, OrgID: orgID, Domain: domain, Category: category, Status: "active"},
		Plan: plan,
	}
}

func citedResult(platform string, recommended ...string) models.PlatformResult {
	return models.PlatformResult{Platform: platform, Cited: true, RecommendedDomains: recommended, Query: "best crm tool"}
}

func missedResult(platform string, recommended ...string) models.PlatformResult {
	return models.PlatformResult{Platform: platform, Cited: false, RecommendedDomains: recommended, Query: "best crm tool"}
}

func TestRunDaily_FullCycle(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{
		eligible(1, 100, "acme.com", "dominate", "crm"),
		eligible(2, 200, "freebie.io", "free", ""),
	}
	st.competitors = []*models.Competitor{
		{ID: 7, SiteID: 1, Domain: "rival.com"},
	}

	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com": {
			Success:   true,
			CheckedAt: now,
			Results: []models.PlatformResult{
				citedResult("chatgpt", "acme.com", "rival.com"),
				missedResult("perplexity", "rival.com"),
			},
		},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunDaily(context.Background()))

	// Only the dominate site is due; the free site is never checked.
	assert.Equal(t, 1, pr.callCount())

	// One observation per (platform, recommended domain).
	assert.Len(t, st.observations, 3)

	site := st.site(1)
	assert.Equal(t, 1, site.TotalCitations)
	assert.Equal(t, 1, site.CitationsThisWeek)
	require.NotNil(t, site.LastCheckedAt)

	// First citation ever on chatgpt raises one new-citation alert.
	newCitations := bus.ofType(events.TypeNewCitation)
	require.Len(t, newCitations, 1)
	assert.Equal(t, "chatgpt", newCitations[0].Platform)
	assert.Equal(t, "acme.com", newCitations[0].Domain)
	assert.Equal(t, int64(100), newCitations[0].OrgID)

	// Snapshot for today with the queries the probe reported.
	snaps, err := st.LatestSnapshots(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].QueriesWon)
	assert.Equal(t, 2, snaps[0].QueriesTotal)

	// The recount sees rival.com twice; the tracked competitor alerts once
	// and its stored delta resets to zero.
	gains := bus.ofType(events.TypeCompetitorGain)
	require.Len(t, gains, 1)
	assert.Equal(t, "rival.com", gains[0].Competitor)
	assert.Equal(t, 2, gains[0].Delta)
	comps, _ := st.ListCompetitors(context.Background(), 1)
	require.Len(t, comps, 1)
	assert.Equal(t, 2, comps[0].TotalCitations)
	assert.Equal(t, 0, comps[0].CitationsChange)

	// A single snapshot can never look like a drop.
	assert.Empty(t, bus.ofType(events.TypeVisibilityDrop))
}

func TestRunDaily_RerunSameDayIsNoOp(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{eligible(1, 100, "acme.com", "dominate", "")}
	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com": {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("chatgpt", "acme.com")}},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunDaily(context.Background()))
	require.NoError(t, p.RunDaily(context.Background()))

	// The second invocation finds the completed run and does nothing.
	assert.Equal(t, 1, pr.callCount())
	assert.Len(t, st.observations, 1)
	assert.Len(t, bus.ofType(events.TypeNewCitation), 1)
}

func TestRunDaily_RetryDoesNotRepeatCompletedSteps(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{
		eligible(1, 100, "acme.com", "dominate", ""),
		eligible(2, 100, "beta.io", "dominate", ""),
	}
	// The first snapshot write fails, failing attempt one mid-run.
	st.failSnapshotUpserts = 1

	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com": {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("chatgpt", "acme.com")}},
		"beta.io":  {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("gemini", "beta.io")}},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunDaily(context.Background()))

	// The retry replays the cached check outputs instead of re-probing, so
	// each site is probed exactly once and alerted exactly once.
	assert.Equal(t, 2, pr.callCount())
	assert.Len(t, st.observations, 2)
	assert.Len(t, bus.ofType(events.TypeNewCitation), 2)

	// Both snapshots landed once the retry got past the injected failure.
	acme, _ := st.LatestSnapshots(context.Background(), 1, 2)
	beta, _ := st.LatestSnapshots(context.Background(), 2, 2)
	assert.Len(t, acme, 1)
	assert.Len(t, beta, 1)
}

func TestRunDaily_ProbeFailureSkipsWrites(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{
		eligible(1, 100, "down.example", "dominate", ""),
		eligible(2, 100, "up.example", "dominate", ""),
	}
	pr := &stubProbe{results: map[string]models.CheckResult{
		"down.example": {Success: false, CheckedAt: now},
		"up.example":   {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("chatgpt", "up.example")}},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunDaily(context.Background()))

	// The failed site produced no facts and the batch still finished.
	for _, o := range st.observations {
		assert.NotEqual(t, "down.example", o.ScannedDomain)
	}
	assert.Nil(t, st.site(1).LastCheckedAt)
	assert.NotNil(t, st.site(2).LastCheckedAt)

	// No market-share snapshot for the failed check either.
	assert.Empty(t, st.snapshots[1])
	assert.Len(t, st.snapshots[2], 1)
}

func TestRunDaily_DropDetection(t *testing.T) {
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{eligible(1, 100, "acme.com", "dominate", "")}
	st.snapshots[1] = map[string]models.Snapshot{
		dayKey(yesterday): {SiteID: 1, Period: yesterday, QueriesWon: 10, QueriesTotal: 10, MomentumScore: 80},
	}

	var results []models.PlatformResult
	for i := 0; i < 7; i++ {
		results = append(results, citedResult("chatgpt", "acme.com"))
	}
	for i := 0; i < 3; i++ {
		results = append(results, missedResult("perplexity", "rival.com"))
	}
	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com": {Success: true, CheckedAt: now, Results: results},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunDaily(context.Background()))

	drops := bus.ofType(events.TypeVisibilityDrop)
	require.Len(t, drops, 1)
	assert.Equal(t, 10, drops[0].Previous)
	assert.Equal(t, 7, drops[0].Current)
	assert.Equal(t, 3, drops[0].Delta)
}

func TestRunHourly_TopTierOnly(t *testing.T) {
	now := time.Date(2026, 8, 21, 14, 30, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{
		eligible(1, 100, "acme.com", "dominate", ""),
		eligible(2, 200, "scout.io", "scout", ""),
		eligible(3, 300, "legacy.io", "agency", ""), // legacy alias of dominate
	}
	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com":  {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("chatgpt", "acme.com")}},
		"legacy.io": {Success: true, CheckedAt: now, Results: []models.PlatformResult{citedResult("gemini", "legacy.io")}},
	}}
	bus := &recBus{}

	p := newTestPipeline(st, pr, bus, now)
	require.NoError(t, p.RunHourly(context.Background()))

	assert.Equal(t, 2, pr.callCount())
	assert.Len(t, st.observations, 2)

	// The hourly cadence never snapshots.
	assert.Empty(t, st.snapshots[1])
}

func TestRunWeekly_BenchmarksAndRollover(t *testing.T) {
	now := time.Date(2026, 8, 21, 2, 0, 0, 0, time.UTC) // ISO week 2026-W34

	st := newMemStore()
	paused := eligible(3, 300, "dormant.io", "command", "crm")
	paused.Status = "paused"
	st.sites = []models.EligibleSite{
		eligible(1, 100, "acme.com", "command", "crm"),
		eligible(2, 200, "other.io", "scout", ""),
		paused,
	}
	inWindow := now.AddDate(0, 0, -2)
	st.observations = []models.Observation{
		{ScannedDomain: "acme.com", RecommendedDomain: "acme.com", Platform: "chatgpt", ObservedAt: inWindow},
		{ScannedDomain: "acme.com", RecommendedDomain: "rival.com", Platform: "chatgpt", ObservedAt: inWindow},
		{ScannedDomain: "other.io", RecommendedDomain: "rival.com", Platform: "gemini", ObservedAt: inWindow},
		// The paused site's scans stay in the market-wide row but out of its
		// category's segment.
		{ScannedDomain: "dormant.io", RecommendedDomain: "rival.com", Platform: "gemini", ObservedAt: inWindow},
		// Older than the window, must not be counted.
		{ScannedDomain: "acme.com", RecommendedDomain: "stale.io", Platform: "chatgpt", ObservedAt: now.AddDate(0, 0, -10)},
	}

	p := newTestPipeline(st, &stubProbe{}, &recBus{}, now)
	require.NoError(t, p.RunWeekly(context.Background()))

	all, ok := st.benchmarks["2026-W34|all"]
	require.True(t, ok)
	assert.Equal(t, 4, all.TotalRecommendations)
	assert.Equal(t, 3, all.TotalScans)
	assert.Equal(t, map[string]int{"chatgpt": 2, "gemini": 2}, all.PlatformBreakdown)

	crm, ok := st.benchmarks["2026-W34|crm"]
	require.True(t, ok)
	assert.Equal(t, 2, crm.TotalRecommendations)
	assert.LessOrEqual(t, crm.TotalRecommendations, all.TotalRecommendations)

	// Counters recomputed from the log at rollover.
	assert.Equal(t, 1, st.site(1).CitationsThisWeek)
	assert.Equal(t, 1, st.site(1).TotalCitations)
}

func TestRunWeekly_RerunConverges(t *testing.T) {
	now := time.Date(2026, 8, 21, 2, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{eligible(1, 100, "acme.com", "command", "crm")}
	st.observations = []models.Observation{
		{ScannedDomain: "acme.com", RecommendedDomain: "acme.com", Platform: "chatgpt", ObservedAt: now.AddDate(0, 0, -1)},
	}

	p := newTestPipeline(st, &stubProbe{}, &recBus{}, now)
	require.NoError(t, p.RunWeekly(context.Background()))
	upserts := st.benchmarkUpserts
	require.NoError(t, p.RunWeekly(context.Background()))

	// The completed run short-circuits: no second round of upserts, and the
	// stored rows are unchanged.
	assert.Equal(t, upserts, st.benchmarkUpserts)
	assert.Len(t, st.benchmarks, 2) // "all" + "crm"
}

func TestRunMonthly_FirstCheckpointBaselinesAtZero(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	site := eligible(1, 100, "acme.com", "command", "crm")
	site.MomentumScore = 64
	st.sites = []models.EligibleSite{
		site,
		eligible(2, 200, "freebie.io", "free", ""),
	}
	// July snapshots: 18 of 22 queries won.
	st.snapshots[1] = map[string]models.Snapshot{
		dayKey(time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)): {SiteID: 1, Period: time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC), QueriesWon: 8, QueriesTotal: 10},
		dayKey(time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)): {SiteID: 1, Period: time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC), QueriesWon: 10, QueriesTotal: 12},
		// An August snapshot must stay out of July's checkpoint.
		dayKey(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)): {SiteID: 1, Period: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), QueriesWon: 5, QueriesTotal: 5},
	}
	st.competitors = []*models.Competitor{
		{ID: 7, SiteID: 1, Domain: "rival.com"},
		{ID: 8, SiteID: 1, Domain: "flat.io"},
	}
	// rival.com picked up a citation during July; flat.io was last seen in
	// June, so only one competitor counts as gaining for this checkpoint.
	st.observations = []models.Observation{
		{ScannedDomain: "acme.com", RecommendedDomain: "rival.com", Platform: "chatgpt", ObservedAt: time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)},
		{ScannedDomain: "acme.com", RecommendedDomain: "flat.io", Platform: "chatgpt", ObservedAt: time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)},
	}
	bus := &recBus{}

	p := newTestPipeline(st, &stubProbe{}, bus, now)
	require.NoError(t, p.RunMonthly(context.Background()))

	cp, err := st.GetCheckpoint(context.Background(), 1, "2026-07")
	require.NoError(t, err)
	assert.Equal(t, 64, cp.MomentumScore)
	// No previous checkpoint: the change equals the full score.
	assert.Equal(t, 64, cp.MomentumChange)
	assert.Equal(t, 18, cp.QueriesWon)
	assert.Equal(t, 4, cp.QueriesLost)
	assert.Equal(t, 1, cp.CompetitorsGaining)
	assert.NotEmpty(t, cp.RecommendedAction)

	reports := bus.ofType(events.TypeMonthlyReport)
	require.Len(t, reports, 1)
	assert.Equal(t, "2026-07", reports[0].Period)
	assert.Equal(t, int64(1), reports[0].SiteID)

	// The free site gets no checkpoint and no report.
	_, err = st.GetCheckpoint(context.Background(), 2, "2026-07")
	assert.Error(t, err)
}

func TestRunMonthly_CountsGainAlertedMidMonth(t *testing.T) {
	july := time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	st.sites = []models.EligibleSite{eligible(1, 100, "acme.com", "dominate", "")}
	st.competitors = []*models.Competitor{
		{ID: 7, SiteID: 1, Domain: "rival.com"},
	}
	pr := &stubProbe{results: map[string]models.CheckResult{
		"acme.com": {Success: true, CheckedAt: july, Results: []models.PlatformResult{citedResult("chatgpt", "acme.com", "rival.com")}},
	}}
	bus := &recBus{}

	// The daily pass alerts on the gain and clears the competitor's delta.
	daily := newTestPipeline(st, pr, bus, july)
	require.NoError(t, daily.RunDaily(context.Background()))
	require.Len(t, bus.ofType(events.TypeCompetitorGain), 1)
	comps, _ := st.ListCompetitors(context.Background(), 1)
	require.Equal(t, 0, comps[0].CitationsChange)

	// The month close must still see that gain: it recounts from the log,
	// not from the cleared delta column.
	monthly := newTestPipeline(st, pr, bus, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, monthly.RunMonthly(context.Background()))

	cp, err := st.GetCheckpoint(context.Background(), 1, "2026-07")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.CompetitorsGaining)
}

func TestRunMonthly_SecondMonthUsesPreviousCheckpoint(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	st := newMemStore()
	site := eligible(1, 100, "acme.com", "command", "")
	site.MomentumScore = 58
	st.sites = []models.EligibleSite{site}
	st.checkpoints["1|2026-06"] = models.Checkpoint{SiteID: 1, Period: "2026-06", MomentumScore: 70}

	p := newTestPipeline(st, &stubProbe{}, &recBus{}, now)
	require.NoError(t, p.RunMonthly(context.Background()))

	cp, err := st.GetCheckpoint(context.Background(), 1, "2026-07")
	require.NoError(t, err)
	assert.Equal(t, 58, cp.MomentumScore)
	assert.Equal(t, -12, cp.MomentumChange)
}
