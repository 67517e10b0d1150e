package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/models"
	"github.com/citewatch/citewatch/internal/store"
)

// memRunStore backs the engine with in-memory run/step state.
type memRunStore struct {
	mu    sync.Mutex
	runs  map[string]*store.JobRun
	steps map[string]json.RawMessage
}

func newMemRunStore() *memRunStore {
	return &memRunStore{
		runs:  make(map[string]*store.JobRun),
		steps: make(map[string]json.RawMessage),
	}
}

func (m *memRunStore) FindRun(ctx context.Context, jobName, dedupeKey string) (*store.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[jobName+"|"+dedupeKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRunStore) CreateRun(ctx context.Context, jobName, dedupeKey string) (*store.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobName + "|" + dedupeKey
	if r, ok := m.runs[key]; ok {
		cp := *r
		return &cp, nil
	}
	r := &store.JobRun{ID: uuid.New(), JobName: jobName, DedupeKey: dedupeKey, Status: store.RunStatusRunning, Attempt: 1, StartedAt: time.Now()}
	m.runs[key] = r
	cp := *r
	return &cp, nil
}

func (m *memRunStore) MarkRunAttempt(ctx context.Context, runID uuid.UUID, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == runID {
			r.Status = store.RunStatusRunning
			r.Attempt = attempt
		}
	}
	return nil
}

func (m *memRunStore) FinishRun(ctx context.Context, runID uuid.UUID, status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == runID {
			r.Status = status
			r.LastError = lastError
		}
	}
	return nil
}

func (m *memRunStore) StepOutput(ctx context.Context, runID uuid.UUID, name string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.steps[runID.String()+"|"+name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (m *memRunStore) SaveStepOutput(ctx context.Context, runID uuid.UUID, name string, output json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := runID.String() + "|" + name
	if _, ok := m.steps[key]; !ok {
		m.steps[key] = output
	}
	return nil
}

// memStore is an in-memory jobs.Store mirroring the SQL semantics.
type memStore struct {
	mu           sync.Mutex
	sites        []models.EligibleSite
	observations []models.Observation
	competitors  []*models.Competitor
	snapshots    map[int64]map[string]models.Snapshot // siteID -> day -> snapshot
	benchmarks   map[string]models.Benchmark          // period|category
	checkpoints  map[string]models.Checkpoint         // siteID|period

	failSnapshotUpserts int // fail the next N UpsertSnapshot calls
	benchmarkUpserts    int
}

func newMemStore() *memStore {
	return &memStore{
		snapshots:   make(map[int64]map[string]models.Snapshot),
		benchmarks:  make(map[string]models.Benchmark),
		checkpoints: make(map[string]models.Checkpoint),
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (m *memStore) ListActiveSites(ctx context.Context) ([]models.EligibleSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EligibleSite
	for _, s := range m.sites {
		if s.Status == "active" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) site(id int64) *models.EligibleSite {
	for i := range m.sites {
		if m.sites[i].ID == id {
			return &m.sites[i]
		}
	}
	return nil
}

func (m *memStore) InsertObservations(ctx context.Context, obs []models.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs...)
	return nil
}

func (m *memStore) PlatformsCiting(ctx context.Context, domain string, before time.Time) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	platforms := make(map[string]bool)
	for _, o := range m.observations {
		if o.ScannedDomain == domain && o.RecommendedDomain == domain && o.ObservedAt.Before(before) {
			platforms[o.Platform] = true
		}
	}
	return platforms, nil
}

func (m *memStore) countOwn(domain string, since time.Time, until time.Time) int {
	n := 0
	for _, o := range m.observations {
		if o.ScannedDomain != domain || o.RecommendedDomain != domain {
			continue
		}
		if !since.IsZero() && o.ObservedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !o.ObservedAt.Before(until) {
			continue
		}
		n++
	}
	return n
}

func (m *memStore) RefreshSiteCounters(ctx context.Context, siteID int64, domain string, weekStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.site(siteID)
	if s == nil {
		return fmt.Errorf("no site %d", siteID)
	}
	s.TotalCitations = m.countOwn(domain, time.Time{}, time.Time{})
	s.CitationsThisWeek = m.countOwn(domain, weekStart, time.Time{})
	return nil
}

func (m *memStore) TouchSiteChecked(ctx context.Context, siteID int64, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.site(siteID); s != nil {
		t := checkedAt
		s.LastCheckedAt = &t
	}
	return nil
}

func (m *memStore) RolloverWeeklyCounters(ctx context.Context, weekStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rolled int64
	prevStart := weekStart.AddDate(0, 0, -7)
	for i := range m.sites {
		s := &m.sites[i]
		if s.Status != "active" {
			continue
		}
		s.CitationsLastWeek = m.countOwn(s.Domain, prevStart, weekStart)
		s.CitationsThisWeek = m.countOwn(s.Domain, weekStart, time.Time{})
		s.TotalCitations = m.countOwn(s.Domain, time.Time{}, time.Time{})
		rolled++
	}
	return rolled, nil
}

func (m *memStore) UpdateSiteMomentum(ctx context.Context, siteID int64, score, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.site(siteID); s != nil {
		s.MomentumScore = score
		s.MomentumDelta = delta
	}
	return nil
}

func (m *memStore) WeeklyActivity(ctx context.Context, siteID int64, domain string, now time.Time) (models.WeeklyActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var a models.WeeklyActivity
	weekAgo := now.AddDate(0, 0, -7)
	for _, snap := range m.snapshots[siteID] {
		if !snap.Period.Before(weekAgo) {
			a.WonThisWeek += snap.QueriesWon
			a.TotalThisWeek += snap.QueriesTotal
		}
	}
	a.CitationsThisWeek = m.countOwn(domain, weekAgo, time.Time{})
	a.CitationsLastWeek = m.countOwn(domain, now.AddDate(0, 0, -14), weekAgo)
	return a, nil
}

func (m *memStore) UpsertSnapshot(ctx context.Context, snap models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSnapshotUpserts > 0 {
		m.failSnapshotUpserts--
		return errors.New("snapshot write failed")
	}
	if m.snapshots[snap.SiteID] == nil {
		m.snapshots[snap.SiteID] = make(map[string]models.Snapshot)
	}
	m.snapshots[snap.SiteID][dayKey(snap.Period)] = snap
	return nil
}

func (m *memStore) LatestSnapshots(ctx context.Context, siteID int64, limit int) ([]models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snaps []models.Snapshot
	for _, s := range m.snapshots[siteID] {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Period.After(snaps[j].Period) })
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (m *memStore) MonthlyQueryStats(ctx context.Context, siteID int64, from, to time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	won, total := 0, 0
	for _, s := range m.snapshots[siteID] {
		if !s.Period.Before(from) && s.Period.Before(to) {
			won += s.QueriesWon
			total += s.QueriesTotal
		}
	}
	return won, total, nil
}

func (m *memStore) ListCompetitors(ctx context.Context, siteID int64) ([]models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Competitor
	for _, c := range m.competitors {
		if c.SiteID == siteID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCompetitor(ctx context.Context, id int64, total, change int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.competitors {
		if c.ID == id {
			c.TotalCitations = total
			c.CitationsChange = change
		}
	}
	return nil
}

func (m *memStore) CountPair(ctx context.Context, scanned, recommended string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.observations {
		if o.ScannedDomain != scanned || o.RecommendedDomain != recommended {
			continue
		}
		if !from.IsZero() && o.ObservedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !o.ObservedAt.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memStore) CountGainingCompetitors(ctx context.Context, siteID int64, domain string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.competitors {
		if c.SiteID != siteID {
			continue
		}
		for _, o := range m.observations {
			if o.ScannedDomain == domain && o.RecommendedDomain == c.Domain &&
				!o.ObservedAt.Before(from) && o.ObservedAt.Before(to) {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memStore) DistinctCategories(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.sites {
		if s.Status == "active" && s.Category != "" && !seen[s.Category] {
			seen[s.Category] = true
			out = append(out, s.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) DomainsForCategory(ctx context.Context, category string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sites {
		if s.Status == "active" && s.Category == category {
			out = append(out, s.Domain)
		}
	}
	return out, nil
}

func (m *memStore) UpsertBenchmark(ctx context.Context, b models.Benchmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.benchmarkUpserts++
	m.benchmarks[b.Period+"|"+b.Category] = b
	return nil
}

func (m *memStore) GetCheckpoint(ctx context.Context, siteID int64, period string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[fmt.Sprintf("%d|%s", siteID, period)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cp, nil
}

func (m *memStore) UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", cp.SiteID, cp.Period)
	if existing, ok := m.checkpoints[key]; ok {
		cp.NotifiedAt = existing.NotifiedAt
	}
	m.checkpoints[key] = cp
	return nil
}

// Observation-query surface (benchmark.Source).

func (m *memStore) windowed(windowStart time.Time, filter []string) []models.Observation {
	allowed := make(map[string]bool)
	for _, d := range filter {
		allowed[d] = true
	}
	var out []models.Observation
	for _, o := range m.observations {
		if o.ObservedAt.Before(windowStart) {
			continue
		}
		if filter != nil && !allowed[o.ScannedDomain] {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (m *memStore) CountObservationsSince(ctx context.Context, windowStart time.Time, filter []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windowed(windowStart, filter)), nil
}

func (m *memStore) CountDistinctScanned(ctx context.Context, windowStart time.Time, filter []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, o := range m.windowed(windowStart, filter) {
		seen[o.ScannedDomain] = true
	}
	return len(seen), nil
}

func (m *memStore) CountDistinctRecommended(ctx context.Context, windowStart time.Time, filter []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, o := range m.windowed(windowStart, filter) {
		seen[o.RecommendedDomain] = true
	}
	return len(seen), nil
}

func (m *memStore) TopRecommendedDomains(ctx context.Context, windowStart time.Time, filter []string, limit int) ([]models.DomainCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, o := range m.windowed(windowStart, filter) {
		counts[o.RecommendedDomain]++
	}
	var top []models.DomainCount
	for d, c := range counts {
		top = append(top, models.DomainCount{Domain: d, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Domain < top[j].Domain
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (m *memStore) PlatformsForDomain(ctx context.Context, windowStart time.Time, domain string, filter []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	platforms := make(map[string]int)
	for _, o := range m.windowed(windowStart, filter) {
		if o.RecommendedDomain == domain {
			platforms[o.Platform]++
		}
	}
	return platforms, nil
}

func (m *memStore) PlatformDistribution(ctx context.Context, windowStart time.Time, filter []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dist := make(map[string]int)
	for _, o := range m.windowed(windowStart, filter) {
		dist[o.Platform]++
	}
	return dist, nil
}

// stubProbe returns canned results per domain and counts calls.
type stubProbe struct {
	mu      sync.Mutex
	results map[string]models.CheckResult
	calls   int
}

func (s *stubProbe) Check(ctx context.Context, siteID int64, domain string) models.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	res, ok := s.results[domain]
	if !ok {
		return models.CheckResult{SiteID: siteID, Domain: domain, CheckedAt: time.Now().UTC()}
	}
	res.SiteID = siteID
	res.Domain = domain
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}
	return res
}

func (s *stubProbe) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recBus records published events synchronously.
type recBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recBus) Publish(ctx context.Context, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recBus) Subscribe(ctx context.Context, handler events.Handler) error { return nil }
func (b *recBus) Close() error                                                { return nil }

func (b *recBus) ofType(t events.Type) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
