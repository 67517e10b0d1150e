// Package benchmark computes the cross-tenant industry rollups. One
// aggregation scans a trailing window of the citations log, optionally
// restricted to the scanned domains of a category, and produces the counts,
// top-domain ranking and platform mix persisted under a (period, category)
// key.
package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

// TopDomainLimit caps the ranked-domain list of a benchmark row.
const TopDomainLimit = 30

// Source is the observation-query surface the aggregator reads. A nil
// scannedFilter means the whole market; a non-nil one restricts every query
// to scans of those domains.
type Source interface {
	CountObservationsSince(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error)
	CountDistinctScanned(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error)
	CountDistinctRecommended(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error)
	TopRecommendedDomains(ctx context.Context, windowStart time.Time, scannedFilter []string, limit int) ([]models.DomainCount, error)
	PlatformsForDomain(ctx context.Context, windowStart time.Time, domain string, scannedFilter []string) (map[string]int, error)
	PlatformDistribution(ctx context.Context, windowStart time.Time, scannedFilter []string) (map[string]int, error)
}

// Aggregator rolls up citation observations into benchmarks.
type Aggregator struct {
	src Source
}

// New creates an aggregator over the given observation source.
func New(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// Aggregate computes one rollup over observations at or after windowStart.
// The caller sets Period and Category before persisting; everything else is
// filled here.
func (a *Aggregator) Aggregate(ctx context.Context, windowStart time.Time, scannedFilter []string) (models.Benchmark, error) {
	var b models.Benchmark

	total, err := a.src.CountObservationsSince(ctx, windowStart, scannedFilter)
	if err != nil {
		return b, fmt.Errorf("count recommendations: %w", err)
	}
	b.TotalRecommendations = total

	scans, err := a.src.CountDistinctScanned(ctx, windowStart, scannedFilter)
	if err != nil {
		return b, fmt.Errorf("count scans: %w", err)
	}
	b.TotalScans = scans

	unique, err := a.src.CountDistinctRecommended(ctx, windowStart, scannedFilter)
	if err != nil {
		return b, fmt.Errorf("count unique domains: %w", err)
	}
	b.UniqueDomains = unique

	top, err := a.src.TopRecommendedDomains(ctx, windowStart, scannedFilter, TopDomainLimit)
	if err != nil {
		return b, fmt.Errorf("rank top domains: %w", err)
	}

	// One platform query per ranked domain. At 30 domains the extra round
	// trips cost less than maintaining a multi-column grouped join across
	// both dimensions; switch to a single join if the limit ever grows.
	for i := range top {
		platforms, err := a.src.PlatformsForDomain(ctx, windowStart, top[i].Domain, scannedFilter)
		if err != nil {
			return b, fmt.Errorf("platforms for %s: %w", top[i].Domain, err)
		}
		top[i].Platforms = platforms
	}
	b.TopDomains = top

	dist, err := a.src.PlatformDistribution(ctx, windowStart, scannedFilter)
	if err != nil {
		return b, fmt.Errorf("platform distribution: %w", err)
	}
	b.PlatformBreakdown = dist

	return b, nil
}

// PeriodKey derives the ISO-week period string for a run date, e.g.
// "2026-W34". Computed once per run and shared by every category row.
func PeriodKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
