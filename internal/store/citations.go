package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/citewatch/citewatch/internal/models"
)

// InsertObservations appends citation facts in one transaction. The table is
// append-only, so there is no conflict target; callers that may retry guard
// the whole batch behind a step key instead.
func (s *Store) InsertObservations(ctx context.Context, obs []models.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observations tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO citations (scanned_domain, recommended_domain, platform, query_text, citation_url, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, o := range obs {
		if _, err := tx.ExecContext(ctx, query,
			o.ScannedDomain, o.RecommendedDomain, o.Platform,
			o.QueryText, o.CitationURL, o.ObservedAt,
		); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit observations: %w", err)
	}

	return nil
}

// PlatformsCiting returns the distinct platforms that have ever cited the
// site in its own scans, for detecting first-time visibility on a platform.
func (s *Store) PlatformsCiting(ctx context.Context, domain string, before time.Time) (map[string]bool, error) {
	query := `
		SELECT DISTINCT platform FROM citations
		WHERE scanned_domain = $1 AND recommended_domain = $1 AND observed_at < $2
	`

	rows, err := s.db.QueryContext(ctx, query, domain, before)
	if err != nil {
		return nil, fmt.Errorf("platforms citing: %w", err)
	}
	defer rows.Close()

	platforms := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		platforms[p] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("platform rows: %w", err)
	}

	return platforms, nil
}

// CountPair counts how often recommended has been cited in scans of scanned,
// optionally bounded to [from, to). Zero times mean an unbounded side.
func (s *Store) CountPair(ctx context.Context, scanned, recommended string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM citations
		WHERE scanned_domain = $1 AND recommended_domain = $2
		  AND ($3::timestamptz IS NULL OR observed_at >= $3)
		  AND ($4::timestamptz IS NULL OR observed_at < $4)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, scanned, recommended, nullTime(from), nullTime(to)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pair: %w", err)
	}

	return count, nil
}

// CountObservationsSince counts observations in the trailing window,
// optionally restricted to scans of the given domains.
func (s *Store) CountObservationsSince(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error) {
	query := `
		SELECT COUNT(*) FROM citations
		WHERE observed_at >= $1
		  AND ($2::text[] IS NULL OR scanned_domain = ANY($2))
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, windowStart, domainArray(scannedFilter)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}

	return count, nil
}

// CountDistinctScanned counts distinct scanned domains in the window, the
// proxy for how many distinct scans contributed to a benchmark.
func (s *Store) CountDistinctScanned(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT scanned_domain) FROM citations
		WHERE observed_at >= $1
		  AND ($2::text[] IS NULL OR scanned_domain = ANY($2))
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, windowStart, domainArray(scannedFilter)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct scanned: %w", err)
	}

	return count, nil
}

// CountDistinctRecommended counts distinct recommended domains in the window.
func (s *Store) CountDistinctRecommended(ctx context.Context, windowStart time.Time, scannedFilter []string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT recommended_domain) FROM citations
		WHERE observed_at >= $1
		  AND ($2::text[] IS NULL OR scanned_domain = ANY($2))
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, windowStart, domainArray(scannedFilter)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct recommended: %w", err)
	}

	return count, nil
}

// TopRecommendedDomains ranks recommended domains by frequency in the window.
func (s *Store) TopRecommendedDomains(ctx context.Context, windowStart time.Time, scannedFilter []string, limit int) ([]models.DomainCount, error) {
	query := `
		SELECT recommended_domain, COUNT(*) AS cnt FROM citations
		WHERE observed_at >= $1
		  AND ($2::text[] IS NULL OR scanned_domain = ANY($2))
		GROUP BY recommended_domain
		ORDER BY cnt DESC, recommended_domain ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, windowStart, domainArray(scannedFilter), limit)
	if err != nil {
		return nil, fmt.Errorf("top recommended domains: %w", err)
	}
	defer rows.Close()

	var top []models.DomainCount
	for rows.Next() {
		var dc models.DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan top domain: %w", err)
		}
		top = append(top, dc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top domain rows: %w", err)
	}

	return top, nil
}

// PlatformsForDomain returns which platforms recommended the domain in the
// window and how often.
func (s *Store) PlatformsForDomain(ctx context.Context, windowStart time.Time, domain string, scannedFilter []string) (map[string]int, error) {
	query := `
		SELECT platform, COUNT(*) FROM citations
		WHERE observed_at >= $1 AND recommended_domain = $2
		  AND ($3::text[] IS NULL OR scanned_domain = ANY($3))
		GROUP BY platform
	`

	rows, err := s.db.QueryContext(ctx, query, windowStart, domain, domainArray(scannedFilter))
	if err != nil {
		return nil, fmt.Errorf("platforms for domain: %w", err)
	}
	defer rows.Close()

	platforms := make(map[string]int)
	for rows.Next() {
		var p string
		var c int
		if err := rows.Scan(&p, &c); err != nil {
			return nil, fmt.Errorf("scan domain platform: %w", err)
		}
		platforms[p] = c
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("domain platform rows: %w", err)
	}

	return platforms, nil
}

// PlatformDistribution groups the window's observations by platform.
func (s *Store) PlatformDistribution(ctx context.Context, windowStart time.Time, scannedFilter []string) (map[string]int, error) {
	query := `
		SELECT platform, COUNT(*) FROM citations
		WHERE observed_at >= $1
		  AND ($2::text[] IS NULL OR scanned_domain = ANY($2))
		GROUP BY platform
	`

	rows, err := s.db.QueryContext(ctx, query, windowStart, domainArray(scannedFilter))
	if err != nil {
		return nil, fmt.Errorf("platform distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var p string
		var c int
		if err := rows.Scan(&p, &c); err != nil {
			return nil, fmt.Errorf("scan platform count: %w", err)
		}
		dist[p] = c
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("platform count rows: %w", err)
	}

	return dist, nil
}

// DistinctCategories resolves the set of non-null site categories, the
// partitions a benchmark run produces rows for. Paused sites do not define
// a segment, matching the active-only filter of the check queries.
func (s *Store) DistinctCategories(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT category FROM sites
		WHERE category IS NOT NULL AND category <> '' AND status = 'active'
		ORDER BY category
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("category rows: %w", err)
	}

	return categories, nil
}

// DomainsForCategory returns the domains of the active sites in a category,
// the scanned-domain filter of that category's benchmark segment.
func (s *Store) DomainsForCategory(ctx context.Context, category string) ([]string, error) {
	query := `SELECT domain FROM sites WHERE category = $1 AND status = 'active' ORDER BY domain`

	rows, err := s.db.QueryContext(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("domains for category: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan category domain: %w", err)
		}
		domains = append(domains, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("category domain rows: %w", err)
	}

	return domains, nil
}

// domainArray converts a filter slice for a text[] parameter; nil disables
// the filter entirely rather than matching nothing.
func domainArray(domains []string) interface{} {
	if domains == nil {
		return nil
	}
	return pq.Array(domains)
}

// nullTime converts the zero time to NULL so a bound can be omitted.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
