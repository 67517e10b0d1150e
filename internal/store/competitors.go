package store

import (
	"context"
	"fmt"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

// ListCompetitors returns the rivals a site tracks.
func (s *Store) ListCompetitors(ctx context.Context, siteID int64) ([]models.Competitor, error) {
	query := `
		SELECT id, site_id, domain, total_citations, citations_change, updated_at
		FROM competitors
		WHERE site_id = $1
		ORDER BY domain
	`

	rows, err := s.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	defer rows.Close()

	var comps []models.Competitor
	for rows.Next() {
		var c models.Competitor
		if err := rows.Scan(&c.ID, &c.SiteID, &c.Domain, &c.TotalCitations, &c.CitationsChange, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		comps = append(comps, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("competitor rows: %w", err)
	}

	return comps, nil
}

// UpdateCompetitor persists the recounted total and the change to carry
// forward. The detector passes change=0 once it has alerted on a gain.
func (s *Store) UpdateCompetitor(ctx context.Context, id int64, total, change int) error {
	query := `
		UPDATE competitors
		SET total_citations = $2, citations_change = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, total, change); err != nil {
		return fmt.Errorf("update competitor: %w", err)
	}
	return nil
}

// CountGainingCompetitors counts a site's competitors that picked up at
// least one citation in the site's scans during [from, to), the
// gaining-competitor input of the monthly checkpoint. Derived from the log:
// citations_change cannot serve here because the daily pass clears it as
// soon as a gain has been alerted.
func (s *Store) CountGainingCompetitors(ctx context.Context, siteID int64, domain string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT c.domain)
		FROM competitors c
		JOIN citations ct
		  ON ct.scanned_domain = $2 AND ct.recommended_domain = c.domain
		WHERE c.site_id = $1
		  AND ct.observed_at >= $3 AND ct.observed_at < $4
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, siteID, domain, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count gaining competitors: %w", err)
	}

	return count, nil
}
