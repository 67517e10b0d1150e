package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

// ListActiveSites returns every active site of an active subscription joined
// with the owning org's plan. The scheduling policy filters the result; the
// query itself knows nothing about tiers.
func (s *Store) ListActiveSites(ctx context.Context) ([]models.EligibleSite, error) {
	query := `
		SELECT st.id, st.org_id, st.domain, COALESCE(st.category, ''), st.status,
		       st.momentum_score, st.momentum_delta,
		       st.total_citations, st.citations_this_week, st.citations_last_week,
		       o.plan
		FROM sites st
		JOIN organizations o ON o.id = st.org_id
		WHERE st.status = 'active' AND o.subscription_status = 'active'
		ORDER BY st.id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sites: %w", err)
	}
	defer rows.Close()

	var sites []models.EligibleSite
	for rows.Next() {
		var es models.EligibleSite
		if err := rows.Scan(
			&es.ID, &es.OrgID, &es.Domain, &es.Category, &es.Status,
			&es.MomentumScore, &es.MomentumDelta,
			&es.TotalCitations, &es.CitationsThisWeek, &es.CitationsLastWeek,
			&es.Plan,
		); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, es)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("site rows: %w", err)
	}

	return sites, nil
}

// GetOrganization returns the owning tenant for notification routing.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	query := `
		SELECT id, name, plan, subscription_status, contact_email, chat_webhook_url,
		       notify_new_citation, notify_visibility_drop, notify_competitor_gain, notify_reports,
		       created_at
		FROM organizations WHERE id = $1
	`

	var org models.Organization
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.Plan, &org.SubscriptionStatus,
		&org.ContactEmail, &org.ChatWebhookURL,
		&org.NotifyNewCitation, &org.NotifyVisibilityDrop,
		&org.NotifyCompetitorGain, &org.NotifyReports,
		&org.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	return &org, nil
}

// TouchSiteChecked records that a check completed for the site.
func (s *Store) TouchSiteChecked(ctx context.Context, siteID int64, checkedAt time.Time) error {
	query := `UPDATE sites SET last_checked_at = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, siteID, checkedAt); err != nil {
		return fmt.Errorf("touch site checked: %w", err)
	}
	return nil
}

// RefreshSiteCounters recomputes the site's citation counters from the
// append-only log. Derived rather than incremented, so concurrent check runs
// converge on the same values.
func (s *Store) RefreshSiteCounters(ctx context.Context, siteID int64, domain string, weekStart time.Time) error {
	query := `
		UPDATE sites SET
			total_citations = (
				SELECT COUNT(*) FROM citations
				WHERE scanned_domain = $2 AND recommended_domain = $2
			),
			citations_this_week = (
				SELECT COUNT(*) FROM citations
				WHERE scanned_domain = $2 AND recommended_domain = $2 AND observed_at >= $3
			)
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, siteID, domain, weekStart); err != nil {
		return fmt.Errorf("refresh site counters: %w", err)
	}
	return nil
}

// UpdateSiteMomentum stores the freshly computed score and its delta.
func (s *Store) UpdateSiteMomentum(ctx context.Context, siteID int64, score, delta int) error {
	query := `UPDATE sites SET momentum_score = $2, momentum_delta = $3 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, siteID, score, delta); err != nil {
		return fmt.Errorf("update site momentum: %w", err)
	}
	return nil
}

// RolloverWeeklyCounters shifts every active site's weekly counters at the
// week boundary. Both values are recomputed from the citations log: the
// closed week becomes citations_last_week and the window starting at
// weekStart (normally empty at rollover time) becomes citations_this_week.
func (s *Store) RolloverWeeklyCounters(ctx context.Context, weekStart time.Time) (int64, error) {
	prevStart := weekStart.AddDate(0, 0, -7)

	query := `
		UPDATE sites SET
			citations_last_week = (
				SELECT COUNT(*) FROM citations
				WHERE scanned_domain = sites.domain AND recommended_domain = sites.domain
				  AND observed_at >= $1 AND observed_at < $2
			),
			citations_this_week = (
				SELECT COUNT(*) FROM citations
				WHERE scanned_domain = sites.domain AND recommended_domain = sites.domain
				  AND observed_at >= $2
			),
			total_citations = (
				SELECT COUNT(*) FROM citations
				WHERE scanned_domain = sites.domain AND recommended_domain = sites.domain
			)
		WHERE status = 'active'
	`

	res, err := s.db.ExecContext(ctx, query, prevStart, weekStart)
	if err != nil {
		return 0, fmt.Errorf("rollover weekly counters: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rollover rows affected: %w", err)
	}

	return affected, nil
}
