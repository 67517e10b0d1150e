package store

import (
	"context"
	"fmt"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

// UpsertSnapshot writes the site's market-share record for one day. The
// (site, period) key makes re-running a check day overwrite, not duplicate.
func (s *Store) UpsertSnapshot(ctx context.Context, snap models.Snapshot) error {
	query := `
		INSERT INTO market_share_snapshots (site_id, period, queries_won, queries_total, momentum_score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_id, period) DO UPDATE SET
			queries_won = EXCLUDED.queries_won,
			queries_total = EXCLUDED.queries_total,
			momentum_score = EXCLUDED.momentum_score
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.SiteID, snap.Period, snap.QueriesWon, snap.QueriesTotal, snap.MomentumScore,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	return nil
}

// LatestSnapshots returns a site's most recent snapshots, newest first.
func (s *Store) LatestSnapshots(ctx context.Context, siteID int64, limit int) ([]models.Snapshot, error) {
	query := `
		SELECT id, site_id, period, queries_won, queries_total, momentum_score
		FROM market_share_snapshots
		WHERE site_id = $1
		ORDER BY period DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var sn models.Snapshot
		if err := rows.Scan(&sn.ID, &sn.SiteID, &sn.Period, &sn.QueriesWon, &sn.QueriesTotal, &sn.MomentumScore); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot rows: %w", err)
	}

	return snaps, nil
}

// MonthlyQueryStats sums a site's daily snapshot results over [from, to),
// the won/total inputs of the monthly checkpoint.
func (s *Store) MonthlyQueryStats(ctx context.Context, siteID int64, from, to time.Time) (int, int, error) {
	query := `
		SELECT COALESCE(SUM(queries_won), 0), COALESCE(SUM(queries_total), 0)
		FROM market_share_snapshots
		WHERE site_id = $1 AND period >= $2 AND period < $3
	`

	var won, total int
	if err := s.db.QueryRowContext(ctx, query, siteID, from, to).Scan(&won, &total); err != nil {
		return 0, 0, fmt.Errorf("monthly query stats: %w", err)
	}

	return won, total, nil
}

// WeeklyActivity aggregates the inputs of the momentum score for one site:
// this week's won/total probe results from the daily snapshots and the
// citation counts of the current and previous week from the log.
func (s *Store) WeeklyActivity(ctx context.Context, siteID int64, domain string, now time.Time) (models.WeeklyActivity, error) {
	var a models.WeeklyActivity

	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	snapQuery := `
		SELECT COALESCE(SUM(queries_won), 0), COALESCE(SUM(queries_total), 0)
		FROM market_share_snapshots
		WHERE site_id = $1 AND period >= $2
	`
	if err := s.db.QueryRowContext(ctx, snapQuery, siteID, weekAgo).Scan(&a.WonThisWeek, &a.TotalThisWeek); err != nil {
		return a, fmt.Errorf("weekly snapshot sums: %w", err)
	}

	citesQuery := `
		SELECT
			COUNT(*) FILTER (WHERE observed_at >= $2),
			COUNT(*) FILTER (WHERE observed_at >= $3 AND observed_at < $2)
		FROM citations
		WHERE scanned_domain = $1 AND recommended_domain = $1
	`
	if err := s.db.QueryRowContext(ctx, citesQuery, domain, weekAgo, twoWeeksAgo).Scan(&a.CitationsThisWeek, &a.CitationsLastWeek); err != nil {
		return a, fmt.Errorf("weekly citation counts: %w", err)
	}

	return a, nil
}
