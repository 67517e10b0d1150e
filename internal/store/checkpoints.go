package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/citewatch/citewatch/internal/models"
)

// GetCheckpoint returns a site's checkpoint for the given month, or
// ErrNotFound when the site has no history for that period.
func (s *Store) GetCheckpoint(ctx context.Context, siteID int64, period string) (*models.Checkpoint, error) {
	query := `
		SELECT id, site_id, period, momentum_score, momentum_change,
		       queries_won, queries_lost, competitors_gaining, recommended_action, notified_at
		FROM monthly_checkpoints
		WHERE site_id = $1 AND period = $2
	`

	var cp models.Checkpoint
	err := s.db.QueryRowContext(ctx, query, siteID, period).Scan(
		&cp.ID, &cp.SiteID, &cp.Period, &cp.MomentumScore, &cp.MomentumChange,
		&cp.QueriesWon, &cp.QueriesLost, &cp.CompetitorsGaining, &cp.RecommendedAction,
		&cp.NotifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	return &cp, nil
}

// UpsertCheckpoint writes a site's monthly checkpoint. notified_at is left
// alone on conflict so a recomputed checkpoint never re-arms a sent report.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	query := `
		INSERT INTO monthly_checkpoints
			(site_id, period, momentum_score, momentum_change, queries_won, queries_lost, competitors_gaining, recommended_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_id, period) DO UPDATE SET
			momentum_score = EXCLUDED.momentum_score,
			momentum_change = EXCLUDED.momentum_change,
			queries_won = EXCLUDED.queries_won,
			queries_lost = EXCLUDED.queries_lost,
			competitors_gaining = EXCLUDED.competitors_gaining,
			recommended_action = EXCLUDED.recommended_action
	`

	_, err := s.db.ExecContext(ctx, query,
		cp.SiteID, cp.Period, cp.MomentumScore, cp.MomentumChange,
		cp.QueriesWon, cp.QueriesLost, cp.CompetitorsGaining, cp.RecommendedAction,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}

	return nil
}

// MarkCheckpointNotified stamps the report-sent marker, but only the first
// time. The false return tells the dispatcher another delivery already
// happened and this one should be skipped.
func (s *Store) MarkCheckpointNotified(ctx context.Context, siteID int64, period string) (bool, error) {
	query := `
		UPDATE monthly_checkpoints
		SET notified_at = now()
		WHERE site_id = $1 AND period = $2 AND notified_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, siteID, period)
	if err != nil {
		return false, fmt.Errorf("mark checkpoint notified: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notified rows affected: %w", err)
	}

	return affected > 0, nil
}
