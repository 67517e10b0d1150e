package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/citewatch/citewatch/internal/models"
)

// UpsertBenchmark writes one (period, category) rollup. Re-running a period
// overwrites the previous content and never duplicates the row.
func (s *Store) UpsertBenchmark(ctx context.Context, b models.Benchmark) error {
	topJSON, err := json.Marshal(b.TopDomains)
	if err != nil {
		return fmt.Errorf("marshal top domains: %w", err)
	}

	platformJSON, err := json.Marshal(b.PlatformBreakdown)
	if err != nil {
		return fmt.Errorf("marshal platform breakdown: %w", err)
	}

	query := `
		INSERT INTO industry_benchmarks
			(period, category, total_scans, total_recommendations, unique_domains, top_domains, platform_breakdown, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (period, category) DO UPDATE SET
			total_scans = EXCLUDED.total_scans,
			total_recommendations = EXCLUDED.total_recommendations,
			unique_domains = EXCLUDED.unique_domains,
			top_domains = EXCLUDED.top_domains,
			platform_breakdown = EXCLUDED.platform_breakdown,
			computed_at = now()
	`

	_, err = s.db.ExecContext(ctx, query,
		b.Period, b.Category,
		b.TotalScans, b.TotalRecommendations, b.UniqueDomains,
		topJSON, platformJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert benchmark: %w", err)
	}

	return nil
}

// GetBenchmark reads one (period, category) rollup back.
func (s *Store) GetBenchmark(ctx context.Context, period, category string) (*models.Benchmark, error) {
	query := `
		SELECT period, category, total_scans, total_recommendations, unique_domains,
		       top_domains, platform_breakdown, computed_at
		FROM industry_benchmarks
		WHERE period = $1 AND category = $2
	`

	var b models.Benchmark
	var topJSON, platformJSON []byte
	err := s.db.QueryRowContext(ctx, query, period, category).Scan(
		&b.Period, &b.Category,
		&b.TotalScans, &b.TotalRecommendations, &b.UniqueDomains,
		&topJSON, &platformJSON, &b.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get benchmark: %w", err)
	}

	if err := json.Unmarshal(topJSON, &b.TopDomains); err != nil {
		return nil, fmt.Errorf("unmarshal top domains: %w", err)
	}
	if err := json.Unmarshal(platformJSON, &b.PlatformBreakdown); err != nil {
		return nil, fmt.Errorf("unmarshal platform breakdown: %w", err)
	}

	return &b, nil
}
