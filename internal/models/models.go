package models

import "time"

// Organization is a paying tenant. Plan drives check cadence; the notify
// flags gate each alert class independently.
type Organization struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Plan                 string    `json:"plan"`
	SubscriptionStatus   string    `json:"subscription_status"`
	ContactEmail         string    `json:"contact_email"`
	ChatWebhookURL       string    `json:"chat_webhook_url"`
	NotifyNewCitation    bool      `json:"notify_new_citation"`
	NotifyVisibilityDrop bool      `json:"notify_visibility_drop"`
	NotifyCompetitorGain bool      `json:"notify_competitor_gain"`
	NotifyReports        bool      `json:"notify_reports"`
	CreatedAt            time.Time `json:"created_at"`
}

// Site is a monitored domain owned by an organization. Counters are derived
// from the citations log by the pipeline, never mutated by hand.
type Site struct {
	ID                int64      `json:"id"`
	OrgID             int64      `json:"org_id"`
	Domain            string     `json:"domain"`
	Category          string     `json:"category,omitempty"`
	Status            string     `json:"status"` // "active" or "paused"
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	MomentumScore     int        `json:"momentum_score"`
	MomentumDelta     int        `json:"momentum_delta"`
	TotalCitations    int        `json:"total_citations"`
	CitationsThisWeek int        `json:"citations_this_week"`
	CitationsLastWeek int        `json:"citations_last_week"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EligibleSite is a site joined with the owning org's plan, as returned by
// the registry queries that feed the scheduling policy.
type EligibleSite struct {
	Site
	Plan string `json:"plan"`
}

// Observation is one append-only citation fact: while checking ScannedDomain,
// Platform recommended RecommendedDomain.
type Observation struct {
	ID                int64     `json:"id"`
	ScannedDomain     string    `json:"scanned_domain"`
	RecommendedDomain string    `json:"recommended_domain"`
	Platform          string    `json:"platform"`
	QueryText         string    `json:"query_text,omitempty"`
	CitationURL       string    `json:"citation_url,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
}

// Competitor is a rival domain a site tracks. TotalCitations is recounted
// from the citations log each cycle; CitationsChange resets to zero once an
// alert for the gain has been emitted.
type Competitor struct {
	ID              int64     `json:"id"`
	SiteID          int64     `json:"site_id"`
	Domain          string    `json:"domain"`
	TotalCitations  int       `json:"total_citations"`
	CitationsChange int       `json:"citations_change"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot is the daily market-share record for a site. One row per
// (site, day), written by upsert and immutable once the day closes.
type Snapshot struct {
	ID            int64     `json:"id"`
	SiteID        int64     `json:"site_id"`
	Period        time.Time `json:"period"` // date, midnight UTC
	QueriesWon    int       `json:"queries_won"`
	QueriesTotal  int       `json:"queries_total"`
	MomentumScore int       `json:"momentum_score"`
}

// Checkpoint is the monthly immutable record of a site's derived metrics.
// NotifiedAt is the only field touched after the period closes.
type Checkpoint struct {
	ID                 int64      `json:"id"`
	SiteID             int64      `json:"site_id"`
	Period             string     `json:"period"` // "2026-08"
	MomentumScore      int        `json:"momentum_score"`
	MomentumChange     int        `json:"momentum_change"`
	QueriesWon         int        `json:"queries_won"`
	QueriesLost        int        `json:"queries_lost"`
	CompetitorsGaining int        `json:"competitors_gaining"`
	RecommendedAction  string     `json:"recommended_action"`
	NotifiedAt         *time.Time `json:"notified_at,omitempty"`
}

// DomainCount is one entry of a benchmark's top-domains ranking.
type DomainCount struct {
	Domain    string         `json:"domain"`
	Count     int            `json:"count"`
	Platforms map[string]int `json:"platforms,omitempty"`
}

// Benchmark is the cross-tenant rollup for one (period, category). The
// category "all" covers every observation in the window.
type Benchmark struct {
	Period               string         `json:"period"` // ISO week, "2026-W34"
	Category             string         `json:"category"`
	TotalScans           int            `json:"total_scans"`
	TotalRecommendations int            `json:"total_recommendations"`
	UniqueDomains        int            `json:"unique_domains"`
	TopDomains           []DomainCount  `json:"top_domains"`
	PlatformBreakdown    map[string]int `json:"platform_breakdown"`
	ComputedAt           time.Time      `json:"computed_at"`
}

// WeeklyActivity holds the inputs of the momentum score for one site.
type WeeklyActivity struct {
	WonThisWeek       int `json:"won_this_week"`
	TotalThisWeek     int `json:"total_this_week"`
	CitationsThisWeek int `json:"citations_this_week"`
	CitationsLastWeek int `json:"citations_last_week"`
}

// PlatformResult is one platform's answer within a probe check.
type PlatformResult struct {
	Platform           string   `json:"platform"`
	Cited              bool     `json:"cited"`
	RecommendedDomains []string `json:"recommended_domains,omitempty"`
	Query              string   `json:"query,omitempty"`
	CitationURL        string   `json:"citation_url,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// CheckResult is the normalized outcome of one citation probe call. A failed
// transport yields Success=false with zero counts, never an error.
type CheckResult struct {
	SiteID     int64            `json:"site_id"`
	Domain     string           `json:"domain"`
	Success    bool             `json:"success"`
	CitedCount int              `json:"cited_count"`
	Results    []PlatformResult `json:"results,omitempty"`
	CheckedAt  time.Time        `json:"checked_at"`
}
