// Package probe adapts the external citation-checking capability. One call
// checks one (site, domain) pair across every AI platform the capability
// covers and returns a normalized CheckResult. The adapter never persists
// anything and never fails a batch: transport errors come back as an
// unsuccessful result, not an error.
package probe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/metrics"
	"github.com/citewatch/citewatch/internal/models"
)

// Checker is the citation probe contract the pipeline consumes.
type Checker interface {
	Check(ctx context.Context, siteID int64, domain string) models.CheckResult
}

// Client calls the citation probe over HTTP.
type Client struct {
	client *resty.Client
}

var _ Checker = (*Client)(nil)

type checkRequest struct {
	SiteID int64  `json:"site_id"`
	Domain string `json:"domain"`
}

type checkResponse struct {
	Success bool `json:"success"`
	Summary struct {
		CitedCount int `json:"cited_count"`
	} `json:"summary"`
	Results []struct {
		Platform           string   `json:"platform"`
		Cited              bool     `json:"cited"`
		RecommendedDomains []string `json:"recommended_domains"`
		Query              string   `json:"query"`
		CitationURL        string   `json:"citation_url"`
		Error              string   `json:"error"`
	} `json:"results"`
}

// NewClient creates a probe client. The timeout bounds each individual
// check call; a timed-out check is reported as a failed result.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &Client{client: client}
}

// Check runs one citation check. Transport failures, non-2xx responses and
// malformed bodies all produce Success=false with zero counts so a single
// site can never abort the batch it belongs to.
func (c *Client) Check(ctx context.Context, siteID int64, domain string) models.CheckResult {
	result := models.CheckResult{
		SiteID:    siteID,
		Domain:    domain,
		CheckedAt: time.Now().UTC(),
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(checkRequest{SiteID: siteID, Domain: domain}).
		Post("/v1/check")

	if err != nil {
		logrus.Warnf("Citation probe call failed for %s: %v", domain, err)
		metrics.ProbeChecksTotal.WithLabelValues("error").Inc()
		return result
	}

	if resp.StatusCode() != 200 {
		logrus.Warnf("Citation probe returned status %d for %s", resp.StatusCode(), domain)
		metrics.ProbeChecksTotal.WithLabelValues("error").Inc()
		return result
	}

	var body checkResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		logrus.Warnf("Citation probe returned malformed body for %s: %v", domain, err)
		metrics.ProbeChecksTotal.WithLabelValues("error").Inc()
		return result
	}

	result.Success = body.Success
	result.CitedCount = body.Summary.CitedCount
	for _, r := range body.Results {
		result.Results = append(result.Results, models.PlatformResult{
			Platform:           r.Platform,
			Cited:              r.Cited,
			RecommendedDomains: r.RecommendedDomains,
			Query:              r.Query,
			CitationURL:        r.CitationURL,
			Error:              r.Error,
		})
	}

	if result.Success {
		metrics.ProbeChecksTotal.WithLabelValues("success").Inc()
	} else {
		metrics.ProbeChecksTotal.WithLabelValues("failure").Inc()
	}

	return result
}
