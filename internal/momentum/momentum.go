// Package momentum computes the derived visibility metrics for a site: the
// 0-100 momentum score, day-over-day drop detection, and the month-over-month
// checkpoint change. Everything here is a pure function over data the caller
// already loaded; persistence and event emission stay with the caller.
package momentum

import (
	"github.com/citewatch/citewatch/internal/models"
)

const (
	winRateWeight = 0.7
	growthWeight  = 0.3

	// DefaultDropThreshold is the queries-won regression that triggers a
	// visibility drop alert.
	DefaultDropThreshold = 2
)

// Score maps a site's recent activity to a 0-100 momentum score. The win
// rate of this week's probe results carries most of the weight; the rest
// comes from week-over-week citation growth mapped from [-1,+1] onto
// [0,100]. A site with no activity at all scores zero.
func Score(a models.WeeklyActivity) int {
	if a.TotalThisWeek == 0 && a.CitationsThisWeek == 0 && a.CitationsLastWeek == 0 {
		return 0
	}

	winRate := 0.0
	if a.TotalThisWeek > 0 {
		winRate = float64(a.WonThisWeek) / float64(a.TotalThisWeek)
	}

	growth := 0.0
	switch {
	case a.CitationsLastWeek > 0:
		growth = float64(a.CitationsThisWeek-a.CitationsLastWeek) / float64(a.CitationsLastWeek)
		if growth > 1 {
			growth = 1
		}
		if growth < -1 {
			growth = -1
		}
	case a.CitationsThisWeek > 0:
		growth = 1
	}

	score := int(100 * (winRateWeight*winRate + growthWeight*(growth+1)/2))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score
}

// Drop describes a detected queries-won regression between the two most
// recent snapshots.
type Drop struct {
	Previous  int
	Current   int
	Magnitude int
}

// DetectDrop compares the two most recent snapshots (ordered newest first)
// and reports a drop when queries won regressed by at least threshold. With
// fewer than two snapshots there is no trend to detect.
func DetectDrop(snapshots []models.Snapshot, threshold int) (Drop, bool) {
	if len(snapshots) < 2 {
		return Drop{}, false
	}

	current := snapshots[0].QueriesWon
	previous := snapshots[1].QueriesWon

	magnitude := previous - current
	if magnitude < threshold {
		return Drop{}, false
	}

	return Drop{Previous: previous, Current: current, Magnitude: magnitude}, true
}

// CheckpointChange computes the month-over-month momentum change. A site
// with no prior checkpoint baselines at zero, so its first month always
// reads as full growth. That is the intended first-report behavior, not a
// fallback.
func CheckpointChange(currentScore int, previous *models.Checkpoint) int {
	if previous == nil {
		return currentScore
	}
	return currentScore - previous.MomentumScore
}

// RecommendAction picks the next-step suggestion rendered in the monthly
// report.
func RecommendAction(score, change int) string {
	switch {
	case change < 0:
		return "Visibility is slipping. Review the queries you stopped winning and refresh the content answering them."
	case score >= 70:
		return "Strong visibility. Expand into adjacent question categories to widen your coverage."
	case score >= 40:
		return "Steady progress. Target the platforms that are not citing you yet."
	default:
		return "Low visibility. Publish authoritative content for your highest-intent queries first."
	}
}
