package analytics

import (
	"sort"
	"time"

	"github.com/perp-arena/internal/models"
)

// LeaderboardEntry pairs a version with its performance row for ranking.
type LeaderboardEntry struct {
	Version     models.Version            `json:"version"`
	Performance models.VersionPerformance `json:"performance"`
}

// Leaderboard ranks entries by Sharpe ratio descending with nil Sharpe
// sorted last, breaking ties on total return descending. Entries scored
// over less than minDuration are filtered out: a version that ran for two
// hours has no business outranking one that survived a week.
func Leaderboard(entries []LeaderboardEntry, minDuration time.Duration) []LeaderboardEntry {
	ranked := make([]LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if e.Performance.PeriodEnd.Sub(e.Performance.PeriodStart) >= minDuration {
			ranked = append(ranked, e)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Performance, ranked[j].Performance
		switch {
		case a.SharpeRatio != nil && b.SharpeRatio == nil:
			return true
		case a.SharpeRatio == nil && b.SharpeRatio != nil:
			return false
		case a.SharpeRatio != nil && b.SharpeRatio != nil && *a.SharpeRatio != *b.SharpeRatio:
			return *a.SharpeRatio > *b.SharpeRatio
		}
		return a.TotalReturnPct > b.TotalReturnPct
	})
	return ranked
}
