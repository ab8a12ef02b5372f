package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/reconcile"
)

// minScoredDuration floors the interval used for per-day rates so that a
// version scored minutes after deploy does not report an absurd trade rate.
const minScoredDuration = time.Hour

// ReturnPolicy turns a day-end equity series into a daily return series.
// The policy name is persisted with every performance row so historical
// rows remain interpretable if the default ever changes.
type ReturnPolicy interface {
	Name() string
	Returns(dayEndEquity []float64) []float64
}

// SimpleMean computes simple (arithmetic) daily returns.
type SimpleMean struct{}

func (SimpleMean) Name() string { return "simple_mean" }

func (SimpleMean) Returns(dayEndEquity []float64) []float64 {
	if len(dayEndEquity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(dayEndEquity)-1)
	for i := 1; i < len(dayEndEquity); i++ {
		prev := dayEndEquity[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, dayEndEquity[i]/prev-1)
	}
	return out
}

// Compute derives the full statistics row for one version from its equity
// snapshots and reconstructed round trips. degraded marks rows whose fill
// log failed reconciliation; their trip-based metrics are zeroed but the
// equity-based ones still stand.
func Compute(
	version *models.Version,
	snapshots []models.EquitySnapshot,
	trips []reconcile.RoundTrip,
	policy ReturnPolicy,
	degraded bool,
	now time.Time,
) models.VersionPerformance {
	perf := models.VersionPerformance{
		VersionID:    version.ID,
		PeriodStart:  version.DeployedAt,
		PeriodEnd:    version.ActiveUntil(now),
		ReturnPolicy: policy.Name(),
		Degraded:     degraded,
		UpdatedAt:    now,
	}

	if len(snapshots) > 0 && version.InitialCash > 0 {
		last := snapshots[len(snapshots)-1].Equity
		perf.TotalReturnPct = (last - version.InitialCash) / version.InitialCash * 100
	}
	perf.MaxDrawdownPct = maxDrawdownPct(snapshots)

	returns := policy.Returns(dayEndEquities(snapshots))
	if len(returns) > 0 {
		perf.DailyReturnPct = mean(returns) * 100
	}
	perf.SharpeRatio = sharpe(returns)

	if !degraded {
		applyTripStats(&perf, trips)
	}
	return perf
}

func applyTripStats(perf *models.VersionPerformance, trips []reconcile.RoundTrip) {
	perf.TotalTrades = len(trips)

	duration := perf.PeriodEnd.Sub(perf.PeriodStart)
	if duration < minScoredDuration {
		duration = minScoredDuration
	}
	perf.TradesPerDay = float64(len(trips)) / (duration.Hours() / 24)

	if len(trips) == 0 {
		return
	}

	var wins int
	var grossWins, grossLosses float64
	for _, trip := range trips {
		switch {
		case trip.NetPnL > 0:
			wins++
			grossWins += trip.NetPnL
		case trip.NetPnL < 0:
			grossLosses += -trip.NetPnL
		}
		// zero-pnl trips count in the denominator only
	}
	perf.WinRate = float64(wins) / float64(len(trips)) * 100
	if grossLosses > 0 {
		pf := grossWins / grossLosses
		perf.ProfitFactor = &pf
	}
}

// dayEndEquities buckets snapshots by UTC calendar day and keeps the last
// equity of each day, in day order. Snapshots are assumed time-ordered.
func dayEndEquities(snapshots []models.EquitySnapshot) []float64 {
	var days []time.Time
	byDay := make(map[time.Time]float64)
	for _, s := range snapshots {
		day := s.Ts.UTC().Truncate(24 * time.Hour)
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = s.Equity
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]float64, 0, len(days))
	for _, day := range days {
		out = append(out, byDay[day])
	}
	return out
}

// sharpe is the unannualized ratio of mean daily return to its population
// standard deviation. It stays nil below two return observations or at zero
// variance rather than reporting a misleading number.
func sharpe(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	m := mean(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return nil
	}
	s := m / math.Sqrt(variance)
	return &s
}

func maxDrawdownPct(snapshots []models.EquitySnapshot) float64 {
	var peak, worst float64
	for _, s := range snapshots {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			dd := (peak - s.Equity) / peak * 100
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
