package analytics

import (
	"testing"
	"time"

	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deployed = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testVersion() *models.Version {
	return &models.Version{ID: 1, Tag: "v1", InitialCash: 10000, DeployedAt: deployed}
}

func snap(ts time.Time, equity float64) models.EquitySnapshot {
	return models.EquitySnapshot{VersionID: 1, Ts: ts, Equity: equity}
}

func trip(net float64) reconcile.RoundTrip {
	gross := net
	return reconcile.RoundTrip{Symbol: "BTC-USD", Quantity: 1, GrossPnL: gross, NetPnL: net}
}

func TestSimpleMeanReturns(t *testing.T) {
	p := SimpleMean{}
	assert.Nil(t, p.Returns([]float64{10000}))
	assert.InDeltaSlice(t, []float64{0.01, -0.02}, p.Returns([]float64{10000, 10100, 9898}), 1e-9)
}

func TestComputeTotalReturnAndDrawdown(t *testing.T) {
	snaps := []models.EquitySnapshot{
		snap(deployed, 10000),
		snap(deployed.Add(6*time.Hour), 12000),
		snap(deployed.Add(12*time.Hour), 9000),
		snap(deployed.Add(18*time.Hour), 11000),
	}

	perf := Compute(testVersion(), snaps, nil, SimpleMean{}, false, deployed.Add(24*time.Hour))

	assert.InDelta(t, 10.0, perf.TotalReturnPct, 1e-9)
	// peak 12000 to trough 9000
	assert.InDelta(t, 25.0, perf.MaxDrawdownPct, 1e-9)
	assert.Equal(t, "simple_mean", perf.ReturnPolicy)
}

func TestComputeSharpeFromDayEndEquity(t *testing.T) {
	// two snapshots on day one; only the later one counts as the day's close
	snaps := []models.EquitySnapshot{
		snap(deployed.Add(1*time.Hour), 9500),
		snap(deployed.Add(20*time.Hour), 10000),
		snap(deployed.Add(44*time.Hour), 12000),
		snap(deployed.Add(68*time.Hour), 12600),
	}

	perf := Compute(testVersion(), snaps, nil, SimpleMean{}, false, deployed.Add(72*time.Hour))

	// daily returns 0.20 and 0.05: mean 0.125, population stdev 0.075
	require.NotNil(t, perf.SharpeRatio)
	assert.InDelta(t, 0.125/0.075, *perf.SharpeRatio, 1e-9)
	assert.InDelta(t, 12.5, perf.DailyReturnPct, 1e-9)
}

func TestSharpeNilCases(t *testing.T) {
	t.Run("under two days", func(t *testing.T) {
		snaps := []models.EquitySnapshot{snap(deployed, 10000), snap(deployed.Add(time.Hour), 10100)}
		perf := Compute(testVersion(), snaps, nil, SimpleMean{}, false, deployed.Add(2*time.Hour))
		assert.Nil(t, perf.SharpeRatio)
	})

	t.Run("zero variance", func(t *testing.T) {
		snaps := []models.EquitySnapshot{
			snap(deployed, 10000),
			snap(deployed.Add(24*time.Hour), 11000),
			snap(deployed.Add(48*time.Hour), 12100),
		}
		perf := Compute(testVersion(), snaps, nil, SimpleMean{}, false, deployed.Add(72*time.Hour))
		assert.Nil(t, perf.SharpeRatio)
	})
}

func TestComputeTripStats(t *testing.T) {
	trips := []reconcile.RoundTrip{trip(50), trip(-20), trip(0), trip(30)}

	perf := Compute(testVersion(), nil, trips, SimpleMean{}, false, deployed.Add(48*time.Hour))

	assert.Equal(t, 4, perf.TotalTrades)
	// zero-pnl trip counts in the denominator but is not a win
	assert.InDelta(t, 50.0, perf.WinRate, 1e-9)
	require.NotNil(t, perf.ProfitFactor)
	assert.InDelta(t, 4.0, *perf.ProfitFactor, 1e-9)
	assert.InDelta(t, 2.0, perf.TradesPerDay, 1e-9)
}

func TestProfitFactorNilWithoutLosers(t *testing.T) {
	perf := Compute(testVersion(), nil, []reconcile.RoundTrip{trip(10), trip(5)}, SimpleMean{}, false, deployed.Add(24*time.Hour))
	assert.Nil(t, perf.ProfitFactor)
	assert.InDelta(t, 100.0, perf.WinRate, 1e-9)
}

func TestTradesPerDayFloorsShortIntervals(t *testing.T) {
	// scored five minutes after deploy: rate uses the one-hour floor
	perf := Compute(testVersion(), nil, []reconcile.RoundTrip{trip(1)}, SimpleMean{}, false, deployed.Add(5*time.Minute))
	assert.InDelta(t, 24.0, perf.TradesPerDay, 1e-9)
}

func TestDegradedSkipsTripStats(t *testing.T) {
	perf := Compute(testVersion(), nil, []reconcile.RoundTrip{trip(50)}, SimpleMean{}, true, deployed.Add(24*time.Hour))

	assert.True(t, perf.Degraded)
	assert.Zero(t, perf.TotalTrades)
	assert.Zero(t, perf.WinRate)
	assert.Nil(t, perf.ProfitFactor)
}

func TestPeriodEndsAtRetirement(t *testing.T) {
	v := testVersion()
	retired := deployed.Add(10 * time.Hour)
	v.RetiredAt = &retired

	perf := Compute(v, nil, nil, SimpleMean{}, false, deployed.Add(100*time.Hour))
	assert.Equal(t, retired, perf.PeriodEnd)
}
