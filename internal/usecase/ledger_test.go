package usecase

import (
	"fmt"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	return NewLedger(LedgerConfig{
		InitialCapital:  500,
		CeilingFraction: 0.9,
		MaxPositions:    3,
		MaxHolding:      time.Hour,
		Strategies: map[string]StrategyParams{
			"scalp": {Leverage: 10, StopLossPct: 0.01, TakeProfitPct: 0.02},
		},
	})
}

func TestLedger_AdmitAndDuplicate(t *testing.T) {
	l := newTestLedger()
	o := opp("scalp", "BTCUSDT", "1m", 0.8, 0.01, 0.1)

	p, err := l.Admit(o, 10, 1, t0)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 10.0, p.Leverage)
	assert.InDelta(t, 99, p.StopLossPrice, 1e-9)
	assert.InDelta(t, 102, p.TakeProfitPrice, 1e-9)

	_, err = l.Admit(o, 10, 1, t0)
	assert.ErrorIs(t, err, models.ErrDuplicateExposure)

	// another timeframe is a different combination
	_, err = l.Admit(opp("scalp", "BTCUSDT", "5m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)

	c := l.Snapshot()
	assert.Equal(t, 2, c.OpenPositions)
	assert.InDelta(t, 20, c.DeployedCapital, 1e-9)
	assert.InDelta(t, 480, c.AvailableCapital, 1e-9)
	assert.NoError(t, l.Verify())
}

func TestLedger_DefaultExitLevels(t *testing.T) {
	l := newTestLedger()
	long, err := l.Admit(opp("momentum", "ETHUSDT", "15m", 0.8, 0.01, 0.1), 5, 1, t0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, long.Leverage)
	assert.InDelta(t, 99.5, long.StopLossPrice, 1e-9)
	assert.InDelta(t, 101, long.TakeProfitPrice, 1e-9)

	o := opp("momentum", "SOLUSDT", "15m", 0.8, 0.0001, 0.1)
	o.Direction = models.Short
	short, err := l.Admit(o, 5, 1, t0)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, short.StopLossPrice, 1e-9)
	assert.InDelta(t, 99.8, short.TakeProfitPrice, 1e-9)
}

func TestLedger_InvariantViolations(t *testing.T) {
	l := newTestLedger()

	_, err := l.Admit(opp("a", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 451, 1, t0)
	assert.ErrorIs(t, err, models.ErrCapitalInvariant, "ceiling is 450")

	_, err = l.Admit(opp("a", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 0, 1, t0)
	assert.ErrorIs(t, err, models.ErrCapitalInvariant)

	for _, sym := range []string{"A", "B", "C"} {
		_, err := l.Admit(opp("a", sym, "1m", 0.8, 0.01, 0.1), 1, 1, t0)
		require.NoError(t, err)
	}
	_, err = l.Admit(opp("a", "D", "1m", 0.8, 0.01, 0.1), 1, 1, t0)
	var ie *models.CapitalInvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Open)
}

func TestLedger_EvaluateExits(t *testing.T) {
	l := newTestLedger()
	_, err := l.Admit(opp("scalp", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)
	_, err = l.Admit(opp("scalp", "ETHUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0.Add(time.Second))
	require.NoError(t, err)
	_, err = l.Admit(opp("scalp", "SOLUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0.Add(2*time.Second))
	require.NoError(t, err)

	prices := newFakePrices("BTCUSDT", 98.0, "ETHUSDT", 103.0)

	closed, deferred := l.EvaluateExits(prices, 1, t0.Add(time.Minute))
	assert.Empty(t, closed, "positions opened this cycle are not evaluated")
	assert.Zero(t, deferred)

	closed, deferred = l.EvaluateExits(prices, 2, t0.Add(time.Minute))
	require.Len(t, closed, 2)
	assert.Equal(t, 1, deferred, "SOLUSDT has no price")

	byReason := map[models.ExitReason]models.ClosedPosition{}
	for _, c := range closed {
		byReason[c.Reason] = c
	}
	sl := byReason[models.ExitStopLoss]
	assert.Equal(t, "BTCUSDT", sl.Symbol)
	// notional 100, move -2%
	assert.InDelta(t, -2, sl.PnL, 1e-9)
	tp := byReason[models.ExitTakeProfit]
	assert.InDelta(t, 3, tp.PnL, 1e-9)

	c := l.Snapshot()
	assert.InDelta(t, 501, c.TotalCapital, 1e-9)
	assert.InDelta(t, 10, c.DeployedCapital, 1e-9)
	assert.Equal(t, 1, c.Wins)
	assert.Equal(t, 1, c.Losses)
	assert.InDelta(t, 501, c.PeakCapital, 1e-9)

	prices.set("SOLUSDT", 100.5)
	closed, _ = l.EvaluateExits(prices, 3, t0.Add(2*time.Hour))
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitMaxHolding, closed[0].Reason)
	assert.Zero(t, l.Snapshot().OpenPositions)
	assert.NoError(t, l.Verify())
}

func TestLedger_LossCappedAtMarginAndFees(t *testing.T) {
	l := NewLedger(LedgerConfig{
		InitialCapital: 500,
		MaxPositions:   10,
		FeeRate:        0.0004,
		Strategies:     map[string]StrategyParams{"lev": {Leverage: 20, StopLossPct: 0.5, TakeProfitPct: 0.5}},
	})
	p, err := l.Admit(opp("lev", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)

	c, err := l.Close(p.ID, 90, models.ExitManual, t0)
	require.NoError(t, err)
	assert.InDelta(t, -10, c.PnL, 1e-9, "a 10% move at 20x cannot lose more than the margin")
	assert.InDelta(t, 200*0.0004*2, c.Fees, 1e-9)

	_, err = l.Close(p.ID, 90, models.ExitManual, t0)
	assert.ErrorIs(t, err, models.ErrPositionNotFound)
}

func TestLedger_ForceCloseAllPriceFallback(t *testing.T) {
	l := newTestLedger()
	_, err := l.Admit(opp("scalp", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)
	_, err = l.Admit(opp("scalp", "ETHUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)
	_, err = l.Admit(opp("scalp", "SOLUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)

	// BTC last seen at 100.5 during an evaluation, then the feed goes silent
	prices := newFakePrices("BTCUSDT", 100.5)
	l.EvaluateExits(prices, 2, t0)
	prices.drop("BTCUSDT")
	prices.set("ETHUSDT", 101)

	closed := l.ForceCloseAll(prices, models.ExitBreaker, t0)
	require.Len(t, closed, 3)
	notes := map[string]models.ClosedPosition{}
	for _, c := range closed {
		assert.Equal(t, models.ExitBreaker, c.Reason)
		notes[c.Symbol] = c
	}
	assert.Equal(t, "last_known_price", notes["BTCUSDT"].Note)
	assert.Equal(t, 100.5, notes["BTCUSDT"].ExitPrice)
	assert.Empty(t, notes["ETHUSDT"].Note)
	assert.Equal(t, 101.0, notes["ETHUSDT"].ExitPrice)
	assert.Equal(t, 100.0, notes["SOLUSDT"].ExitPrice, "entry price is observed at admission")

	c := l.Snapshot()
	assert.Zero(t, c.OpenPositions)
	assert.Zero(t, c.DeployedCapital)
	assert.NoError(t, l.Verify())
}

func TestLedger_ResetAndDaily(t *testing.T) {
	l := newTestLedger()
	p, err := l.Admit(opp("scalp", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)
	assert.Error(t, l.Reset(1000), "reset refused with open positions")

	_, err = l.Close(p.ID, 101, models.ExitManual, t0)
	require.NoError(t, err)
	// 1% on 100 notional
	assert.InDelta(t, 1, l.Snapshot().RealizedPnLToday, 1e-9)

	l.ResetDaily()
	c := l.Snapshot()
	assert.Zero(t, c.RealizedPnLToday)
	assert.InDelta(t, 1, c.RealizedPnLTotal, 1e-9)

	stats := l.StrategyStats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Wins)
	assert.InDelta(t, 1, l.StrategyPnL()["scalp"], 1e-9)

	require.NoError(t, l.Reset(1000))
	c = l.Snapshot()
	assert.Equal(t, 1000.0, c.TotalCapital)
	assert.Equal(t, 1000.0, c.PeakCapital)
	assert.Zero(t, c.RealizedPnLTotal)
	assert.Empty(t, l.StrategyStats())
}

func TestLedger_Occupied(t *testing.T) {
	l := newTestLedger()
	_, err := l.Admit(opp("scalp", "BTCUSDT", "1m", 0.8, 0.01, 0.1), 10, 1, t0)
	require.NoError(t, err)
	occ := l.Occupied()
	assert.Contains(t, occ, "scalp|BTCUSDT|1m")
	assert.Len(t, occ, 1)
}

func TestLedger_AllocationsFillCeilingExactly(t *testing.T) {
	cfg := SchedulerConfig{CeilingFraction: 0.9, MaxCycleDeploymentFraction: 1}

	for cents := 10000; cents < 100000; cents += 313 {
		capital := float64(cents) / 100
		for _, frac := range []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3} {
			l := NewLedger(LedgerConfig{InitialCapital: capital, CeilingFraction: 0.9, MaxPositions: 100, MaxHolding: time.Hour})
			a := NewAllocator(AllocatorConfig{MinFraction: frac, BaseFraction: frac, MaxFraction: frac, MaxPositions: 100})
			sched := &Scheduler{cfg: cfg, ledger: l}

			for round := 0; round < 30; round++ {
				candidates := make([]models.Ranked, 5)
				for i := range candidates {
					sym := fmt.Sprintf("S%02d%dUSDT", round, i)
					candidates[i] = models.Ranked{Opportunity: opp("grid", sym, "5m", 0.8, 0.01, 0.1), Score: 0.5}
				}
				snap := l.Snapshot()
				allocs := a.Allocate(candidates, sched.budget(snap), snap.TotalCapital, snap.OpenPositions)
				if len(allocs) == 0 {
					break
				}
				for _, al := range allocs {
					_, err := l.AdmitAllocation(al, uint64(round+1), t0)
					require.NoError(t, err, "capital=%.2f frac=%.2f", capital, frac)
				}
			}
			require.NoError(t, l.Verify())
			require.NoError(t, sched.checkInvariants(), "capital=%.2f frac=%.2f", capital, frac)
		}
	}
}
