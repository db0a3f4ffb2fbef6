package strategies

import (
	"fmt"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/services/features"
)

// Params are the per-strategy settings every built-in source shares.
type Params struct {
	ID            string
	Kind          string
	Timeframes    []string
	MinConfidence float64
	TakeProfitPct float64
}

type base struct {
	p Params
}

func (b base) ID() string { return b.p.ID }

func (b base) Timeframes() []string { return append([]string(nil), b.p.Timeframes...) }

// target returns the configured take-profit, or def when unset.
func (b base) target(def float64) float64 {
	if b.p.TakeProfitPct > 0 {
		return b.p.TakeProfitPct
	}
	return def
}

// emit builds the opportunity, or nil when confidence is under the strategy floor.
func (b base) emit(snap models.MarketSnapshot, dir models.Direction, conf, er, risk float64, reason string, args ...any) *models.Opportunity {
	conf = features.Clamp01(conf)
	if conf < b.p.MinConfidence {
		return nil
	}
	return &models.Opportunity{
		StrategyID:     b.p.ID,
		Symbol:         snap.Symbol,
		Timeframe:      snap.Timeframe,
		Direction:      dir,
		Confidence:     conf,
		ExpectedReturn: er,
		Risk:           features.Clamp01(risk),
		EntryPrice:     snap.Price,
		Reason:         fmt.Sprintf(reason, args...),
		ProducedAt:     snap.At,
	}
}

// volatilityRisk maps recent return dispersion to [0,1]; 2% per bar saturates.
func volatilityRisk(closes []float64, window int) float64 {
	return features.Clamp01(features.Volatility(closes, window) / 0.02)
}

func needCandles(snap models.MarketSnapshot, n int) error {
	if len(snap.Candles) < n {
		return fmt.Errorf("%w: %s %s has %d/%d candles", models.ErrDataUnavailable, snap.Symbol, snap.Timeframe, len(snap.Candles), n)
	}
	return nil
}
