package strategies

import (
	"context"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/services/features"
)

// Breakout trades a close beyond the lookback range on heavy volume with RSI agreement.
type Breakout struct {
	base
	Lookback       int
	MinVolumeRatio float64
	MinBreakout    float64
}

func NewBreakout(p Params) *Breakout {
	return &Breakout{base: base{p}, Lookback: 20, MinVolumeRatio: 3.0, MinBreakout: 0.001}
}

func (b *Breakout) Produce(_ context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if err := needCandles(snap, b.Lookback+1); err != nil {
		return nil, err
	}
	cs := snap.Candles
	last := cs[len(cs)-1]
	window := cs[len(cs)-1-b.Lookback : len(cs)-1]
	resistance, support := features.Range(window)

	avgVol := features.Mean(models.Volumes(window))
	if avgVol <= 0 {
		return nil, nil
	}
	volRatio := last.Volume / avgVol
	if volRatio < b.MinVolumeRatio {
		return nil, nil
	}

	closes := models.Closes(cs)
	rsi := features.RSI(closes, 14)
	risk := volatilityRisk(closes, 20)
	er := b.target(0.012)

	switch {
	case resistance > 0 && last.High > resistance:
		strength := (last.High - resistance) / resistance
		if strength <= b.MinBreakout || rsi < 60 {
			return nil, nil
		}
		conf := min(1, volRatio/5)*0.4 + min(1, (rsi-50)/50)*0.3 + min(1, strength/0.01)*0.3
		return b.emit(snap, models.Long, conf, er, risk, "breakout above %.4f, vol %.1fx, rsi %.0f", resistance, volRatio, rsi), nil
	case support > 0 && last.Low < support:
		strength := (support - last.Low) / support
		if strength <= b.MinBreakout || rsi > 40 {
			return nil, nil
		}
		conf := min(1, volRatio/5)*0.4 + min(1, (50-rsi)/50)*0.3 + min(1, strength/0.01)*0.3
		return b.emit(snap, models.Short, conf, er, risk, "breakdown below %.4f, vol %.1fx, rsi %.0f", support, volRatio, rsi), nil
	}
	return nil, nil
}
