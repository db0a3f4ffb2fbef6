package strategies

import (
	"context"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/services/features"
)

// Scalper trades short-term SMA alignment confirmed by a volume spike.
type Scalper struct {
	base
	MinVolumeSpike float64
}

func NewScalper(p Params) *Scalper {
	return &Scalper{base: base{p}, MinVolumeSpike: 2.0}
}

func (s *Scalper) Produce(_ context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if err := needCandles(snap, 21); err != nil {
		return nil, err
	}
	cs := snap.Candles
	closes := models.Closes(cs)
	vols := models.Volumes(cs)

	avgVol := features.Mean(vols[len(vols)-21 : len(vols)-1])
	if avgVol <= 0 {
		return nil, nil
	}
	spike := vols[len(vols)-1] / avgVol
	if spike < s.MinVolumeSpike {
		return nil, nil
	}

	short, long := features.SMA(closes, 10), features.SMA(closes, 20)
	if long <= 0 {
		return nil, nil
	}
	px := snap.Price
	momentum := min(1, abs(short-long)/long/0.01)

	var dir models.Direction
	switch {
	case px > short && short > long:
		dir = models.Long
	case px < short && short < long:
		dir = models.Short
	default:
		return nil, nil
	}
	momentum = min(1, momentum+0.2)

	// where the last candle closed within its range stands in for book pressure
	last := cs[len(cs)-1]
	pressure := 0.5
	if rng := last.High - last.Low; rng > 0 {
		pressure = (last.Close - last.Low) / rng
		if dir == models.Short {
			pressure = 1 - pressure
		}
	}

	conf := pressure*0.4 + min(1, spike/3)*0.3 + momentum*0.3
	return s.emit(snap, dir, conf, s.target(0.0025), volatilityRisk(closes, 20),
		"sma10/20 %s, volume %.1fx, pressure %.2f", dir, spike, pressure), nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
