package strategies

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func snapshot(symbol, tf string, price float64, cs []models.Candle) models.MarketSnapshot {
	return models.MarketSnapshot{Symbol: symbol, Timeframe: tf, Price: price, Candles: cs, At: t0}
}

func candles(closes []float64, vol float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Bucket: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: vol}
	}
	return out
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestScalper(t *testing.T) {
	s := NewScalper(Params{ID: "hf_scalping", MinConfidence: 0.75})
	ctx := context.Background()

	cs := candles(ramp(100, 0.1, 21), 1)
	cs[20].Volume = 5
	cs[20].Low = cs[20].Close - 1

	opp, err := s.Produce(ctx, snapshot("BTCUSDT", "1m", 102.05, cs))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Long, opp.Direction)
	assert.InDelta(t, 0.9085, opp.Confidence, 1e-3)
	assert.Equal(t, 0.0025, opp.ExpectedReturn)
	assert.Equal(t, 102.05, opp.EntryPrice)
	assert.Equal(t, "hf_scalping", opp.StrategyID)

	down := candles(ramp(102, -0.1, 21), 1)
	down[20].Volume = 5
	down[20].High = down[20].Close + 1
	opp, err = s.Produce(ctx, snapshot("BTCUSDT", "1m", 99.95, down))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Short, opp.Direction)

	quiet := candles(ramp(100, 0.1, 21), 1)
	opp, err = s.Produce(ctx, snapshot("BTCUSDT", "1m", 102.05, quiet))
	require.NoError(t, err)
	assert.Nil(t, opp, "no volume spike")

	_, err = s.Produce(ctx, snapshot("BTCUSDT", "1m", 100, cs[:10]))
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestBreakout(t *testing.T) {
	b := NewBreakout(Params{ID: "momentum", MinConfidence: 0.7})
	ctx := context.Background()

	cs := candles(ramp(99.5, 0.05, 21), 2)
	for i := 0; i < 20; i++ {
		cs[i].High, cs[i].Low = 101, 99
	}
	cs[20] = models.Candle{Bucket: cs[20].Bucket, Open: 100.5, High: 102, Low: 100.4, Close: 101.8, Volume: 10}

	opp, err := b.Produce(ctx, snapshot("ETHUSDT", "15m", 101.8, cs))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Long, opp.Direction)
	assert.InDelta(t, 0.997, opp.Confidence, 1e-3)
	assert.Equal(t, 0.012, opp.ExpectedReturn)

	cs[20].Volume = 3
	opp, err = b.Produce(ctx, snapshot("ETHUSDT", "15m", 101.8, cs))
	require.NoError(t, err)
	assert.Nil(t, opp, "volume below 3x")
}

func TestPairReversion(t *testing.T) {
	s := NewPairReversion(Params{ID: "stat_arb", MinConfidence: 0.65})
	ctx := context.Background()

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10
	}
	closes[59] = 11
	snap := snapshot("SOLUSDT", "1h", 11, candles(closes, 1))
	snap.Reference = candles(ramp(100, 0, 60), 1)

	opp, err := s.Produce(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Short, opp.Direction)
	assert.Equal(t, 1.0, opp.Confidence)
	assert.Equal(t, 0.02, opp.ExpectedReturn)

	snap.Reference = nil
	opp, err = s.Produce(ctx, snap)
	assert.NoError(t, err)
	assert.Nil(t, opp)

	snap.Reference = candles(ramp(100, 0, 10), 1)
	_, err = s.Produce(ctx, snap)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestFundingCarry(t *testing.T) {
	f := NewFundingCarry(Params{ID: "funding_arb", MinConfidence: 0.8})
	ctx := context.Background()
	snap := snapshot("BTCUSDT", "8h", 64000, nil)

	_, err := f.Produce(ctx, snap)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)

	snap.HasFunding = true
	snap.FundingRate = 0.0012
	opp, err := f.Produce(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Short, opp.Direction)
	assert.Equal(t, 1.0, opp.Confidence)
	assert.Equal(t, 0.0012, opp.ExpectedReturn)

	snap.FundingRate = -0.0009
	opp, err = f.Produce(ctx, snap)
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Long, opp.Direction)
	assert.InDelta(t, 0.9, opp.Confidence, 1e-9)

	snap.FundingRate = 0.0005 // confidence floor 0.70 < 0.8
	opp, err = f.Produce(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, opp)

	snap.FundingRate = 0.0001
	opp, err = f.Produce(ctx, snap)
	require.NoError(t, err)
	assert.Nil(t, opp)
}

func TestGrid(t *testing.T) {
	g := NewGrid(Params{ID: "grid", MinConfidence: 0.7})
	ctx := context.Background()

	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 99
		if i%2 == 1 {
			closes[i] = 101
		}
	}
	cs := candles(closes, 1)
	for i := range cs {
		cs[i].High, cs[i].Low = cs[i].Close+0.5, cs[i].Close-0.5
	}

	opp, err := g.Produce(ctx, snapshot("XRPUSDT", "5m", 98.8, cs))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Long, opp.Direction)
	assert.InDelta(t, 0.82, opp.Confidence, 1e-9)
	assert.Equal(t, 0.0018, opp.ExpectedReturn)

	opp, err = g.Produce(ctx, snapshot("XRPUSDT", "5m", 101.4, cs))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Short, opp.Direction)

	opp, err = g.Produce(ctx, snapshot("XRPUSDT", "5m", 105, cs))
	require.NoError(t, err)
	assert.Nil(t, opp, "outside range")

	trend := candles(ramp(100, 1, 50), 1)
	opp, err = g.Produce(ctx, snapshot("XRPUSDT", "5m", 120, trend))
	require.NoError(t, err)
	assert.Nil(t, opp, "trending")
}

func TestRemote(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/opportunities", r.URL.Path)
		var req remoteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Symbol {
		case "FLAKYUSDT":
			if n%2 == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
		case "NONEUSDT":
			_, _ = w.Write([]byte(`{"opportunity":null}`))
			return
		case "BADUSDT":
			_, _ = w.Write([]byte(`{"opportunity":{"direction":"up","confidence":0.9}}`))
			return
		}
		assert.Equal(t, "ml", req.Strategy)
		_, _ = w.Write([]byte(`{"opportunity":{"direction":"LONG","confidence":0.8,"expected_return":0.01,"risk":0.3,"reason":"model"}}`))
	}))
	defer srv.Close()

	r, err := NewRemote(Params{ID: "ml", Kind: "remote"}, RemoteOptions{URL: srv.URL + "/", Attempts: 2, MaxRPS: 100})
	require.NoError(t, err)
	ctx := context.Background()

	opp, err := r.Produce(ctx, snapshot("BTCUSDT", "5m", 100, nil))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, models.Long, opp.Direction)
	assert.Equal(t, "model", opp.Reason)
	assert.Equal(t, 0.01, opp.ExpectedReturn)

	opp, err = r.Produce(ctx, snapshot("NONEUSDT", "5m", 100, nil))
	require.NoError(t, err)
	assert.Nil(t, opp)

	_, err = r.Produce(ctx, snapshot("BADUSDT", "5m", 100, nil))
	assert.ErrorContains(t, err, "invalid direction")

	calls.Store(0)
	opp, err = r.Produce(ctx, snapshot("FLAKYUSDT", "5m", 100, nil))
	require.NoError(t, err, "second attempt succeeds")
	assert.NotNil(t, opp)

	_, err = NewRemote(Params{ID: "ml"}, RemoteOptions{})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	for kind, want := range map[string]any{
		"hf_scalping": &Scalper{},
		"momentum":    &Breakout{},
		"stat_arb":    &PairReversion{},
		"funding_arb": &FundingCarry{},
		"grid":        &Grid{},
	} {
		src, err := Build(Params{ID: kind, Kind: kind}, RemoteOptions{})
		require.NoError(t, err, kind)
		assert.IsType(t, want, src)
		assert.Equal(t, DefaultTimeframes(kind), src.Timeframes())
	}

	src, err := Build(Params{ID: "g2", Kind: "grid", Timeframes: []string{"1h"}}, RemoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1h"}, src.Timeframes())
	assert.Equal(t, "g2", src.ID())

	_, err = Build(Params{ID: "x", Kind: "oracle"}, RemoteOptions{})
	assert.Error(t, err)
	_, err = Build(Params{ID: "r", Kind: "remote"}, RemoteOptions{})
	assert.Error(t, err)
	_, err = Build(Params{Kind: "grid"}, RemoteOptions{})
	assert.Error(t, err)
}
