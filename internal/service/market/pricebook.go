package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/service/cache"
)

// PriceBook keeps the latest price, funding rate and rolling candles per symbol.
// It is fed by the tick pipeline and read by the scanner and the ledger.
type PriceBook struct {
	prices  *cache.TTLCache[float64]
	funding *cache.TTLCache[float64]
	metrics domrepo.Metrics

	mu         sync.RWMutex
	series     map[string][]models.Candle
	timeframes []domrepo.Timeframe
	history    int
}

type Config struct {
	StaleAfter time.Duration
	History    int
	Timeframes []domrepo.Timeframe
}

func NewPriceBook(cfg Config, metrics domrepo.Metrics) *PriceBook {
	if cfg.History <= 0 {
		cfg.History = 240
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = domrepo.AllTimeframes()
	}
	fundingTTL := cfg.StaleAfter * 10
	return &PriceBook{
		prices:     cache.NewTTLCache[float64](cfg.StaleAfter),
		funding:    cache.NewTTLCache[float64](fundingTTL),
		metrics:    metrics,
		series:     make(map[string][]models.Candle),
		timeframes: cfg.Timeframes,
		history:    cfg.History,
	}
}

// WithClock swaps the staleness clock, for tests.
func (b *PriceBook) WithClock(now func() time.Time) *PriceBook {
	b.prices.WithClock(now)
	b.funding.WithClock(now)
	return b
}

func seriesKey(symbol string, tf domrepo.Timeframe) string { return symbol + "|" + string(tf) }

// Process applies one tick. It satisfies the pipeline's downstream interface.
func (b *PriceBook) Process(_ context.Context, t *models.Tick) error {
	if t == nil || t.Symbol == "" || !(t.Price > 0) {
		return fmt.Errorf("%w: bad tick", models.ErrDataUnavailable)
	}
	b.prices.Set(t.Symbol, t.Price)
	if t.HasFunding {
		b.funding.Set(t.Symbol, t.FundingRate)
	}
	if b.metrics != nil {
		b.metrics.RecordLastPrice(t.Symbol, t.Price)
	}

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tf := range b.timeframes {
		key := seriesKey(t.Symbol, tf)
		bucket := ts.UTC().Truncate(tf.Duration())
		cs := b.series[key]
		n := len(cs)
		switch {
		case n > 0 && cs[n-1].Bucket.Equal(bucket):
			c := &cs[n-1]
			c.High = max(c.High, t.Price)
			c.Low = min(c.Low, t.Price)
			c.Close = t.Price
			c.Volume += t.Volume
		case n > 0 && bucket.Before(cs[n-1].Bucket):
			// late tick for a closed bucket
			continue
		default:
			cs = append(cs, models.Candle{
				Bucket: bucket, Symbol: t.Symbol,
				Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume,
			})
			if len(cs) > b.history {
				cs = append(cs[:0:0], cs[len(cs)-b.history:]...)
			}
			b.series[key] = cs
		}
	}
	return nil
}

// Seed loads historical candles ahead of the live series, e.g. from a REST backfill.
func (b *PriceBook) Seed(symbol string, tf domrepo.Timeframe, candles []models.Candle) {
	if len(candles) == 0 {
		return
	}
	sorted := append([]models.Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bucket.Before(sorted[j].Bucket) })

	b.mu.Lock()
	defer b.mu.Unlock()
	key := seriesKey(symbol, tf)
	live := b.series[key]
	merged := make([]models.Candle, 0, len(sorted)+len(live))
	for _, c := range sorted {
		if len(live) > 0 && !c.Bucket.Before(live[0].Bucket) {
			break
		}
		c.Symbol = symbol
		merged = append(merged, c)
	}
	merged = append(merged, live...)
	if len(merged) > b.history {
		merged = merged[len(merged)-b.history:]
	}
	b.series[key] = merged
}

// CurrentPrice returns the latest price unless it is older than the staleness window.
func (b *PriceBook) CurrentPrice(symbol string) (float64, error) {
	px, ok := b.prices.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: no fresh price for %s", models.ErrDataUnavailable, symbol)
	}
	return px, nil
}

// LastPrice returns the latest price regardless of age.
func (b *PriceBook) LastPrice(symbol string) (float64, time.Time, bool) {
	return b.prices.Peek(symbol)
}

// Candles returns up to n most recent candles, oldest first.
func (b *PriceBook) Candles(symbol string, tf domrepo.Timeframe, n int) []models.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cs := b.series[seriesKey(symbol, tf)]
	if n > 0 && len(cs) > n {
		cs = cs[len(cs)-n:]
	}
	return append([]models.Candle(nil), cs...)
}

// Timeframes lists the aggregated resolutions.
func (b *PriceBook) Timeframes() []domrepo.Timeframe {
	return append([]domrepo.Timeframe(nil), b.timeframes...)
}

func (b *PriceBook) FundingRate(symbol string) (float64, bool) {
	return b.funding.Get(symbol)
}

// Symbols lists symbols with a fresh price.
func (b *PriceBook) Symbols() []string {
	out := b.prices.Keys()
	sort.Strings(out)
	return out
}

var _ domrepo.MarketData = (*PriceBook)(nil)
