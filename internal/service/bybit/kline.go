package bybit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"SwarmTrader/internal/domain/models"
	drepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/service/ratelimit"
	pkghttp "SwarmTrader/pkg/http"
	"SwarmTrader/pkg/logger"
)

var klineIntervals = map[drepo.Timeframe]string{
	drepo.TF1m:  "1",
	drepo.TF3m:  "3",
	drepo.TF5m:  "5",
	drepo.TF15m: "15",
	drepo.TF30m: "30",
	drepo.TF1h:  "60",
	drepo.TF4h:  "240",
}

// Seeder accepts historical candles, implemented by the price book.
type Seeder interface {
	Seed(symbol string, tf drepo.Timeframe, candles []models.Candle)
}

// KlineClient backfills candle history from the public REST API so strategies
// have a full lookback on startup instead of waiting for live ticks.
type KlineClient struct {
	baseURL string
	http    *pkghttp.Client
	limiter *ratelimit.Limiter
	rps     float64
	logger  *logger.Logger
}

func NewKlineClient(baseURL string, client *pkghttp.Client, rps float64, log *logger.Logger) *KlineClient {
	if rps <= 0 {
		rps = 5
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KlineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		limiter: ratelimit.New(),
		rps:     rps,
		logger:  log.With("bybit_kline"),
	}
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	} `json:"result"`
}

// Fetch returns up to limit candles oldest first.
func (k *KlineClient) Fetch(ctx context.Context, symbol string, tf drepo.Timeframe, limit int) ([]models.Candle, error) {
	interval, ok := klineIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("kline interval %s not supported", tf)
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if err := k.limiter.Wait(ctx, "kline", k.rps, k.rps); err != nil {
		return nil, err
	}
	var resp klineResponse
	err := k.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    k.baseURL + "/v5/market/kline",
		QueryParams: map[string][]string{
			"category": {"linear"},
			"symbol":   {symbol},
			"interval": {interval},
			"limit":    {strconv.Itoa(limit)},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("kline %s %s: %w", symbol, tf, err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("kline %s %s: code %d: %s", symbol, tf, resp.RetCode, resp.RetMsg)
	}

	out := make([]models.Candle, 0, len(resp.Result.List))
	// rows arrive newest first: [start, open, high, low, close, volume, turnover]
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 6 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		bad := false
		for j := range vals {
			v, ok := parseFloat(row[j+1])
			if !ok {
				bad = true
				break
			}
			vals[j] = v
		}
		if bad {
			continue
		}
		out = append(out, models.Candle{
			Bucket: time.UnixMilli(start).UTC(),
			Symbol: symbol,
			Open:   vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return out, nil
}

// Backfill seeds every symbol and supported timeframe. Failures are logged and
// joined; a partial backfill still leaves the book usable.
func (k *KlineClient) Backfill(ctx context.Context, dst Seeder, symbols []string, tfs []drepo.Timeframe, limit int) error {
	var errs []error
	seeded := 0
	for _, sym := range symbols {
		for _, tf := range tfs {
			if _, ok := klineIntervals[tf]; !ok {
				continue
			}
			cs, err := k.Fetch(ctx, sym, tf, limit)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				k.logger.Warn("backfill failed", logger.String("symbol", sym), logger.String("tf", string(tf)), logger.Error(err))
				errs = append(errs, err)
				continue
			}
			dst.Seed(sym, tf, cs)
			seeded++
		}
	}
	k.logger.Info("backfill done", logger.Int("series", seeded), logger.Int("failed", len(errs)))
	return errors.Join(errs...)
}
