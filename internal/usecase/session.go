package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domrepo "SwarmTrader/internal/domain/repository"
	domsvc "SwarmTrader/internal/domain/service"
	applogger "SwarmTrader/pkg/logger"
)

// ErrPreflightFailed is returned when at least one pre-flight check fails.
var ErrPreflightFailed = errors.New("pre-flight checks failed")

// PreflightCheck is one line of the pre-flight report.
type PreflightCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// PreflightInput is what the checks look at before the first cycle.
type PreflightInput struct {
	Capital  float64
	Symbols  []string
	Sources  []domsvc.OpportunitySource
	Prices   domrepo.PriceFeed
	Journal  domrepo.TradeJournal
	FeedWait time.Duration
	Poll     time.Duration
}

// Preflight verifies the universe, the capital and that the feed and journal respond.
// The feed check waits up to FeedWait for a price on any symbol.
func Preflight(ctx context.Context, in PreflightInput, logger *applogger.Logger) ([]PreflightCheck, error) {
	checks := make([]PreflightCheck, 0, 5)
	add := func(name string, ok bool, format string, args ...interface{}) {
		checks = append(checks, PreflightCheck{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
	}

	add("capital", in.Capital > 0, "initial capital %.2f", in.Capital)
	add("universe", len(in.Symbols) > 0, "%d symbols", len(in.Symbols))

	combos := 0
	for _, s := range in.Sources {
		combos += len(s.Timeframes()) * len(in.Symbols)
	}
	add("strategies", len(in.Sources) > 0 && combos > 0, "%d strategies, %d combinations", len(in.Sources), combos)

	if in.Prices != nil {
		sym, px, err := waitForPrice(ctx, in.Prices, in.Symbols, in.FeedWait, in.Poll)
		if err != nil {
			add("feed", false, "no price within %s: %v", in.FeedWait, err)
		} else {
			add("feed", true, "%s at %.6g", sym, px)
		}
	}

	if in.Journal != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := in.Journal.Health(hctx)
		cancel()
		if err != nil {
			add("journal", false, "%v", err)
		} else {
			add("journal", true, "reachable")
		}
	}

	var failed []string
	for _, c := range checks {
		if c.OK {
			logger.Info("pre-flight ok", applogger.String("check", c.Name), applogger.String("detail", c.Detail))
			continue
		}
		failed = append(failed, c.Name)
		logger.Error("pre-flight failed", applogger.String("check", c.Name), applogger.String("detail", c.Detail))
	}
	if len(failed) > 0 {
		return checks, fmt.Errorf("%w: %s", ErrPreflightFailed, strings.Join(failed, ", "))
	}
	return checks, nil
}

func waitForPrice(ctx context.Context, prices domrepo.PriceFeed, symbols []string, wait, poll time.Duration) (string, float64, error) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		for _, s := range symbols {
			px, err := prices.CurrentPrice(s)
			if err == nil && px > 0 {
				return s, px, nil
			}
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return "", 0, lastErr
		case <-ticker.C:
		}
	}
}
