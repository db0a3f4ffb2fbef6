package strategies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/service/ratelimit"
	xhttp "SwarmTrader/pkg/http"
)

// RemoteOptions configure an external signal service.
type RemoteOptions struct {
	URL      string
	Timeout  time.Duration
	Attempts int
	MaxRPS   float64 // per symbol
}

// Remote asks an external signal service for an opportunity per scan.
type Remote struct {
	base
	baseURL  string
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	rps      float64
	attempts int
}

func NewRemote(p Params, opts RemoteOptions) (*Remote, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("remote strategy %s: signals url is empty", p.ID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Remote{
		base:     base{p},
		baseURL:  strings.TrimRight(opts.URL, "/"),
		client:   xhttp.NewClient(xhttp.WithTimeout(opts.Timeout)),
		limiter:  ratelimit.New(),
		rps:      opts.MaxRPS,
		attempts: opts.Attempts,
	}, nil
}

type remoteRequest struct {
	Strategy    string    `json:"strategy"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Price       float64   `json:"price"`
	FundingRate *float64  `json:"funding_rate,omitempty"`
	Closes      []float64 `json:"closes"`
}

type remoteOpportunity struct {
	Direction      string  `json:"direction"`
	Confidence     float64 `json:"confidence"`
	ExpectedReturn float64 `json:"expected_return"`
	Risk           float64 `json:"risk"`
	Reason         string  `json:"reason"`
}

type remoteResponse struct {
	Opportunity *remoteOpportunity `json:"opportunity"`
}

func (r *Remote) Produce(ctx context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if r.rps > 0 {
		if err := r.limiter.Wait(ctx, snap.Symbol, r.rps, r.rps); err != nil {
			return nil, err
		}
	}
	closes := models.Closes(snap.Candles)
	if len(closes) > 50 {
		closes = closes[len(closes)-50:]
	}
	req := remoteRequest{Strategy: r.p.ID, Symbol: snap.Symbol, Timeframe: snap.Timeframe, Price: snap.Price, Closes: closes}
	if snap.HasFunding {
		rate := snap.FundingRate
		req.FundingRate = &rate
	}

	var resp remoteResponse
	if err := r.postJSONWithRetry(ctx, "/opportunities", req, &resp); err != nil {
		return nil, err
	}
	o := resp.Opportunity
	if o == nil {
		return nil, nil
	}
	dir := models.Direction(strings.ToLower(o.Direction))
	if !dir.Valid() {
		return nil, fmt.Errorf("remote %s: invalid direction %q", r.p.ID, o.Direction)
	}
	reason := o.Reason
	if reason == "" {
		reason = "remote signal"
	}
	return r.emit(snap, dir, o.Confidence, o.ExpectedReturn, o.Risk, "%s", reason), nil
}

func (r *Remote) postJSON(ctx context.Context, path string, payload, dest any) error {
	err := r.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     r.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// postJSONWithRetry retries transport errors, 429 and 5xx with linear backoff.
func (r *Remote) postJSONWithRetry(ctx context.Context, path string, payload, dest any) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = r.postJSON(ctx, path, payload, dest); err == nil {
			return nil
		}
		if i == r.attempts || !xhttp.IsRetryable(err) {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
