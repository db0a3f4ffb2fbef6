package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/repository"
	"SwarmTrader/internal/service/market"
	"SwarmTrader/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSwarm struct {
	positions []models.Position
	breaker   models.BreakerState
	stats     []models.StrategyStats
	stopped   models.ExitReason
	started   float64
	startErr  error
}

func (f *fakeSwarm) Status() usecase.Status {
	return usecase.Status{Session: "2026-04-01", Capital: models.CapitalState{TotalCapital: 500}, Stopped: f.stopped != ""}
}
func (f *fakeSwarm) Positions() []models.Position           { return f.positions }
func (f *fakeSwarm) Breaker() models.BreakerState           { return f.breaker }
func (f *fakeSwarm) StrategyStats() []models.StrategyStats { return f.stats }

func (f *fakeSwarm) Stop(reason models.ExitReason) []models.ClosedPosition {
	f.stopped = reason
	out := make([]models.ClosedPosition, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, models.ClosedPosition{Position: p, Reason: reason, PnL: 0.25})
	}
	f.positions = nil
	return out
}

func (f *fakeSwarm) StartSession(capital float64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = capital
	return nil
}

type stubJournal struct {
	repository.NoopJournal
	err error
}

func (j stubJournal) RecentTrades(_ context.Context, strategy string, limit int) ([]models.ClosedPosition, error) {
	if j.err != nil {
		return nil, j.err
	}
	out := make([]models.ClosedPosition, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, models.ClosedPosition{Position: models.Position{ID: fmt.Sprint(i), StrategyID: strategy}})
	}
	return out, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(t *testing.T, swarm *fakeSwarm, journal domrepo.TradeJournal) (*echo.Echo, *market.PriceBook) {
	t.Helper()
	book := market.NewPriceBook(market.Config{StaleAfter: time.Hour, Timeframes: []domrepo.Timeframe{domrepo.TF1m}}, nil)
	h := NewSwarmEchoHandler(nil, swarm, journal, usecase.NewCandlesUseCase(book), 500)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, book
}

func call(t *testing.T, e *echo.Echo, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestSwarmEcho_ReadEndpoints(t *testing.T) {
	swarm := &fakeSwarm{
		positions: []models.Position{
			{ID: "a", StrategyID: "grid", Symbol: "BTCUSDT"},
			{ID: "b", StrategyID: "momentum", Symbol: "ETHUSDT"},
		},
		breaker: models.BreakerState{Status: models.BreakerNormal, Strategies: map[string]models.Trip{"grid": {Scope: models.ScopeStrategy}}},
		stats:   []models.StrategyStats{{StrategyID: "grid", Wins: 3, Losses: 1}},
	}
	e, _ := setup(t, swarm, stubJournal{})

	code, env := call(t, e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	var st usecase.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "2026-04-01", st.Session)

	code, env = call(t, e, http.MethodGet, "/api/positions?strategy=grid", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":1`)

	_, env = call(t, e, http.MethodGet, "/api/breaker", "")
	assert.Contains(t, string(env.Data), `"state":"NORMAL+TRIPPED_STRATEGY(grid)"`)

	_, env = call(t, e, http.MethodGet, "/api/strategies", "")
	assert.Contains(t, string(env.Data), `"win_rate":0.75`)
	assert.Contains(t, string(env.Data), `"tripped":true`)

	code, env = call(t, e, http.MethodGet, "/api/trades?limit=3&strategy=grid", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":3`)

	code, _ = call(t, e, http.MethodGet, "/api/trades?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)

	// zero means unset, the default applies
	code, _ = call(t, e, http.MethodGet, "/api/trades?limit=0", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestSwarmEcho_TradesJournalDown(t *testing.T) {
	e, _ := setup(t, &fakeSwarm{}, stubJournal{err: errors.New("clickhouse down")})
	code, _ := call(t, e, http.MethodGet, "/api/trades", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSwarmEcho_Candles(t *testing.T) {
	e, book := setup(t, &fakeSwarm{}, nil)
	now := time.Now().UTC()
	require.NoError(t, book.Process(context.Background(), &models.Tick{Symbol: "SOLUSDT", Price: 150, Volume: 2, Timestamp: now}))

	code, env := call(t, e, http.MethodGet, "/api/candles?symbol=solusdt&tf=1m", "")
	require.Equal(t, http.StatusOK, code)
	var res usecase.GetCandlesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "SOLUSDT", res.Symbol)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 150.0, res.Price)

	code, _ = call(t, e, http.MethodGet, "/api/candles?symbol=SOLUSDT&tf=2m", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, e, http.MethodGet, "/api/candles", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, e, http.MethodGet, "/api/trades", "")
	assert.Equal(t, http.StatusServiceUnavailable, code, "journal disabled")
}

func TestSwarmEcho_SessionControl(t *testing.T) {
	swarm := &fakeSwarm{positions: []models.Position{{ID: "a"}, {ID: "b"}}}
	e, _ := setup(t, swarm, nil)

	code, env := call(t, e, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ExitSessionStop, swarm.stopped)
	assert.Contains(t, string(env.Data), `"realized_pnl":0.5`)

	code, _ = call(t, e, http.MethodPost, "/api/session/stop", `{"reason":"liquidate"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, e, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 500.0, swarm.started)

	code, _ = call(t, e, http.MethodPost, "/api/session/start", `{"capital":1000}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1000.0, swarm.started)

	swarm.startErr = fmt.Errorf("%w: capital invariant violation", models.ErrSessionHalted)
	code, _ = call(t, e, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, code)
}
