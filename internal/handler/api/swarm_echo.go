package api

import (
	"errors"
	"strings"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/usecase"
	xhttp "SwarmTrader/pkg/http"
	xlogger "SwarmTrader/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Swarm is the scheduler surface the API reads and controls.
type Swarm interface {
	Status() usecase.Status
	Positions() []models.Position
	Breaker() models.BreakerState
	StrategyStats() []models.StrategyStats
	Stop(reason models.ExitReason) []models.ClosedPosition
	StartSession(capital float64) error
}

// SwarmEchoHandler serves dashboard data and session control.
type SwarmEchoHandler struct {
	logger  *xlogger.Logger
	swarm   Swarm
	journal domrepo.TradeJournal
	candles *usecase.CandlesUseCase
	capital float64
}

func NewSwarmEchoHandler(logger *xlogger.Logger, swarm Swarm, journal domrepo.TradeJournal, candles *usecase.CandlesUseCase, initialCapital float64) *SwarmEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &SwarmEchoHandler{logger: logger.With("api"), swarm: swarm, journal: journal, candles: candles, capital: initialCapital}
}

func (h *SwarmEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.GET("/breaker", h.Breaker)
	g.GET("/strategies", h.Strategies)
	g.GET("/trades", h.Trades)
	g.GET("/candles", h.Candles)
	g.POST("/session/stop", h.StopSession)
	g.POST("/session/start", h.StartSession)
}

func (h *SwarmEchoHandler) Health(c echo.Context) error {
	st := h.swarm.Status()
	return xhttp.SuccessResponse(c, map[string]any{"session": st.Session, "halted": st.Halted})
}

func (h *SwarmEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.swarm.Status())
}

func (h *SwarmEchoHandler) Positions(c echo.Context) error {
	req := &models.PositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	all := h.swarm.Positions()
	rows := make([]models.Position, 0, len(all))
	for _, p := range all {
		if req.Strategy != "" && p.StrategyID != req.Strategy {
			continue
		}
		if req.Symbol != "" && !strings.EqualFold(p.Symbol, req.Symbol) {
			continue
		}
		rows = append(rows, p)
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *SwarmEchoHandler) Breaker(c echo.Context) error {
	st := h.swarm.Breaker()
	return xhttp.SuccessResponse(c, map[string]any{"state": st.String(), "detail": st})
}

func (h *SwarmEchoHandler) Strategies(c echo.Context) error {
	stats := h.swarm.StrategyStats()
	type row struct {
		models.StrategyStats
		WinRate float64 `json:"win_rate"`
		Tripped bool    `json:"tripped"`
	}
	brk := h.swarm.Breaker()
	rows := make([]row, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, row{StrategyStats: s, WinRate: s.WinRate(), Tripped: brk.StrategyTripped(s.StrategyID)})
	}
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *SwarmEchoHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("trade journal disabled"))
	}
	trades, err := h.journal.RecentTrades(c.Request().Context(), req.Strategy, req.Limit)
	if err != nil {
		h.logger.Error("recent trades", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("trade journal unavailable").WithError(err))
	}
	if trades == nil {
		trades = []models.ClosedPosition{}
	}
	return xhttp.ListResponse(c, trades, len(trades))
}

func (h *SwarmEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.Timeframe(req.TF)
	if !domrepo.IsValidTimeframe(tf) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unsupported timeframe %q", req.TF).WithParam("field", "tf"))
	}
	res, err := h.candles.GetCandles(usecase.GetCandlesParams{Symbol: req.Symbol, Timeframe: tf, Limit: req.Limit})
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SwarmEchoHandler) StopSession(c echo.Context) error {
	req := &models.SessionStopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	closed := h.swarm.Stop(models.ExitReason(req.Reason))
	h.logger.Info("session stopped via api", xlogger.String("reason", req.Reason), xlogger.Int("closed", len(closed)))
	var pnl float64
	for _, p := range closed {
		pnl += p.PnL
	}
	return xhttp.SuccessResponse(c, map[string]any{"closed": closed, "realized_pnl": pnl})
}

func (h *SwarmEchoHandler) StartSession(c echo.Context) error {
	req := &models.SessionStartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	capital := req.Capital
	if capital == 0 {
		capital = h.capital
	}
	if err := h.swarm.StartSession(capital); err != nil {
		if errors.Is(err, models.ErrSessionHalted) {
			return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("session halted").WithError(err))
		}
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, h.swarm.Status())
}
