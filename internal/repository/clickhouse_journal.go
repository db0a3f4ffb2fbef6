package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	pkgch "SwarmTrader/pkg/clickhouse"
	applogger "SwarmTrader/pkg/logger"
)

// JournalSchema creates the journal tables.
var JournalSchema = []string{
	`CREATE TABLE IF NOT EXISTS closed_trades (
		closed_at    DateTime64(3),
		opened_at    DateTime64(3),
		position_id  String,
		strategy_id  LowCardinality(String),
		symbol       LowCardinality(String),
		timeframe    LowCardinality(String),
		direction    LowCardinality(String),
		entry_price  Float64,
		exit_price   Float64,
		size_quote   Float64,
		leverage     Float64,
		score        Float64,
		pnl          Float64,
		pnl_pct      Float64,
		fees         Float64,
		reason       LowCardinality(String),
		cycle        UInt64
	) ENGINE = ReplacingMergeTree
	ORDER BY (strategy_id, closed_at, position_id)`,
	`CREATE TABLE IF NOT EXISTS cycle_summaries (
		ts           DateTime64(3),
		session      String,
		cycle        UInt64,
		active       UInt32,
		capital      Float64,
		deployed     Float64,
		available    Float64,
		pnl_total    Float64,
		pnl_today    Float64,
		win_rate     Float64,
		breaker      LowCardinality(String),
		scanned      UInt32,
		candidates   UInt32,
		admitted     UInt32,
		rejected     UInt32,
		closed       UInt32,
		skipped      UInt8,
		skip_reason  LowCardinality(String),
		duration_ms  Float64
	) ENGINE = MergeTree
	ORDER BY (session, cycle)`,
}

const (
	insertClosed = `INSERT INTO closed_trades (closed_at, opened_at, position_id, strategy_id, symbol, timeframe, direction,
		entry_price, exit_price, size_quote, leverage, score, pnl, pnl_pct, fees, reason, cycle)`
	insertSummary = `INSERT INTO cycle_summaries (ts, session, cycle, active, capital, deployed, available, pnl_total, pnl_today,
		win_rate, breaker, scanned, candidates, admitted, rejected, closed, skipped, skip_reason, duration_ms)`
	selectRecent = `SELECT closed_at, opened_at, position_id, strategy_id, symbol, timeframe, direction,
		entry_price, exit_price, size_quote, leverage, score, pnl, pnl_pct, fees, reason, cycle
		FROM closed_trades FINAL
		WHERE (? = '' OR strategy_id = ?)
		ORDER BY closed_at DESC
		LIMIT ?`
)

// ClickHouseJournal implements TradeJournal on ClickHouse.
type ClickHouseJournal struct {
	ch *pkgch.Client
	l  *applogger.Logger
}

func NewClickHouseJournal(ch *pkgch.Client, l *applogger.Logger) *ClickHouseJournal {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseJournal{ch: ch, l: l.With("journal")}
}

// Init creates the tables.
func (j *ClickHouseJournal) Init(ctx context.Context) error {
	return j.ch.InitSchema(ctx, JournalSchema)
}

func (j *ClickHouseJournal) RecordClosed(ctx context.Context, closed []models.ClosedPosition) error {
	rows := make([][]any, 0, len(closed))
	for _, c := range closed {
		rows = append(rows, closedRow(c))
	}
	start := time.Now()
	if err := j.ch.InsertBatch(ctx, insertClosed, rows); err != nil {
		j.l.Error("clickhouse insert closed_trades", applogger.Int("rows", len(rows)), applogger.Error(err))
		return fmt.Errorf("record closed: %w", err)
	}
	j.l.Debug("closed trades journaled", applogger.Int("rows", len(rows)), applogger.Duration("took", time.Since(start)))
	return nil
}

func (j *ClickHouseJournal) RecordSummary(ctx context.Context, s models.CycleSummary) error {
	if err := j.ch.InsertBatch(ctx, insertSummary, [][]any{summaryRow(s)}); err != nil {
		return fmt.Errorf("record summary: %w", err)
	}
	return nil
}

func (j *ClickHouseJournal) RecentTrades(ctx context.Context, strategy string, limit int) ([]models.ClosedPosition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.ch.DB().QueryContext(ctx, selectRecent, strategy, strategy, limit)
	if err != nil {
		j.l.Error("clickhouse recent trades query", applogger.String("strategy", strategy), applogger.Error(err))
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.ClosedPosition, 0, limit)
	for rows.Next() {
		c, err := scanClosed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (j *ClickHouseJournal) Health(ctx context.Context) error { return j.ch.Health(ctx) }

func closedRow(c models.ClosedPosition) []any {
	return []any{
		c.ClosedAt.UTC(), c.OpenedAt.UTC(), c.ID, c.StrategyID, c.Symbol, c.Timeframe, string(c.Direction),
		c.EntryPrice, c.ExitPrice, c.SizeQuote, c.Leverage, c.Score, c.PnL, c.PnLPct, c.Fees, string(c.Reason), c.Cycle,
	}
}

func summaryRow(s models.CycleSummary) []any {
	var skipped uint8
	if s.Skipped {
		skipped = 1
	}
	return []any{
		s.Timestamp.UTC(), s.Session, s.Cycle, uint32(s.ActivePositions),
		s.CapitalTotal, s.CapitalDeployed, s.CapitalAvailable, s.PnLTotal, s.PnLToday, s.WinRate,
		s.BreakerState, uint32(s.Scanned), uint32(s.Candidates), uint32(s.Admitted), uint32(s.Rejected), uint32(s.Closed),
		skipped, s.SkipReason, float64(s.Duration) / float64(time.Millisecond),
	}
}

func scanClosed(rows *sql.Rows) (models.ClosedPosition, error) {
	var c models.ClosedPosition
	var dir, reason string
	err := rows.Scan(&c.ClosedAt, &c.OpenedAt, &c.ID, &c.StrategyID, &c.Symbol, &c.Timeframe, &dir,
		&c.EntryPrice, &c.ExitPrice, &c.SizeQuote, &c.Leverage, &c.Score, &c.PnL, &c.PnLPct, &c.Fees, &reason, &c.Cycle)
	c.Direction = models.Direction(dir)
	c.Reason = models.ExitReason(reason)
	return c, err
}

var _ domrepo.TradeJournal = (*ClickHouseJournal)(nil)
