package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	applogger "SwarmTrader/pkg/logger"
	"SwarmTrader/pkg/queue"
)

// IntentMessageType is the queue message type of execution intents.
const IntentMessageType = "execution.intent"

// QueueExecution hands execution intents to the job queue.
type QueueExecution struct {
	pub queue.Publisher
}

func NewQueueExecution(pub queue.Publisher) *QueueExecution {
	return &QueueExecution{pub: pub}
}

func (q *QueueExecution) SubmitIntent(ctx context.Context, in models.ExecutionIntent) error {
	if err := q.pub.Enqueue(ctx, IntentMessageType, in); err != nil {
		return fmt.Errorf("submit %s intent %s: %w", in.Action, in.PositionID, err)
	}
	return nil
}

// PaperFillJob consumes intents in paper mode: it fills at the intent price and logs the fill.
type PaperFillJob struct {
	l       *applogger.Logger
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewPaperFillJob(l *applogger.Logger, metrics domrepo.Metrics) *PaperFillJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &PaperFillJob{l: l.With("paper_fill"), metrics: metrics, now: time.Now}
}

func (j *PaperFillJob) Name() string { return "paper_fill" }
func (j *PaperFillJob) Type() string { return IntentMessageType }

func (j *PaperFillJob) Handle(_ context.Context, payload json.RawMessage) error {
	in, err := queue.Decode[models.ExecutionIntent](payload)
	if err != nil {
		return err
	}
	switch in.Action {
	case models.IntentOpen, models.IntentClose:
	default:
		return fmt.Errorf("unknown intent action %q", in.Action)
	}
	lag := j.now().Sub(in.CreatedAt)
	if j.metrics != nil && !in.CreatedAt.IsZero() {
		j.metrics.RecordLatency("paper_fill", lag.Seconds())
	}
	j.l.Info("paper fill",
		applogger.String("action", in.Action),
		applogger.String("position_id", in.PositionID),
		applogger.String("strategy", in.StrategyID),
		applogger.String("symbol", in.Symbol),
		applogger.String("direction", string(in.Direction)),
		applogger.Float64("price", in.Price),
		applogger.Float64("size_quote", in.SizeQuote),
		applogger.String("reason", string(in.Reason)),
		applogger.Duration("lag", lag))
	return nil
}

var (
	_ domrepo.ExecutionQueue = (*QueueExecution)(nil)
	_ queue.Job              = (*PaperFillJob)(nil)
)
