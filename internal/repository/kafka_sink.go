package repository

import (
	"context"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	pkgkafka "SwarmTrader/pkg/kafka"
	applogger "SwarmTrader/pkg/logger"
)

// Publisher is the producer surface the sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
}

// KafkaSink publishes cycle summaries and position transitions.
type KafkaSink struct {
	pub           Publisher
	summaryTopic  string
	positionTopic string
}

func NewKafkaSink(pub Publisher, summaryTopic, positionTopic string) *KafkaSink {
	return &KafkaSink{pub: pub, summaryTopic: summaryTopic, positionTopic: positionTopic}
}

// PositionEvent is the wire form of a ledger transition.
type PositionEvent struct {
	Type     string                 `json:"type"` // opened | closed
	Position *models.Position       `json:"position,omitempty"`
	Closed   *models.ClosedPosition `json:"closed,omitempty"`
}

// Summaries are keyed by session so one session stays on one partition.
func (s *KafkaSink) PublishSummary(ctx context.Context, sum models.CycleSummary) error {
	return s.pub.Publish(ctx, s.summaryTopic, []byte(sum.Session), sum)
}

// Position events are keyed by position id so open and close stay ordered.
func (s *KafkaSink) PublishOpened(ctx context.Context, p models.Position) error {
	return s.pub.Publish(ctx, s.positionTopic, []byte(p.ID), PositionEvent{Type: "opened", Position: &p})
}

func (s *KafkaSink) PublishClosed(ctx context.Context, c models.ClosedPosition) error {
	return s.pub.Publish(ctx, s.positionTopic, []byte(c.ID), PositionEvent{Type: "closed", Closed: &c})
}

// LogPublisher ships aggregated log batches from the logger's collector to Kafka.
type LogPublisher struct {
	pub Publisher
}

func NewLogPublisher(pub Publisher) *LogPublisher { return &LogPublisher{pub: pub} }

func (p *LogPublisher) PublishMessage(ctx context.Context, topic string, payload any) error {
	return p.pub.Publish(ctx, topic, nil, payload)
}

var (
	_ applogger.Publisher    = (*LogPublisher)(nil)
	_ domrepo.SummarySink    = (*KafkaSink)(nil)
	_ domrepo.PositionEvents = (*KafkaSink)(nil)
	_ Publisher              = (*pkgkafka.Producer)(nil)
)
