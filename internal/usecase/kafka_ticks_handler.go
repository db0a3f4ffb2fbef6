package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	mid "SwarmTrader/internal/middleware"
	pkgkafka "SwarmTrader/pkg/kafka"
	"SwarmTrader/pkg/util"
)

// KafkaTicksHandler feeds ticks published on a Kafka topic into the pipeline.
// It backs feed.type=kafka, used for replays and for sharing one exchange feed.
type KafkaTicksHandler struct {
	topic   string
	pipe    *mid.TickPipeline
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, pipe *mid.TickPipeline, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, ts, price, volume, funding_rate?}; ts in s or ms
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol      string   `json:"symbol"`
		TS          int64    `json:"ts"`
		Price       float64  `json:"price"`
		Volume      float64  `json:"volume"`
		FundingRate *float64 `json:"funding_rate"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	ts := util.UnixAuto(m.TS)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	t := &models.Tick{
		Symbol:    strings.ToUpper(m.Symbol),
		Price:     m.Price,
		Volume:    m.Volume,
		Timestamp: ts,
	}
	if m.FundingRate != nil {
		t.FundingRate = *m.FundingRate
		t.HasFunding = true
	}
	// downstream failures are buffered by the pipeline; only bad input is surfaced to the DLQ
	if err := h.pipe.Process(ctx, t); err != nil && !errors.Is(err, mid.ErrDownstream) {
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
