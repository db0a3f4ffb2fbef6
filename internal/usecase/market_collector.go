package usecase

import (
	"context"
	"time"

	"SwarmTrader/internal/domain/models"
	drepo "SwarmTrader/internal/domain/repository"
	mid "SwarmTrader/internal/middleware"
	"SwarmTrader/pkg/logger"
)

// MarketCollector pumps ticks from the exchange stream through the pipeline into the price book.
type MarketCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
	logger  *logger.Logger
	done    chan struct{}
}

func NewMarketCollector(stream drepo.MarketStream, pipe *mid.TickPipeline, metrics drepo.Metrics, log *logger.Logger) *MarketCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &MarketCollector{stream: stream, pipe: pipe, metrics: metrics, logger: log.With("collector")}
}

// IsConnected returns true if the market stream is connected.
func (c *MarketCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes and consumes in the background until ctx is done.
func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	tickCh, errCh := c.stream.Read(ctx)
	c.done = make(chan struct{})
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *MarketCollector) consume(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.logger.Warn("market stream error, reconnecting", logger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.logger.Error("reconnect failed", logger.Error(rerr))
			}
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			_ = c.pipe.Process(ctx, t)
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *MarketCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	err := c.stream.Close()
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	return err
}
