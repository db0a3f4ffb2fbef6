package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/internal/service/ratelimit"
)

// ErrDownstream marks a tick that validated but was refused downstream and buffered for retry.
var ErrDownstream = errors.New("pipeline downstream")

// Proc is the downstream the pipeline feeds, normally the price book.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickPipeline sits between the exchange stream and the price book.
// It validates, throttles per symbol, and buffers ticks the downstream refused.
type TickPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	maxRPS  int
	bufSize int
	bufCh   chan *models.Tick

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}

	transform func(*models.Tick) *models.Tick
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook that rewrites ticks before forwarding.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *TickPipeline) { p.transform = fn }
}

func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:    proc,
		metrics: metrics,
		limiter: ratelimit.New(),
		maxRPS:  20,
		bufSize: 1000,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches the retry loop for buffered ticks.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				if err := p.proc.Process(ctx, t); err != nil {
					p.metrics.RecordError("pipeline_flush")
					if backoff < 2*time.Second {
						backoff *= 2
					}
					select {
					case <-stopCh:
						return
					case <-time.After(backoff):
					}
					select {
					case p.bufCh <- t:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
					continue
				}
				backoff = 50 * time.Millisecond
			}
		}
	}()
}

// Stop ends the retry loop and waits for it to exit.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered reports how many ticks wait for retry.
func (p *TickPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards t. A downstream failure buffers the tick.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if p.maxRPS > 0 && !p.limiter.Allow(t.Symbol, float64(p.maxRPS), float64(p.maxRPS)) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("%w: %w", ErrDownstream, err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if !(t.Price > 0) || t.Volume < 0 {
		return fmt.Errorf("invalid price/volume")
	}
	return nil
}
