package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"SwarmTrader/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans fetched messages out to a worker pool. Messages of one partition
// are handled one at a time; failures retry with jittered backoff and then go to the DLQ.
type Consumer struct {
	cfg       ConsumerConfig
	log       *logger.Logger
	newReader func(topic string) Reader
	dlq       Writer

	handlers map[string]MessageHandler
	readers  map[string]Reader
	msgCh    chan fetched

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cancel   context.CancelFunc
	readWg   sync.WaitGroup
	workWg   sync.WaitGroup
	stopOnce sync.Once

	depth   *prometheus.GaugeVec
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

type fetched struct {
	topic string
	msg   kafka.Message
}

// NewConsumer creates a consumer group client.
func NewConsumer(cfg ConsumerConfig, deps Deps) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	c := newConsumer(cfg, deps, func(topic string) Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	})
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

func newConsumer(cfg ConsumerConfig, deps Deps, newReader func(string) Reader) *Consumer {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 50 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	f := promauto.With(deps.registerer())
	return &Consumer{
		cfg:       cfg,
		log:       deps.logger("kafka_consumer"),
		newReader: newReader,
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]Reader),
		msgCh:     make(chan fetched, cfg.BufferSize),
		locks:     make(map[string]*sync.Mutex),
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker",
		}, []string{"topic"}),
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_kafka_consumer_messages_total",
			Help: "Handled messages by result",
		}, []string{"topic", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swarm_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// RegisterHandler registers a handler for its topic. The first registration wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start opens one reader per registered topic and launches the workers.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workWg.Add(1)
		go c.worker(ctx)
	}
	for topic, r := range c.readers {
		c.readWg.Add(1)
		go c.fetch(ctx, topic, r)
	}
	go func() {
		c.readWg.Wait()
		close(c.msgCh)
	}()
	c.log.Info("started", logger.Int("topics", len(c.readers)), logger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop cancels fetching, lets workers drain and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.readWg.Wait()
			c.workWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, topic string, r Reader) {
	defer c.readWg.Done()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.BackoffMin):
			}
			continue
		}
		select {
		case c.msgCh <- fetched{topic: topic, msg: m}:
			c.depth.WithLabelValues(topic).Set(float64(len(c.msgCh)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.workWg.Done()
	for f := range c.msgCh {
		c.handle(ctx, f)
	}
}

func (c *Consumer) handle(ctx context.Context, f fetched) {
	h, ok := c.handlers[f.topic]
	if !ok {
		return
	}
	start := time.Now()
	pl := c.partitionLock(f.topic, f.msg.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.safeHandle(ctx, h, f.msg.Value)
		if err == nil || attempts > c.cfg.RetryMax || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-ctx.Done():
		}
	}
	c.latency.WithLabelValues(f.topic).Observe(time.Since(start).Seconds())

	if err != nil {
		c.handled.WithLabelValues(f.topic, "error").Inc()
		c.log.Warn("message failed", logger.String("topic", f.topic), logger.Int("attempts", attempts), logger.Error(err))
		if c.dlq == nil {
			return // leave uncommitted for redelivery
		}
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		derr := c.dlq.WriteMessages(dctx, kafka.Message{
			Value:   f.msg.Value,
			Time:    time.Now(),
			Headers: []kafka.Header{{Key: "source_topic", Value: []byte(f.topic)}, {Key: "error", Value: []byte(err.Error())}},
		})
		cancel()
		if derr != nil {
			c.log.Error("dlq write failed", logger.String("topic", f.topic), logger.Error(derr))
			return
		}
	} else {
		c.handled.WithLabelValues(f.topic, "ok").Inc()
	}
	c.commit(f)
}

func (c *Consumer) safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) commit(f fetched) {
	r := c.readers[f.topic]
	if r == nil {
		return
	}
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := r.CommitMessages(ctx, f.msg)
		cancel()
		if err == nil {
			return
		}
		if attempt == 3 {
			c.log.Error("commit failed", logger.String("topic", f.topic), logger.Error(err))
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", topic, partition)
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func backoffWithJitter(lo, hi time.Duration, attempt int) time.Duration {
	exp := lo << uint(min(attempt-1, 20))
	if exp > hi || exp <= 0 {
		exp = hi
	}
	// up to 50% jitter
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int64N(half))
	}
	return exp
}
