package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"SwarmTrader/pkg/logger"

	"github.com/google/uuid"
)

// Queue runs registered jobs over a Backend with delayed retries and a dead-letter list.
type Queue struct {
	logger  *logger.Logger
	cfg     Config
	backend Backend
	now     func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(lgr *logger.Logger, cfg Config, backend Backend) *Queue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "swarm:queue"
	}
	return &Queue{
		logger:  lgr.With("queue"),
		cfg:     cfg,
		backend: backend,
		now:     time.Now,
		jobs:    make(map[string]Job),
	}
}

// RegisterJob registers a job for its type. Duplicates are ignored.
func (q *Queue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start launches workers and the retry promoter. With no jobs registered the queue only publishes.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}
	q.running = true
	if len(q.jobs) == 0 {
		q.logger.Info("publisher started")
		return nil
	}
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.retryLoop(ctx)
	q.logger.Info("started", logger.Int("workers", q.cfg.Workers), logger.Int("jobs", len(q.jobs)))
	return nil
}

// Stop cancels workers and waits for in-flight jobs.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		q.logger.Info("stopped")
		return nil
	}
}

// Enqueue adds a message. Payload is JSON-encoded.
func (q *Queue) Enqueue(ctx context.Context, msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: q.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.backend.Push(ctx, q.readyKey(), data); err != nil {
		return fmt.Errorf("push %s: %w", msgType, err)
	}
	return nil
}

// Pending returns ready and dead-lettered message counts.
func (q *Queue) Pending(ctx context.Context) (ready, dead int64, err error) {
	if ready, err = q.backend.Len(ctx, q.readyKey()); err != nil {
		return 0, 0, err
	}
	dead, err = q.backend.Len(ctx, q.deadKey())
	return ready, dead, err
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		data, err := q.backend.Pop(ctx, q.readyKey(), q.cfg.PollWait)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("pop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(q.cfg.PollWait):
			}
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			q.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		q.process(ctx, msg)
	}
}

func (q *Queue) process(ctx context.Context, msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job for type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		q.bury(ctx, msg)
		return
	}
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// requeue so a restart picks it up
		q.push(msg)
		return
	}
	msg.Attempts++
	msg.LastError = err.Error()
	q.logger.Warn("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))
	if msg.Attempts > q.cfg.RetryLimit {
		q.bury(ctx, msg)
		return
	}
	data, _ := json.Marshal(msg)
	if err := q.backend.Schedule(ctx, q.retryKey(), data, q.now().Add(q.cfg.RetryDelay)); err != nil {
		q.logger.Error("schedule retry", logger.Error(err))
	}
}

func (q *Queue) push(msg Message) {
	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.backend.Push(ctx, q.readyKey(), data); err != nil {
		q.logger.Error("requeue", logger.Error(err))
	}
}

func (q *Queue) bury(ctx context.Context, msg Message) {
	data, _ := json.Marshal(msg)
	if err := q.backend.Push(ctx, q.deadKey(), data); err != nil {
		q.logger.Error("dead letter", logger.Error(err))
	}
}

func (q *Queue) retryLoop(ctx context.Context) {
	defer q.wg.Done()
	tick := q.cfg.RetryDelay / 2
	if tick > 5*time.Second {
		tick = 5 * time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.backend.Promote(ctx, q.retryKey(), q.readyKey(), q.now()); err != nil && ctx.Err() == nil {
				q.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

func (q *Queue) readyKey() string { return q.cfg.KeyPrefix + ":messages" }
func (q *Queue) retryKey() string { return q.cfg.KeyPrefix + ":retry" }
func (q *Queue) deadKey() string  { return q.cfg.KeyPrefix + ":dlq" }

var _ Publisher = (*Queue)(nil)
