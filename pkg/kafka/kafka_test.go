package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) all() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducer_PublishEncodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := &memWriter{}
	p := NewProducerWithWriter(w, "snappy", Deps{Registerer: reg})

	require.NoError(t, p.Publish(context.Background(), "swarm.cycles", []byte("s1"), map[string]int{"cycle": 7}))
	require.NoError(t, p.PublishBatch(context.Background(), "swarm.positions", []Message{
		{Key: []byte("a"), Value: "raw"},
		{Key: []byte("b"), Value: []byte(`{"x":1}`)},
	}))
	require.NoError(t, p.PublishBatch(context.Background(), "swarm.positions", nil))

	msgs := w.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, `{"cycle":7}`, string(msgs[0].Value))
	assert.Equal(t, "swarm.cycles", msgs[0].Topic)
	assert.Equal(t, "raw", string(msgs[1].Value))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.msgs.WithLabelValues("swarm.positions", "ok")))

	w.err = errors.New("broker down")
	err := p.Publish(context.Background(), "swarm.cycles", nil, "x")
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.msgs.WithLabelValues("swarm.cycles", "error")))

	_, err = NewProducer(ProducerConfig{}, Deps{})
	assert.Error(t, err)
}

type chanReader struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type flakyHandler struct {
	mu    sync.Mutex
	fails map[string]int
	seen  []string
}

func (h *flakyHandler) Topic() string { return "swarm.ticks" }

func (h *flakyHandler) Handle(_ context.Context, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fails[string(b)] > 0 {
		h.fails[string(b)]--
		return errors.New("transient")
	}
	if string(b) == "panic" {
		panic("boom")
	}
	h.seen = append(h.seen, string(b))
	return nil
}

func TestConsumer_RetriesCommitsAndDeadLetters(t *testing.T) {
	reader := &chanReader{ch: make(chan kafka.Message, 4)}
	dlq := &memWriter{}
	c := newConsumer(ConsumerConfig{WorkerCount: 2, RetryMax: 2, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond},
		Deps{}, func(string) Reader { return reader })
	c.dlq = dlq

	h := &flakyHandler{fails: map[string]int{"retry": 1, "dead": 10}}
	c.RegisterHandler(h)
	c.RegisterHandler(h)
	require.NoError(t, c.Start(context.Background()))

	reader.ch <- kafka.Message{Offset: 1, Value: []byte("ok")}
	reader.ch <- kafka.Message{Offset: 2, Value: []byte("retry")}
	reader.ch <- kafka.Message{Offset: 3, Value: []byte("dead")}
	reader.ch <- kafka.Message{Offset: 4, Value: []byte("panic")}

	assert.Eventually(t, func() bool { return len(reader.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.ElementsMatch(t, []string{"ok", "retry"}, h.seen)
	dead := dlq.all()
	require.Len(t, dead, 2)
	assert.Equal(t, "swarm.ticks", string(dead[0].Headers[0].Value))
}

func TestConsumer_StartNeedsHandler(t *testing.T) {
	c := newConsumer(ConsumerConfig{}, Deps{}, func(string) Reader { return &chanReader{ch: make(chan kafka.Message)} })
	assert.Error(t, c.Start(context.Background()))
	_, err := NewConsumer(ConsumerConfig{}, Deps{})
	assert.Error(t, err)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
