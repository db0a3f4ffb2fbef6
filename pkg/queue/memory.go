package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type scheduled struct {
	data []byte
	at   time.Time
}

// MemoryBackend keeps the queue in process. Used when Redis is disabled and in tests.
type MemoryBackend struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	sets   map[string][]scheduled
	notify chan struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		lists:  make(map[string][][]byte),
		sets:   make(map[string][]scheduled),
		notify: make(chan struct{}, 1),
	}
}

func (b *MemoryBackend) Push(_ context.Context, list string, data []byte) error {
	b.mu.Lock()
	b.lists[list] = append(b.lists[list], append([]byte(nil), data...))
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBackend) Pop(ctx context.Context, list string, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if q := b.lists[list]; len(q) > 0 {
			data := q[0]
			b.lists[list] = q[1:]
			b.mu.Unlock()
			return data, nil
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrEmpty
		case <-b.notify:
		}
	}
}

func (b *MemoryBackend) Schedule(_ context.Context, set string, data []byte, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets[set] = append(b.sets[set], scheduled{data: append([]byte(nil), data...), at: at})
	return nil
}

func (b *MemoryBackend) Promote(ctx context.Context, set, list string, now time.Time) (int, error) {
	b.mu.Lock()
	entries := b.sets[set]
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	var due [][]byte
	rest := entries[:0]
	for _, e := range entries {
		if e.at.After(now) {
			rest = append(rest, e)
			continue
		}
		due = append(due, e.data)
	}
	b.sets[set] = rest
	b.mu.Unlock()

	for _, d := range due {
		if err := b.Push(ctx, list, d); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}

func (b *MemoryBackend) Len(_ context.Context, list string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[list])), nil
}
