package kafka

import (
	"time"

	"SwarmTrader/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// ProducerConfig holds producer settings.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	Async        bool
	HashByKey    bool
}

// ConsumerConfig holds consumer group settings.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

// Deps carries the ambient collaborators shared by producer and consumer.
type Deps struct {
	Logger     *logger.Logger
	Registerer prometheus.Registerer
}

func (d Deps) logger(component string) *logger.Logger {
	if d.Logger == nil {
		return logger.Nop()
	}
	return d.Logger.With(component)
}

func (d Deps) registerer() prometheus.Registerer {
	if d.Registerer == nil {
		return prometheus.NewRegistry()
	}
	return d.Registerer
}
