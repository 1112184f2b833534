// Package kafka publishes finalized standings to a Kafka topic for the prize
// pipeline.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
)

const defaultTopic = "rollboard-closures"

// ErrNoBrokers is returned when the dispatcher is built without brokers.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Message is the wire form of a closure.
type Message struct {
	Scope     string        `json:"scope"`
	Period    string        `json:"period"`
	ClosedAt  time.Time     `json:"closed_at"`
	Standings []model.Entry `json:"standings"`
}

// Dispatcher sends each closure as one JSON message keyed by its board.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(d *Dispatcher) {
		if topic != "" {
			d.topic = topic
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewConfig returns the producer configuration used against real brokers.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Dial connects a synchronous producer to brokers.
func Dial(brokers []string, opts ...Option) (*Dispatcher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return New(producer, opts...), nil
}

// New wraps an existing producer.
func New(producer sarama.SyncProducer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		producer: producer,
		topic:    defaultTopic,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name identifies the dispatcher in logs and metrics.
func (d *Dispatcher) Name() string { return "kafka" }

// Dispatch publishes c and waits for the broker acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, c model.Closure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Message{
		Scope:     string(c.Scope),
		Period:    c.Period,
		ClosedAt:  c.ClosedAt.UTC(),
		Standings: c.Standings,
	})
	if err != nil {
		return fmt.Errorf("encoding closure: %w", err)
	}

	partition, offset, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(c.Scope.Board(c.Period)),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("sending %s closure: %w", c.Scope.Board(c.Period), err)
	}
	d.logger.Debug(ctx, "closure published",
		logger.String("topic", d.topic),
		logger.String("board", c.Scope.Board(c.Period)),
		logger.Int("partition", int(partition)),
		logger.Int64("offset", offset),
	)
	return nil
}

// Close releases the producer.
func (d *Dispatcher) Close() error {
	return d.producer.Close()
}
