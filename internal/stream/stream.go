// Package stream moves readings over Kafka. The publisher is the generator's
// sink and the consumer stores events produced elsewhere.
package stream

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/storage"
	"github.com/segmentio/kafka-go"
)

const readRetryDelay = time.Second

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if len(c.Brokers) == 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "kafka brokers are required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "kafka topic is required")
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReadingStore is where consumed readings end up.
type ReadingStore interface {
	InsertReading(ctx context.Context, r pile.Reading) (int64, error)
}

type Publisher struct {
	w   MessageWriter
	log logger.Logger
}

func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher enabled")

	return NewPublisherWithWriter(w, log), nil
}

func NewPublisherWithWriter(w MessageWriter, log logger.Logger) *Publisher {
	return &Publisher{w: w, log: log}
}

// Publish writes one event per reading, keyed by pile id.
func (p *Publisher) Publish(ctx context.Context, readings ...pile.Reading) error {
	errFactory := errors.New()

	if len(readings) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		ev := NewReadingEvent(r)
		value, err := Encode(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: ev.Key(), Value: value, Time: r.Timestamp})
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errFactory.Wrap(ErrPublishFailed, err)
	}

	p.log.Debug().Int("events", len(msgs)).Msg("Published readings")
	return nil
}

func (p *Publisher) Close() error {
	if err := p.w.Close(); err != nil {
		return errors.New().Wrap(ErrStreamShutdown, err)
	}
	return nil
}

type Consumer struct {
	r          MessageReader
	store      ReadingStore
	log        logger.Logger
	metrics    metrics.Collector
	retryDelay time.Duration
}

func NewConsumer(cfg Config, store ReadingStore, m metrics.Collector, log logger.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "kafka group_id is required to consume")
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group_id", cfg.GroupID).
		Msg("Kafka consumer enabled")

	return NewConsumerWithReader(r, store, m, log), nil
}

func NewConsumerWithReader(r MessageReader, store ReadingStore, m metrics.Collector, log logger.Logger) *Consumer {
	if m == nil {
		m = metrics.New(false)
	}
	return &Consumer{r: r, store: store, log: log, metrics: m, retryDelay: readRetryDelay}
}

// WithRetryDelay sets how long the consumer waits after a failed fetch or a
// failed store before trying again.
func (c *Consumer) WithRetryDelay(d time.Duration) *Consumer {
	if d > 0 {
		c.retryDelay = d
	}
	return c
}

// Run stores events until ctx is done. Malformed events and events for
// unknown piles are logged and committed so they are not redelivered. Any
// other store failure leaves the event uncommitted and is retried.
func (c *Consumer) Run(ctx context.Context) error {
	errFactory := errors.New()

	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close kafka reader")
		}
	}()

	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("Kafka read failed")
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		if !c.deliver(ctx, msg) {
			return nil
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errFactory.Wrap(ErrConsumeFailed, err)
		}
	}
}

// deliver hands msg to the store until it is either stored or known to be
// unstorable. It returns false when ctx ends first.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.log.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Dur("retry_in", c.retryDelay).
			Msg("Store unavailable, retrying reading event")
		if !c.wait(ctx) {
			return false
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// handle returns an error only when the event should be retried.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ev, err := Decode(msg.Value)
	if err != nil {
		c.log.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Skipping malformed reading event")
		return nil
	}

	id, err := c.store.InsertReading(ctx, ev.Reading())
	if err != nil {
		if permanent(err) {
			c.log.Warn().
				Err(err).
				Str("event_id", ev.EventID.String()).
				Int64("pile_id", ev.PileID).
				Msg("Skipping unstorable reading event")
			return nil
		}
		return errors.New().Wrap(errors.ErrUnavailable, err)
	}

	c.metrics.ReadingsIngested(1)
	c.log.Debug().
		Str("event_id", ev.EventID.String()).
		Int64("reading_id", id).
		Msg("Stored reading event")
	return nil
}

func permanent(err error) bool {
	return errors.HasCode(err, storage.ErrPileNotFound) ||
		errors.HasCode(err, storage.ErrInvalidReading)
}
