// Package kafka publishes memory events to a Kafka topic with kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

const (
	// DefaultTopic is used when no topic is configured.
	DefaultTopic = "recall.memory-events"

	// DefaultQueueSize is the number of encoded events Publish buffers.
	DefaultQueueSize = 256

	// batchTimeout bounds how long kafka-go waits to fill a batch. kafka-go
	// defaults to one second.
	batchTimeout = 10 * time.Millisecond

	// maxBatch is the most messages one WriteMessages call carries.
	maxBatch = 64
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds a single batch write. Defaults to 10 seconds.
	WriteTimeout time.Duration

	// QueueSize is the event buffer. Defaults to DefaultQueueSize.
	QueueSize int
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON encoded events keyed by session id, so a
// session's events stay ordered within a partition.
//
// Publish only encodes and enqueues. A single sender goroutine drains the
// queue in batches, so a slow or unreachable broker never holds up the
// caller. When the queue is full the event is dropped with ErrQueueFull.
type Publisher struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *slog.Logger
	queue   chan kafka.Message
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ eventstream.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher backed by a kafka.Writer.
func NewPublisher(c Config, logger *slog.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka event publisher initialized", "brokers", c.Brokers, "topic", c.Topic)
	return NewPublisherWithWriter(w, c, logger), nil
}

// NewPublisherWithWriter creates a publisher over an existing writer and
// starts its sender. Brokers and Topic in c are ignored.
func NewPublisherWithWriter(w MessageWriter, c Config, logger *slog.Logger) *Publisher {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}

	p := &Publisher{
		writer:  w,
		timeout: c.WriteTimeout,
		logger:  logger,
		queue:   make(chan kafka.Message, c.QueueSize),
		done:    make(chan struct{}),
	}
	go p.send()
	return p
}

// Publish encodes event and queues it for the sender.
func (p *Publisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return eventstream.ErrPublisherClosed
	}

	select {
	case p.queue <- msg:
		return nil
	default:
		return fmt.Errorf("dropping %s event %s: %w", event.EventType, event.EventID, eventstream.ErrQueueFull)
	}
}

// send writes queued messages until the queue is closed and drained.
func (p *Publisher) send() {
	defer close(p.done)

	batch := make([]kafka.Message, 0, maxBatch)
	for msg := range p.queue {
		batch = append(batch[:0], msg)
	fill:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		p.write(batch)
	}
}

func (p *Publisher) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Warn("writing events failed", "events", len(batch), "error", err)
		return
	}
	p.logger.Debug("published events", "events", len(batch))
}

// Close stops accepting events, waits for queued ones to be written and
// closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}
