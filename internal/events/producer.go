package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

const headerEventType = "event_type"

var errMissingWriter = errors.New("events: message writer is required")

// MessageWriter writes messages to a topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer := p.writerForTopic(topic)
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	// Hash balancing keeps every change of one cell on one partition, in commit order.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// KafkaPublisherConfig wires a KafkaPublisher.
type KafkaPublisherConfig struct {
	Writer  MessageWriter
	Topic   string
	Clock   func() time.Time
	EventID func() (string, error)
}

// KafkaPublisher implements territory.Publisher by writing envelopes keyed by cell id.
type KafkaPublisher struct {
	writer  MessageWriter
	topic   string
	clock   func() time.Time
	eventID func() (string, error)
}

// NewKafkaPublisher validates the configuration and returns a publisher.
func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if cfg.Writer == nil {
		return nil, errMissingWriter
	}
	if cfg.Topic == "" {
		return nil, errors.New("events: topic is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	eventID := cfg.EventID
	if eventID == nil {
		eventID = NewEventID
	}
	return &KafkaPublisher{writer: cfg.Writer, topic: cfg.Topic, clock: clock, eventID: eventID}, nil
}

// Publish writes the record to the change feed.
func (p *KafkaPublisher) Publish(ctx context.Context, record territory.Record) error {
	eventID, err := p.eventID()
	if err != nil {
		return err
	}
	envelope := Envelope{
		EventID:    eventID,
		EventType:  EventTypeTerritoryChanged,
		OccurredAt: p.clock().UTC(),
		Record:     record,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	message := kafka.Message{
		Key:   []byte(record.CellID.String()),
		Value: body,
		Time:  envelope.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(EventTypeTerritoryChanged)},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, message); err != nil {
		recordPublishFailure()
		return err
	}
	recordPublished()
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []territory.Publisher

// Publish implements territory.Publisher.
func (f Fanout) Publish(ctx context.Context, record territory.Record) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
