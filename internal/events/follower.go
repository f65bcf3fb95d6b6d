package events

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

const (
	resultApplied   = "applied"
	resultDiscarded = "discarded"
	resultMalformed = "malformed"

	defaultFetchRetryDelay = time.Second
)

// Reader exposes the minimal kafka.Reader interface needed by the follower.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Sink merges followed records into a replica.
type Sink interface {
	Upsert(records ...territory.Record) int
}

// Follower consumes the change feed into a Sink.
type Follower struct {
	reader     Reader
	sink       Sink
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewFollower constructs a Follower. A nil logger discards output.
func NewFollower(reader Reader, sink Sink, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{reader: reader, sink: sink, logger: logger, retryDelay: defaultFetchRetryDelay}
}

// NewKafkaReader builds a consumer-group reader for the change feed.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         groupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

func (f *Follower) wait(ctx context.Context) error {
	timer := time.NewTimer(f.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes messages until the context is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			f.logger.Warn("change feed fetch failed", zap.Error(err), zap.Duration("retry_in", f.retryDelay))
			if waitErr := f.wait(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}

		envelope, decodeErr := DecodeEnvelope(msg.Value)
		if decodeErr != nil {
			f.logger.Warn("change feed message malformed",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(decodeErr))
			recordFollowed(resultMalformed, time.Time{})
			f.commit(ctx, msg)
			continue
		}

		result := resultDiscarded
		if f.sink.Upsert(envelope.Record) > 0 {
			result = resultApplied
		}
		recordFollowed(result, envelope.Record.UpdatedAt)
		f.logger.Debug("change feed record followed",
			zap.String("cell_id", envelope.Record.CellID.String()),
			zap.Int64("version", envelope.Record.Version),
			zap.String("result", result))
		f.commit(ctx, msg)
	}
}

func (f *Follower) commit(ctx context.Context, msg kafka.Message) {
	if err := f.reader.CommitMessages(ctx, msg); err != nil {
		f.logger.Warn("change feed commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}
