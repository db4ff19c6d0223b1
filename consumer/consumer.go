package consumer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gmbyapa/topicmgr/kafka"
)

// ConsumerRecord is a single decoded record handed back by RawConsumer.Poll
// or streamed by a SubscriptionEngine. UUID exists purely for cross-
// component tracing, the same role data.Record.UUID plays in the
// teacher's partition consumer.
type ConsumerRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	UUID      uuid.UUID
}

// RawConsumer is a non-thread-safe wrapper over a byte-level consumer.
// Every method must be called with external serialization; no method
// here takes its own lock. Subscribe/Unsubscribe/Poll are the suspension
// points: they may block on network I/O.
type RawConsumer interface {
	// Subscribe adds tp to the assignment if not already present, then
	// positions the read cursor: lastReadOffset > OffsetLowest seeks to
	// lastReadOffset+1, else seeks to the earliest available record. A
	// call for an already-subscribed partition is a warn-and-skip no-op.
	Subscribe(tp kafka.TopicPartition, lastReadOffset kafka.Offset) error

	// Unsubscribe removes tp from the assignment. No-op if not subscribed.
	Unsubscribe(tp kafka.TopicPartition) error

	// BatchUnsubscribe removes every tp in tps in one assignment update.
	BatchUnsubscribe(tps map[kafka.TopicPartition]struct{}) error

	// ResetOffset seeks tp back to its earliest available record. Fails
	// with ErrUnsubscribedTopicPartition if tp isn't currently subscribed.
	ResetOffset(tp kafka.TopicPartition) error

	// Pause/Resume are no-ops if tp isn't currently subscribed.
	Pause(tp kafka.TopicPartition)
	Resume(tp kafka.TopicPartition)

	HasAnySubscription() bool
	HasSubscription(tp kafka.TopicPartition) bool
	Assignment() map[kafka.TopicPartition]struct{}

	// Poll fetches one batch, retrying on a classified-transient error up
	// to the configured retry count with a backoff sleep between
	// attempts. The final attempt's error is returned unchanged. ctx
	// cancellation aborts immediately, returning ctx.Err() unchanged.
	Poll(ctx context.Context, timeout time.Duration) ([]*ConsumerRecord, error)

	// OffsetLag reports how far tp's last polled offset trails the
	// partition's latest offset, fed from poll batches when offset
	// tracking is enabled. LatestOffset reports the partition's latest
	// offset. Both return -1 when unavailable.
	OffsetLag(tp kafka.TopicPartition) int64
	LatestOffset(tp kafka.TopicPartition) int64

	Close() error
}
