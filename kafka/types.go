package kafka

import (
	"fmt"
	"time"
)

// TopicPartition identifies a single partition of a topic. Equality is
// pairwise, so it is safe to use as a map key.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf(`%s-%d`, tp.Topic, tp.Partition)
}

// Offset is a 64-bit per-partition record index. OffsetLowest means "start
// from the earliest available record".
type Offset int64

const OffsetLowest Offset = -1

func (o Offset) String() string {
	if o == OffsetLowest {
		return `Lowest`
	}
	return fmt.Sprint(int64(o))
}

// PartitionInfo describes a single partition's availability as observed
// through the admin/metadata API.
type PartitionInfo struct {
	Topic            string
	Partition        int32
	HasInSyncReplica bool
	ReplicaCount     int
}

// Recognized topic configuration keys. The core never interprets values
// beyond what's documented here; everything else passes through verbatim.
const (
	ConfigRetentionMs         = `retention.ms`
	ConfigCleanupPolicy       = `cleanup.policy`
	ConfigMinCompactionLagMs  = `min.compaction.lag.ms`
	ConfigMinInSyncReplicas   = `min.insync.replicas`
	ConfigMessageTimestampTyp = `message.timestamp.type`

	CleanupPolicyDelete  = `delete`
	CleanupPolicyCompact = `compact`

	MessageTimestampTypeLogAppendTime = `LogAppendTime`
)

// TopicConfig is a topic's configuration property set, keyed by broker
// config name.
type TopicConfig map[string]string

// Clone returns a shallow copy safe for the caller to mutate without
// affecting a cached or shared instance.
func (c TopicConfig) Clone() TopicConfig {
	clone := make(TopicConfig, len(c))
	for k, v := range c {
		clone[k] = v
	}
	return clone
}

const (
	// EternalRetentionMs is the retention value that effectively means
	// "never delete".
	EternalRetentionMs int64 = 1<<63 - 1 // math.MaxInt64, spelled out to avoid importing math for one constant

	// UnknownRetention is the sentinel returned when a topic's
	// retention.ms config is absent.
	UnknownRetention int64 = -1 << 63 // math.MinInt64

	DefaultTopicRetention           = 5 * 24 * time.Hour
	DefaultMinCompactionLag         = 24 * time.Hour
	BufferReplayMinimalSafetyMargin = 2 * 24 * time.Hour

	DefaultKafkaOperationTimeout = 30 * time.Second
	FastKafkaOperationTimeout    = 1 * time.Second

	DefaultReplicationFactor = 3

	DefaultTopicConfigCacheTTL = 5 * time.Minute

	DefaultConsumerPollRetryTimes          = 3
	DefaultConsumerPollRetryBackoff        = 0 * time.Millisecond
	DefaultTopicDeletionStatusPollInterval = 1 * time.Second

	MaxTopicDeleteRetries               = 3
	MinimumTopicDeletionStatusPollTimes = 10
	MaxConsumerRecreationInterval       = 100
)
