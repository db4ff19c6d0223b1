package kafka

import (
	"time"

	"github.com/tryfix/log"
)

// ReadOnlyAdmin is the read-path capability surface over the broker admin
// protocol: metadata and config lookups. Implementations must translate
// UnknownTopicOrPartition into ErrTopicDoesNotExist.
type ReadOnlyAdmin interface {
	GetTopicConfig(name string) (TopicConfig, error)
	GetTopicConfigWithRetry(name string, maxRetryDuration time.Duration) (TopicConfig, error)
	GetSomeTopicConfigs(names map[string]struct{}) (map[string]TopicConfig, error)
	GetAllTopicRetentions() (map[string]int64, error)

	ContainsTopic(name string) (bool, error)
	ContainsTopicWithExpectationAndRetry(
		name string,
		maxAttempts int,
		expected bool,
		initialBackoff, maxBackoff, maxDuration time.Duration,
	) (bool, error)

	ListAllTopics() (map[string]struct{}, error)
	IsTopicDeletionUnderway() (bool, error)

	PartitionsFor(topic string) ([]PartitionInfo, error)

	ClassName() string
	Close() error
}

// WriteOnlyAdmin is the write-path capability surface: create/delete/alter.
// DeleteTopic may return a nil channel when the underlying client cannot
// provide delete-completion notification; callers must then poll.
type WriteOnlyAdmin interface {
	CreateTopic(name string, partitions int32, replicationFactor int16, properties TopicConfig) error
	DeleteTopic(name string) (<-chan error, error)
	SetTopicConfig(name string, properties TopicConfig) error

	ClassName() string
	Close() error
}

// AdminFactory builds a read-only/write-only admin pair for a named
// implementation. The two returned values may alias the same concrete
// client or be independent; callers must never assume shared connection
// state between them.
type AdminFactory func(bootstrapServers []string, cfg AdminConfig) (ReadOnlyAdmin, WriteOnlyAdmin, error)

// AdminConfig carries the knobs an AdminFactory needs to construct a
// client. Non-library-specific fields only; adaptor-specific tuning goes
// through functional options on the adaptor package itself.
type AdminConfig struct {
	RequestTimeout     time.Duration
	Logger             log.Logger
	ReceiveBufferBytes int
}
