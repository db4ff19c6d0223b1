package topicmgr

import (
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"

	"github.com/gmbyapa/topicmgr/kafka"
)

// Config is the Topic Manager's tuning surface: which admin
// implementation to dial, the deadlines governing each policy, and the
// ambient logger/metrics reporter, mirroring the teacher's
// Config/Copy() pattern (streams.Config).
type Config struct {
	BootstrapServers []string

	// AdminImplName selects the registered kafka.AdminFactory, e.g.
	// "sarama" or "librdkafka".
	AdminImplName     string
	ReadAdminImplName string

	// KafkaOperationTimeout is the overall deadline for a normal admin
	// round trip (create/update/delete). Default 30s.
	KafkaOperationTimeout time.Duration
	// FastKafkaOperationTimeout is used when the caller opts into
	// useFastTimeout for CreateTopic. Default 1s.
	FastKafkaOperationTimeout time.Duration

	// TopicDeletionStatusPollInterval is the sleep between legacy
	// delete-status polls. Default 1s.
	TopicDeletionStatusPollInterval time.Duration
	// ConcurrentTopicDeletionAllowed disables the isTopicDeletionUnderway
	// busy check when true.
	ConcurrentTopicDeletionAllowed bool

	// ConfigCacheTTL is the Topic Config Cache's entry lifetime. Default
	// 5 minutes.
	ConfigCacheTTL time.Duration

	// MinCompactionLagMs is the instance-wide min.compaction.lag.ms
	// CreateTopic applies to a compacted topic, mirroring
	// TopicManager.java's topicMinLogCompactionLagMs field. Default 24h.
	MinCompactionLagMs int64

	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	return &Config{
		AdminImplName:                   `sarama`,
		KafkaOperationTimeout:           kafka.DefaultKafkaOperationTimeout,
		FastKafkaOperationTimeout:       kafka.FastKafkaOperationTimeout,
		TopicDeletionStatusPollInterval: kafka.DefaultTopicDeletionStatusPollInterval,
		ConfigCacheTTL:                  kafka.DefaultTopicConfigCacheTTL,
		MinCompactionLagMs:              kafka.DefaultMinCompactionLag.Milliseconds(),
		Logger:                          log.NewNoopLogger(),
		MetricsReporter:                 metrics.NoopReporter(),
	}
}

func (c *Config) Copy() *Config {
	clone := *c
	clone.BootstrapServers = append([]string{}, c.BootstrapServers...)
	return &clone
}

// readAdminImplName returns ReadAdminImplName if set, else falls back to
// AdminImplName — the spec allows the read-only and write-only admin to
// be different implementations, but most deployments use the same one.
func (c *Config) readAdminImplName() string {
	if c.ReadAdminImplName != `` {
		return c.ReadAdminImplName
	}
	return c.AdminImplName
}
