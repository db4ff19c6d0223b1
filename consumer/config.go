package consumer

import (
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Config carries the tuning knobs for a RawConsumer adaptor, mirroring
// the teacher's PartitionConsumerConfig pattern (Logger/MetricsReporter
// injected, everything else defaulted).
type Config struct {
	Id               string
	BootstrapServers []string

	PollRetryTimes   int
	PollRetryBackoff time.Duration

	// OffsetTrackingEnabled turns on the optional offset-lag tracker fed
	// from poll batches (§4.B "partition-offsets tracker").
	OffsetTrackingEnabled bool

	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	return &Config{
		PollRetryTimes:   3,
		PollRetryBackoff: 0,
		Logger:           log.NewNoopLogger(),
		MetricsReporter:  metrics.NoopReporter(),
	}
}

func (c *Config) Copy() *Config {
	clone := *c
	return &clone
}
