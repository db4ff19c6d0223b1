package kafka

import (
	"crypto/tls"
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// MetricsParameters pairs a metrics reporter with the identity under which
// it should be registered, mirroring KafkaClientFactory.MetricsParameters:
// a unique name composed of the admin implementation class, the component
// name, and the bootstrap URL.
type MetricsParameters struct {
	AdminClassName   string
	ComponentName    string
	BootstrapServers string
	Reporter         metrics.Reporter
}

func (m MetricsParameters) UniqueName() string {
	return m.AdminClassName + `.` + m.ComponentName + `.` + m.BootstrapServers
}

// ClientFactory builds admin wrappers by implementation name, and carries
// the bootstrap/TLS/metrics plumbing every admin or consumer adaptor
// needs. It has no raw consumer constructor; ConsumerImplName is carried
// but not read by any method here. It is intentionally narrow (§1's "simple
// builder with SSL/bootstrap plumbing").
type ClientFactory struct {
	BootstrapServers []string
	TLS              *tls.Config
	RequestTimeout   time.Duration
	Logger           log.Logger
	Metrics          *MetricsParameters

	AdminImplName    string
	ConsumerImplName string
}

// Clone returns a copy of the factory with the bootstrap servers and
// metrics parameters replaced, matching KafkaClientFactory.clone() (used
// by the Partition Offset Fetcher to get its own private client sharing
// none of the Topic Manager's connection state).
func (f *ClientFactory) Clone(bootstrapServers []string, mp *MetricsParameters) *ClientFactory {
	clone := *f
	clone.BootstrapServers = append([]string{}, bootstrapServers...)
	clone.Metrics = mp
	return &clone
}

// AdminConfig materializes the AdminConfig an AdminFactory needs from
// this factory's settings, applying defaults for anything unset.
func (f *ClientFactory) AdminConfig() AdminConfig {
	logger := f.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	timeout := f.RequestTimeout
	if timeout == 0 {
		timeout = DefaultKafkaOperationTimeout
	}
	return AdminConfig{
		RequestTimeout:     timeout,
		Logger:             logger,
		ReceiveBufferBytes: 1 << 20, // core requests at least 1 MiB for admin work, §6
	}
}

// NewReadOnlyAdmin constructs a read-only admin using the registered
// factory named by f.AdminImplName.
func (f *ClientFactory) NewReadOnlyAdmin() (ReadOnlyAdmin, error) {
	ro, _, err := NewAdmin(f.AdminImplName, f.BootstrapServers, f.AdminConfig())
	return ro, err
}

// NewWriteOnlyAdmin constructs a write-only admin using the registered
// factory named by f.AdminImplName.
func (f *ClientFactory) NewWriteOnlyAdmin() (WriteOnlyAdmin, error) {
	_, wo, err := NewAdmin(f.AdminImplName, f.BootstrapServers, f.AdminConfig())
	return wo, err
}
