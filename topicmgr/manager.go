/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package topicmgr implements the Topic Manager: the orchestrator that
// composes the read-only/write-only admin clients, the partition offset
// fetcher, and the topic config cache into create/delete/update
// policies with broker-async-to-sync adaptation.
package topicmgr

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"

	"github.com/gmbyapa/topicmgr/cache"
	"github.com/gmbyapa/topicmgr/kafka"
	"github.com/gmbyapa/topicmgr/offsets"
)

type Manager struct {
	cfg *Config

	readAdmin  kafka.ReadOnlyAdmin
	writeAdmin kafka.WriteOnlyAdmin
	fetcher    offsets.Fetcher
	cache      *cache.ConfigCache

	// mu guards UpdateTopicCompactionPolicy, ListTopics,
	// ContainsTopicAndAllPartitionsAreOnline, and Close, per §5.
	// EnsureTopicIsDeletedAndBlock deliberately does not take it.
	mu sync.Mutex

	logger log.Logger
	metric struct {
		createTotal    metrics.Counter
		deleteLatency  metrics.Observer
		deleteUnderway metrics.Counter
	}
}

func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg = cfg.Copy()

	logger := cfg.Logger.NewLog(log.Prefixed(`topic-manager`))

	baseFactory := &kafka.ClientFactory{
		BootstrapServers: cfg.BootstrapServers,
		RequestTimeout:   cfg.KafkaOperationTimeout,
		Logger:           cfg.Logger,
		AdminImplName:    cfg.AdminImplName,
	}

	var readAdmin kafka.ReadOnlyAdmin
	var writeAdmin kafka.WriteOnlyAdmin

	if cfg.readAdminImplName() == cfg.AdminImplName {
		// same implementation on both sides: one factory call, one
		// connection, shared by both roles (§3 permits but does not
		// require separate instances).
		ro, wo, err := kafka.NewAdmin(cfg.AdminImplName, cfg.BootstrapServers, baseFactory.AdminConfig())
		if err != nil {
			return nil, fmt.Errorf(`topicmgr: cannot create admin: %w`, err)
		}
		readAdmin, writeAdmin = ro, wo
	} else {
		readFactory := baseFactory.Clone(cfg.BootstrapServers, nil)
		readFactory.AdminImplName = cfg.readAdminImplName()

		ro, err := readFactory.NewReadOnlyAdmin()
		if err != nil {
			return nil, fmt.Errorf(`topicmgr: cannot create read admin: %w`, err)
		}
		readAdmin = ro

		wo, err := baseFactory.NewWriteOnlyAdmin()
		if err != nil {
			return nil, fmt.Errorf(`topicmgr: cannot create write admin: %w`, err)
		}
		writeAdmin = wo
	}

	// the offset fetcher gets its own private client, cloned off the
	// same factory, sharing no connection state with either admin.
	fetcherFactory := baseFactory.Clone(cfg.BootstrapServers, nil)
	fetcher, err := offsets.NewFetcher(fetcherFactory, readAdmin, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf(`topicmgr: cannot create offset fetcher: %w`, err)
	}

	m := &Manager{
		cfg:        cfg,
		readAdmin:  readAdmin,
		writeAdmin: writeAdmin,
		fetcher:    fetcher,
		cache:      cache.New(cfg.ConfigCacheTTL),
		logger:     logger,
	}

	labels := []string{`topic`}
	m.metric.createTotal = cfg.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `topic_manager_create_total`,
		Labels: labels,
	})
	m.metric.deleteLatency = cfg.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `topic_manager_delete_latency_seconds`,
		Labels: labels,
	})
	m.metric.deleteUnderway = cfg.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `topic_manager_delete_underway_total`,
		Labels: labels,
	})

	return m, nil
}

// CreateTopic implements spec.md §4.E's create policy: compute
// retention/cleanup-policy properties, retry on InvalidReplicationFactor
// or Timeout with exponential backoff, and treat a surfaced TopicExists
// as "wait for readiness, then converge retention" rather than failure.
func (m *Manager) CreateTopic(name string, opts CreateTopicOptions) error {
	props, retentionMs := buildCreateProperties(opts, m.cfg.MinCompactionLagMs)

	deadline := m.cfg.KafkaOperationTimeout
	if opts.UseFastTimeout {
		deadline = m.cfg.FastKafkaOperationTimeout
	}

	start := time.Now()
	err := retryWithBackoff(10, 200*time.Millisecond, time.Second, deadline, func(err error) bool {
		return kafka.IsTransient(err)
	}, func() error {
		return m.writeAdmin.CreateTopic(name, opts.Partitions, opts.ReplicationFactor, props)
	})

	if err == kafka.ErrTopicExists {
		if err := m.awaitReadiness(name, opts.Partitions, deadline-time.Since(start)); err != nil {
			return err
		}
		if _, err := m.UpdateTopicRetention(name, retentionMs); err != nil {
			return err
		}
		m.metric.createTotal.Count(1, map[string]string{`topic`: name})
		return nil
	}

	if err != nil {
		return &ErrOperationTimedOut{Op: `createTopic(` + name + `)`, Elapsed: time.Since(start), Cause: err}
	}

	if err := m.awaitReadiness(name, opts.Partitions, deadline-time.Since(start)); err != nil {
		return err
	}

	m.metric.createTotal.Count(1, map[string]string{`topic`: name})
	return nil
}

// awaitReadiness polls containsTopicAndAllPartitionsAreOnline every
// 200ms until it's true or budget is exhausted.
func (m *Manager) awaitReadiness(name string, expectedPartitions int32, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for {
		ready, err := m.ContainsTopicAndAllPartitionsAreOnline(name, expectedPartitions)
		if err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return &ErrOperationTimedOut{Op: `awaitReadiness(` + name + `)`, Elapsed: budget, Cause: err}
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// UpdateTopicRetention writes retentionMs through if the current value
// is missing or different, and returns whether a write happened.
func (m *Manager) UpdateTopicRetention(name string, retentionMs int64) (bool, error) {
	cfg, err := m.readAdmin.GetTopicConfig(name)
	if err != nil {
		return false, err
	}

	current, ok := cfg[kafka.ConfigRetentionMs]
	target := strconv.FormatInt(retentionMs, 10)
	if ok && current == target {
		return false, nil
	}

	update := kafka.TopicConfig{kafka.ConfigRetentionMs: target}
	if err := m.writeAdmin.SetTopicConfig(name, update); err != nil {
		return false, err
	}
	m.cache.Merge(name, cfg, update)

	return true, nil
}

// UpdateTopicCompactionPolicy is mutually exclusive with other calls to
// this method on the same Manager (§5).
func (m *Manager) UpdateTopicCompactionPolicy(name string, compaction bool, minCompactionLagMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.readAdmin.GetTopicConfig(name)
	if err != nil {
		return err
	}

	currentPolicy, currentLag := currentCompactionConfig(cfg)
	desiredPolicy, desiredLag := desiredCompactionConfig(compaction, minCompactionLagMs)

	update := kafka.TopicConfig{}
	if currentPolicy != desiredPolicy {
		update[kafka.ConfigCleanupPolicy] = desiredPolicy
	}
	if compaction && currentLag != desiredLag {
		update[kafka.ConfigMinCompactionLagMs] = strconv.FormatInt(desiredLag, 10)
	}

	if len(update) == 0 {
		return nil
	}

	if err := m.writeAdmin.SetTopicConfig(name, update); err != nil {
		return err
	}
	m.cache.Merge(name, cfg, update)

	return nil
}

// EnsureTopicIsDeletedAndBlock implements spec.md §4.E's delete policy.
// Deliberately not mutex-guarded: a slow delete must not freeze unrelated
// metadata queries. At-most-one-delete-per-topic is the caller's
// responsibility, defensively backed by the isTopicDeletionUnderway check.
func (m *Manager) EnsureTopicIsDeletedAndBlock(name string) error {
	start := time.Now()

	ready, err := m.ContainsTopicAndAllPartitionsAreOnline(name, 0)
	if err == nil && !ready {
		return nil
	}

	if !m.cfg.ConcurrentTopicDeletionAllowed {
		underway, err := m.readAdmin.IsTopicDeletionUnderway()
		if err != nil {
			return err
		}
		if underway {
			m.metric.deleteUnderway.Count(1, map[string]string{`topic`: name})
			return &ErrDeletionBusy{Topic: name}
		}
	}

	future, err := m.writeAdmin.DeleteTopic(name)
	if err != nil {
		if err == kafka.ErrTopicDoesNotExist {
			return nil
		}
		return err
	}

	defer func() {
		m.metric.deleteLatency.Observe(time.Since(start).Seconds(), map[string]string{`topic`: name})
	}()

	if future != nil {
		select {
		case err := <-future:
			if err == nil || err == kafka.ErrTopicDoesNotExist {
				return nil
			}
			return err
		case <-time.After(m.cfg.KafkaOperationTimeout):
			return &ErrOperationTimedOut{Op: `deleteTopic(` + name + `)`, Elapsed: time.Since(start)}
		}
	}

	return m.pollLegacyDeletion(name, start)
}

// pollLegacyDeletion handles admin implementations whose DeleteTopic
// returns a nil confirmation channel: it polls ContainsTopic on every
// iteration until the topic disappears. It keeps a recreation-interval
// counter with the original's consumer recreation cadence (starts at 5
// iterations, doubles, caps at MaxConsumerRecreationInterval with
// overflow guarded), but no observation consumer or client is recreated:
// the counter gates nothing else.
func (m *Manager) pollLegacyDeletion(name string, start time.Time) error {
	minPolls := kafka.MinimumTopicDeletionStatusPollTimes
	maxPolls := int(m.cfg.KafkaOperationTimeout / m.cfg.TopicDeletionStatusPollInterval)
	if maxPolls < minPolls {
		maxPolls = minPolls
	}

	recreateInterval := 5
	for i := 0; i < maxPolls; i++ {
		exists, err := m.readAdmin.ContainsTopic(name)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}

		if i > 0 && i%recreateInterval == 0 {
			if next := recreateInterval * 2; next > 0 && next <= kafka.MaxConsumerRecreationInterval {
				recreateInterval = next
			} else {
				recreateInterval = kafka.MaxConsumerRecreationInterval
			}
		}

		time.Sleep(m.cfg.TopicDeletionStatusPollInterval)
	}

	return &ErrOperationTimedOut{Op: `deleteTopic(` + name + `)`, Elapsed: time.Since(start)}
}

// EnsureTopicIsDeletedAndBlockWithRetry retries the delete up to
// kafka.MaxTopicDeleteRetries times on timeout or execution failure.
func (m *Manager) EnsureTopicIsDeletedAndBlockWithRetry(name string) error {
	var lastErr error
	for attempt := 1; attempt <= kafka.MaxTopicDeleteRetries; attempt++ {
		lastErr = m.EnsureTopicIsDeletedAndBlock(name)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// IsTopicTruncated reports whether name is gone, or has a known
// retention at or below thresholdMs. Unknown retention is "not
// truncated".
func (m *Manager) IsTopicTruncated(name string, thresholdMs int64) (bool, error) {
	retentionMs, err := m.GetTopicRetention(name)
	if err == kafka.ErrTopicDoesNotExist {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if retentionMs == kafka.UnknownRetention {
		return false, nil
	}

	return retentionMs <= thresholdMs, nil
}

// GetExpectedRetentionTimeInMs is a pure function: see policy.go.
func (m *Manager) GetExpectedRetentionTimeInMs(rewind, bootstrapToOnline time.Duration) int64 {
	return getExpectedRetentionTimeInMs(rewind, bootstrapToOnline)
}

// ContainsTopicAndAllPartitionsAreOnline is the readiness predicate used
// throughout §4.E: topic exists, partition count matches (if
// expectedPartitions > 0), and every partition has ≥1 in-sync replica.
func (m *Manager) ContainsTopicAndAllPartitionsAreOnline(name string, expectedPartitions int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.readAdmin.ContainsTopic(name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	partitions, err := m.readAdmin.PartitionsFor(name)
	if err != nil {
		if err == kafka.ErrTopicDoesNotExist {
			return false, nil
		}
		return false, err
	}
	if len(partitions) == 0 {
		m.logger.Warn(fmt.Sprintf(`topicmgr: partition fetch for %s returned nothing, treating as not ready`, name))
		return false, nil
	}
	if expectedPartitions > 0 && int32(len(partitions)) != expectedPartitions {
		return false, nil
	}

	for _, p := range partitions {
		if !p.HasInSyncReplica {
			return false, nil
		}
	}

	return true, nil
}

func (m *Manager) ListTopics() (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readAdmin.ListAllTopics()
}

// GetReplicationFactor reads the replica count off the topic's first
// partition, the Go shape of TopicManager.java's
// partitionsFor(topic).next().replicasNum() accessor.
func (m *Manager) GetReplicationFactor(name string) (int16, error) {
	partitions, err := m.readAdmin.PartitionsFor(name)
	if err != nil {
		return 0, err
	}
	if len(partitions) == 0 {
		return 0, kafka.ErrTopicDoesNotExist
	}
	return int16(partitions[0].ReplicaCount), nil
}

// GetCachedTopicConfig fetches on miss, then caches; GetTopicConfig
// always hits the broker.
func (m *Manager) GetCachedTopicConfig(name string) (kafka.TopicConfig, error) {
	if cfg, ok := m.cache.Get(name); ok {
		return cfg, nil
	}

	cfg, err := m.readAdmin.GetTopicConfig(name)
	if err != nil {
		return nil, err
	}

	m.cache.Put(name, cfg)
	return cfg, nil
}

func (m *Manager) IsTopicCompactionEnabled(name string) (bool, error) {
	cfg, err := m.GetCachedTopicConfig(name)
	if err != nil {
		return false, err
	}
	policy, _ := currentCompactionConfig(cfg)
	return policy == kafka.CleanupPolicyCompact, nil
}

func (m *Manager) GetTopicMinLogCompactionLagMs(name string) (int64, error) {
	cfg, err := m.GetCachedTopicConfig(name)
	if err != nil {
		return 0, err
	}
	_, lag := currentCompactionConfig(cfg)
	return lag, nil
}

// GetTopicRetention fetches name's config and extracts retention.ms.
func (m *Manager) GetTopicRetention(name string) (int64, error) {
	cfg, err := m.GetCachedTopicConfig(name)
	if err != nil {
		return kafka.UnknownRetention, err
	}
	return GetTopicRetentionFromConfig(cfg), nil
}

// GetTopicRetentionFromConfig is the TopicConfig-based overload: avoids a
// second broker round trip when the caller already has the config.
func GetTopicRetentionFromConfig(cfg kafka.TopicConfig) int64 {
	v, ok := cfg[kafka.ConfigRetentionMs]
	if !ok {
		return kafka.UnknownRetention
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return kafka.UnknownRetention
	}
	return parsed
}

func (m *Manager) GetKafkaBootstrapServers() []string {
	return append([]string{}, m.cfg.BootstrapServers...)
}

// Close releases, in order, the offset fetcher, the read-only admin, and
// the write-only admin, logging and swallowing any sub-resource error.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fetcher.Close(); err != nil {
		m.logger.Warn(fmt.Sprintf(`topicmgr: offset fetcher close failed: %s`, err))
	}
	if err := m.readAdmin.Close(); err != nil {
		m.logger.Warn(fmt.Sprintf(`topicmgr: read admin close failed: %s`, err))
	}
	if err := m.writeAdmin.Close(); err != nil {
		m.logger.Warn(fmt.Sprintf(`topicmgr: write admin close failed: %s`, err))
	}

	return nil
}
