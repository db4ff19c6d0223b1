/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package sarama

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"

	"github.com/gmbyapa/topicmgr/kafka"
)

const ImplName = `sarama`

func init() {
	kafka.RegisterAdminFactory(ImplName, func(bootstrapServers []string, cfg kafka.AdminConfig) (kafka.ReadOnlyAdmin, kafka.WriteOnlyAdmin, error) {
		admin, err := NewAdmin(bootstrapServers, WithLogger(cfg.Logger), WithTimeout(cfg.RequestTimeout))
		if err != nil {
			return nil, nil, err
		}
		return admin, admin, nil
	})
}

type adminOptions struct {
	KafkaVersion sarama.KafkaVersion
	Logger       log.Logger
	Timeout      time.Duration
}

func (opts *adminOptions) apply(options ...AdminOption) {
	opts.KafkaVersion = sarama.V2_4_0_0
	opts.Logger = log.NewNoopLogger()
	opts.Timeout = 20 * time.Second
	for _, opt := range options {
		opt(opts)
	}
}

type AdminOption func(*adminOptions)

func WithKafkaVersion(version sarama.KafkaVersion) AdminOption {
	return func(options *adminOptions) { options.KafkaVersion = version }
}

func WithLogger(logger log.Logger) AdminOption {
	return func(options *adminOptions) {
		if logger != nil {
			options.Logger = logger
		}
	}
}

func WithTimeout(timeout time.Duration) AdminOption {
	return func(options *adminOptions) {
		if timeout > 0 {
			options.Timeout = timeout
		}
	}
}

// kAdmin is both the read-only and write-only admin wrapper for the
// sarama implementation; it's valid for both roles to alias the same
// client since nothing in kAdmin retains per-call state.
type kAdmin struct {
	admin           sarama.ClusterAdmin
	logger          log.Logger
	adminConfig     *sarama.Config
	bootstrapServer []string
	mu              sync.RWMutex
}

func NewAdmin(bootstrapServer []string, options ...AdminOption) (*kAdmin, error) {
	opts := new(adminOptions)
	opts.apply(options...)
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = opts.KafkaVersion
	saramaConfig.Admin.Timeout = opts.Timeout
	logger := opts.Logger.NewLog(log.Prefixed(`kafka-admin`))
	admin, err := sarama.NewClusterAdmin(bootstrapServer, saramaConfig)
	if err != nil {
		return nil, errors.WithPrevious(err, `admin client failed`)
	}

	return &kAdmin{
		admin:           admin,
		logger:          logger,
		adminConfig:     saramaConfig,
		bootstrapServer: bootstrapServer,
	}, nil
}

func (a *kAdmin) reconnect() error {
	admin, err := sarama.NewClusterAdmin(a.bootstrapServer, a.adminConfig)
	if err != nil {
		return errors.WithPrevious(err, `admin client reconnect failed`)
	}

	a.mu.Lock()
	a.admin = admin
	a.mu.Unlock()
	return nil
}

func (a *kAdmin) client() sarama.ClusterAdmin {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admin
}

func (a *kAdmin) ClassName() string { return ImplName }

// describeTopics wraps ClusterAdmin.DescribeTopics with the same
// reconnect-on-net-error dance the teacher's FetchInfo used, to work
// around stale broker connections (sarama#2215).
func (a *kAdmin) describeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	var reconCount int
RETRY:
	meta, err := a.client().DescribeTopics(topics)
	if err != nil {
		if _, ok := err.(*net.OpError); ok && reconCount < 3 {
			if recErr := a.reconnect(); recErr != nil {
				return nil, errors.WithPrevious(recErr, `cannot get metadata`)
			}
			reconCount++
			goto RETRY
		}
		return nil, errors.WithPrevious(err, `cannot get metadata`)
	}
	return meta, nil
}

func (a *kAdmin) PartitionsFor(topic string) ([]kafka.PartitionInfo, error) {
	metas, err := a.describeTopics([]string{topic})
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 || metas[0].Err == sarama.ErrUnknownTopicOrPartition {
		return nil, kafka.ErrTopicDoesNotExist
	}

	meta := metas[0]
	infos := make([]kafka.PartitionInfo, 0, len(meta.Partitions))
	for _, p := range meta.Partitions {
		infos = append(infos, kafka.PartitionInfo{
			Topic:            topic,
			Partition:        p.ID,
			HasInSyncReplica: len(p.Isr) > 0,
			ReplicaCount:     len(p.Replicas),
		})
	}
	return infos, nil
}

func (a *kAdmin) GetTopicConfig(name string) (kafka.TopicConfig, error) {
	entries, err := a.client().DescribeConfig(sarama.ConfigResource{
		Type: sarama.TopicResource,
		Name: name,
	})
	if err != nil {
		if topicErr, ok := err.(*sarama.TopicError); ok && topicErr.Err == sarama.ErrUnknownTopicOrPartition {
			return nil, kafka.ErrTopicDoesNotExist
		}
		return nil, errors.Wrapf(err, `describe config failed for topic %s`, name)
	}

	config := make(kafka.TopicConfig, len(entries))
	for _, e := range entries {
		if e.Value != `` {
			config[e.Name] = e.Value
		}
	}
	return config, nil
}

func (a *kAdmin) GetTopicConfigWithRetry(name string, maxRetryDuration time.Duration) (kafka.TopicConfig, error) {
	var config kafka.TopicConfig
	err := retryWithBackoff(
		noopCtx{}, 10, 200*time.Millisecond, time.Second, maxRetryDuration,
		kafka.IsTransient,
		func() error {
			cfg, err := a.GetTopicConfig(name)
			if err != nil {
				if isTransientBrokerFault(err) {
					return kafka.NewTransientError(err)
				}
				return err
			}
			config = cfg
			return nil
		},
	)
	return config, err
}

func (a *kAdmin) GetSomeTopicConfigs(names map[string]struct{}) (map[string]kafka.TopicConfig, error) {
	result := make(map[string]kafka.TopicConfig, len(names))
	for name := range names {
		cfg, err := a.GetTopicConfig(name)
		if err != nil {
			if err == kafka.ErrTopicDoesNotExist {
				continue
			}
			return nil, err
		}
		result[name] = cfg
	}
	return result, nil
}

func (a *kAdmin) GetAllTopicRetentions() (map[string]int64, error) {
	topics, err := a.ListAllTopics()
	if err != nil {
		return nil, err
	}
	retentions := make(map[string]int64, len(topics))
	for name := range topics {
		cfg, err := a.GetTopicConfig(name)
		if err != nil {
			continue
		}
		if v, ok := cfg[kafka.ConfigRetentionMs]; ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				retentions[name] = ms
				continue
			}
		}
		retentions[name] = kafka.UnknownRetention
	}
	return retentions, nil
}

func (a *kAdmin) ContainsTopic(name string) (bool, error) {
	topics, err := a.client().ListTopics()
	if err != nil {
		return false, errors.WithPrevious(err, `cannot list topics`)
	}
	_, ok := topics[name]
	return ok, nil
}

func (a *kAdmin) ContainsTopicWithExpectationAndRetry(
	name string,
	maxAttempts int,
	expected bool,
	initialBackoff, maxBackoff, maxDuration time.Duration,
) (bool, error) {
	var result bool
	start := time.Now()
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		found, err := a.ContainsTopic(name)
		if err == nil {
			result = found
			if found == expected {
				return true, nil
			}
		}
		if time.Since(start) >= maxDuration || attempt == maxAttempts {
			return false, nil
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return result == expected, nil
}

func (a *kAdmin) ListAllTopics() (map[string]struct{}, error) {
	topics, err := a.client().ListTopics()
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot list topics`)
	}
	result := make(map[string]struct{}, len(topics))
	for name := range topics {
		result[name] = struct{}{}
	}
	return result, nil
}

// IsTopicDeletionUnderway reports false unconditionally: the modern Kafka
// admin protocol (post-ZK) has no dedicated RPC for "a delete is
// underway", and this method queries nothing. Kept as its own method so
// the Topic Manager's delete path still has a single, explicit place to
// ask the question.
func (a *kAdmin) IsTopicDeletionUnderway() (bool, error) {
	return false, nil
}

func (a *kAdmin) CreateTopic(name string, partitions int32, replicationFactor int16, properties kafka.TopicConfig) error {
	details := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
		ConfigEntries:     map[string]*string{},
	}
	for k, v := range properties {
		value := v
		details.ConfigEntries[k] = &value
	}

	err := a.client().CreateTopic(name, details, false)
	if err != nil {
		if topicErr, ok := err.(*sarama.TopicError); ok {
			switch topicErr.Err {
			case sarama.ErrTopicAlreadyExists:
				return kafka.ErrTopicExists
			case sarama.ErrInvalidReplicationFactor:
				return kafka.NewTransientError(err)
			case sarama.ErrRequestTimedOut:
				return kafka.NewTransientError(err)
			}
		}
		return errors.Wrapf(err, `could not create topic %s`, name)
	}
	a.logger.Info(fmt.Sprintf(`topic [%s] created`, name))
	return nil
}

func (a *kAdmin) SetTopicConfig(name string, properties kafka.TopicConfig) error {
	entries := make(map[string]*string, len(properties))
	for k, v := range properties {
		value := v
		entries[k] = &value
	}
	if err := a.client().AlterConfig(sarama.TopicResource, name, entries, false); err != nil {
		if topicErr, ok := err.(*sarama.TopicError); ok && topicErr.Err == sarama.ErrUnknownTopicOrPartition {
			return kafka.ErrTopicDoesNotExist
		}
		return errors.Wrapf(err, `could not alter config for topic %s`, name)
	}
	return nil
}

// DeleteTopic issues the delete and returns nil for the completion
// channel: sarama's ClusterAdmin.DeleteTopic blocks until the broker
// acknowledges the request but does not itself confirm full deletion, so
// the Topic Manager always falls back to the legacy polling path for
// this implementation.
func (a *kAdmin) DeleteTopic(name string) (<-chan error, error) {
	err := a.client().DeleteTopic(name)
	if err != nil {
		if topicErr, ok := err.(*sarama.TopicError); ok && topicErr.Err == sarama.ErrUnknownTopicOrPartition {
			return nil, nil
		}
		return nil, errors.Wrapf(err, `could not delete topic %s`, name)
	}
	return nil, nil
}

func (a *kAdmin) Close() error {
	if err := a.client().Close(); err != nil {
		a.logger.Warn(fmt.Sprintf(`kafka admin close failed: %+v`, err))
		return err
	}
	return nil
}

func isTransientBrokerFault(err error) bool {
	if topicErr, ok := err.(*sarama.TopicError); ok {
		return topicErr.Err == sarama.ErrInvalidReplicationFactor || topicErr.Err == sarama.ErrRequestTimedOut
	}
	return false
}

// noopCtx satisfies context.Context for retryWithBackoff calls made from
// code paths that don't carry a caller context (GetTopicConfigWithRetry
// mirrors a method the Java admin wrapper exposes without one).
type noopCtx struct{}

func (noopCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (noopCtx) Done() <-chan struct{}       { return nil }
func (noopCtx) Err() error                  { return nil }
func (noopCtx) Value(interface{}) interface{} { return nil }
