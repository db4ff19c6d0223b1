/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package mock implements kafka.ReadOnlyAdmin/kafka.WriteOnlyAdmin
// in-memory, for use by topicmgr's tests. Grounded on the teacher's
// kafka/mocks package (MockKafkaAdmin + Topics registry), re-expressed
// against the new admin interfaces.
package mock

import (
	"strconv"
	"sync"
	"time"

	"github.com/gmbyapa/topicmgr/kafka"
)

const ImplName = `mock`

func init() {
	kafka.RegisterAdminFactory(ImplName, func(bootstrapServers []string, cfg kafka.AdminConfig) (kafka.ReadOnlyAdmin, kafka.WriteOnlyAdmin, error) {
		admin := NewAdmin()
		return admin, admin, nil
	})
}

type topicState struct {
	partitions []kafka.PartitionInfo
	config     kafka.TopicConfig
}

// Admin is an in-memory implementation of both admin interfaces, safe
// for concurrent use by a single test.
type Admin struct {
	mu     sync.Mutex
	topics map[string]*topicState

	deletionUnderway bool
	failNextCreate   error
}

func NewAdmin() *Admin {
	return &Admin{topics: map[string]*topicState{}}
}

func (a *Admin) ClassName() string { return ImplName }

// SeedTopic lets a test populate a topic directly, bypassing CreateTopic,
// with an explicit partition readiness state.
func (a *Admin) SeedTopic(name string, partitions []kafka.PartitionInfo, config kafka.TopicConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topics[name] = &topicState{partitions: partitions, config: config.Clone()}
}

// SetDeletionUnderway controls the next IsTopicDeletionUnderway result.
func (a *Admin) SetDeletionUnderway(underway bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletionUnderway = underway
}

// FailNextCreate makes the next CreateTopic call return err.
func (a *Admin) FailNextCreate(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNextCreate = err
}

func (a *Admin) GetTopicConfig(name string) (kafka.TopicConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tp, ok := a.topics[name]
	if !ok {
		return nil, kafka.ErrTopicDoesNotExist
	}
	return tp.config.Clone(), nil
}

func (a *Admin) GetTopicConfigWithRetry(name string, maxRetryDuration time.Duration) (kafka.TopicConfig, error) {
	return a.GetTopicConfig(name)
}

func (a *Admin) GetSomeTopicConfigs(names map[string]struct{}) (map[string]kafka.TopicConfig, error) {
	out := map[string]kafka.TopicConfig{}
	for name := range names {
		if cfg, err := a.GetTopicConfig(name); err == nil {
			out[name] = cfg
		}
	}
	return out, nil
}

func (a *Admin) GetAllTopicRetentions() (map[string]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := map[string]int64{}
	for name, tp := range a.topics {
		out[name] = kafka.UnknownRetention
		if v := tp.config[kafka.ConfigRetentionMs]; v != `` {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[name] = parsed
			}
		}
	}
	return out, nil
}

func (a *Admin) ContainsTopic(name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.topics[name]
	return ok, nil
}

func (a *Admin) ContainsTopicWithExpectationAndRetry(
	name string,
	maxAttempts int,
	expected bool,
	initialBackoff, maxBackoff, maxDuration time.Duration,
) (bool, error) {
	return a.ContainsTopic(name)
}

func (a *Admin) ListAllTopics() (map[string]struct{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]struct{}, len(a.topics))
	for name := range a.topics {
		out[name] = struct{}{}
	}
	return out, nil
}

func (a *Admin) IsTopicDeletionUnderway() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deletionUnderway, nil
}

func (a *Admin) PartitionsFor(topic string) ([]kafka.PartitionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tp, ok := a.topics[topic]
	if !ok {
		return nil, kafka.ErrTopicDoesNotExist
	}
	out := make([]kafka.PartitionInfo, len(tp.partitions))
	copy(out, tp.partitions)
	return out, nil
}

func (a *Admin) CreateTopic(name string, partitions int32, replicationFactor int16, properties kafka.TopicConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failNextCreate != nil {
		err := a.failNextCreate
		a.failNextCreate = nil
		return err
	}

	if _, ok := a.topics[name]; ok {
		return kafka.ErrTopicExists
	}

	infos := make([]kafka.PartitionInfo, partitions)
	for i := range infos {
		infos[i] = kafka.PartitionInfo{
			Topic:            name,
			Partition:        int32(i),
			HasInSyncReplica: true,
			ReplicaCount:     int(replicationFactor),
		}
	}

	a.topics[name] = &topicState{partitions: infos, config: properties.Clone()}
	return nil
}

func (a *Admin) SetTopicConfig(name string, properties kafka.TopicConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tp, ok := a.topics[name]
	if !ok {
		return kafka.ErrTopicDoesNotExist
	}
	for k, v := range properties {
		tp.config[k] = v
	}
	return nil
}

func (a *Admin) DeleteTopic(name string) (<-chan error, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.topics[name]; !ok {
		return nil, kafka.ErrTopicDoesNotExist
	}
	delete(a.topics, name)

	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (a *Admin) Close() error { return nil }
