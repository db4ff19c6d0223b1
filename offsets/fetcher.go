/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package offsets implements the partition offset fetcher: a thin,
// mutex-guarded wrapper over a sarama client's GetOffset call, grounded
// on the teacher's consumer/adaptors/sarama/offsets manager.
package offsets

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/tryfix/log"

	"github.com/gmbyapa/topicmgr/kafka"
)

// Fetcher is the partition offset fetcher (component C). All methods are
// safe for concurrent use; a single mutex serializes access to the
// underlying sarama client so a retry loop never interleaves with
// another caller's request mid-cycle.
type Fetcher interface {
	GetTopicLatestOffsets(topic string) map[int32]int64
	GetPartitionLatestOffsetAndRetry(tp kafka.TopicPartition, retries int) (int64, error)
	GetPartitionEarliestOffsetAndRetry(tp kafka.TopicPartition, retries int) (int64, error)
	GetPartitionOffsetByTime(tp kafka.TopicPartition, timestampMs int64) (int64, error)
	GetProducerTimestampOfLastDataRecord(tp kafka.TopicPartition, retries int) (int64, error)
	PartitionsFor(topic string) ([]kafka.PartitionInfo, error)
	Close() error
}

type fetcher struct {
	mu      sync.Mutex
	client  sarama.Client
	admin   kafka.ReadOnlyAdmin
	logger  log.Logger
	backoff time.Duration
}

// NewFetcher dials its own sarama client off factory (expected to be a
// private clone of the Topic Manager's factory, per
// KafkaClientFactory.clone()) and delegates PartitionsFor to admin, which
// is the only component with metadata's ISR/replica detail (§4.A).
func NewFetcher(factory *kafka.ClientFactory, admin kafka.ReadOnlyAdmin, logger log.Logger) (Fetcher, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	saramaCfg := sarama.NewConfig()
	if factory.RequestTimeout > 0 {
		saramaCfg.Net.ReadTimeout = factory.RequestTimeout
		saramaCfg.Net.WriteTimeout = factory.RequestTimeout
	}
	if factory.TLS != nil {
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = factory.TLS
	}

	client, err := sarama.NewClient(factory.BootstrapServers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf(`offsets: cannot connect to %v: %w`, factory.BootstrapServers, err)
	}

	return &fetcher{
		client:  client,
		admin:   admin,
		logger:  logger.NewLog(log.Prefixed(`offset-fetcher`)),
		backoff: 200 * time.Millisecond,
	}, nil
}

// GetTopicLatestOffsets returns the latest (next-to-be-written) offset
// per partition for topic. On any error it returns an empty map rather
// than propagating, preserving the fetcher's "best effort, empty on
// error" contract.
func (f *fetcher) GetTopicLatestOffsets(topic string) map[int32]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	partitions, err := f.client.Partitions(topic)
	if err != nil {
		f.logger.Warn(fmt.Sprintf(`offsets: cannot list partitions for %s: %s`, topic, err))
		return map[int32]int64{}
	}

	out := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		offset, err := f.client.GetOffset(topic, p, sarama.OffsetNewest)
		if err != nil {
			f.logger.Warn(fmt.Sprintf(`offsets: cannot get latest offset for %s[%d]: %s`, topic, p, err))
			continue
		}
		out[p] = offset
	}

	return out
}

func (f *fetcher) getOffsetWithRetry(tp kafka.TopicPartition, time2 int64, retries int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getOffsetWithRetryLocked(tp, time2, retries)
}

// getOffsetWithRetryLocked is getOffsetWithRetry's body with f.mu already
// held by the caller, so a multi-step operation like
// GetProducerTimestampOfLastDataRecord can serialize its whole retry
// cycle — including the follow-up partition read — under one lock,
// per the "no yielding mid-cycle" contract on Fetcher.
func (f *fetcher) getOffsetWithRetryLocked(tp kafka.TopicPartition, time2 int64, retries int) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		offset, err := f.client.GetOffset(tp.Topic, tp.Partition, time2)
		if err == nil {
			return offset, nil
		}
		lastErr = err
		if attempt < retries {
			time.Sleep(f.backoff)
			f.client.RefreshMetadata(tp.Topic)
		}
	}

	return -1, fmt.Errorf(`offsets: cannot get offset for %s after %d retries: %w`, tp, retries, lastErr)
}

func (f *fetcher) GetPartitionLatestOffsetAndRetry(tp kafka.TopicPartition, retries int) (int64, error) {
	return f.getOffsetWithRetry(tp, sarama.OffsetNewest, retries)
}

func (f *fetcher) GetPartitionEarliestOffsetAndRetry(tp kafka.TopicPartition, retries int) (int64, error) {
	return f.getOffsetWithRetry(tp, sarama.OffsetOldest, retries)
}

// GetPartitionOffsetByTime resolves the earliest offset whose record
// timestamp is >= timestampMs, per sarama's GetOffset(time) contract.
func (f *fetcher) GetPartitionOffsetByTime(tp kafka.TopicPartition, timestampMs int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offset, err := f.client.GetOffset(tp.Topic, tp.Partition, timestampMs)
	if err != nil {
		return -1, fmt.Errorf(`offsets: cannot get offset by time for %s: %w`, tp, err)
	}

	return offset, nil
}

// maxControlRecordSkip bounds how far GetProducerTimestampOfLastDataRecord
// walks backward over transaction control records (commit/abort markers)
// looking for the last actual data record. Kafka never emits more than
// one control record per ongoing transaction per partition, so a handful
// of trailing control records is already a generous margin.
const maxControlRecordSkip = 5

// GetProducerTimestampOfLastDataRecord fetches the latest offset for tp,
// then reads backward from it to recover the last data record's
// timestamp, skipping over any trailing transaction control records
// (§4.C). The whole read, including the offset lookup, runs under f.mu
// so it never interleaves with another caller's retry cycle.
//
// Every topic this package's caller creates is configured with
// message.timestamp.type=LogAppendTime (see topicmgr's create policy),
// so the broker has already overwritten each record's original producer
// timestamp with its own append time by the time it's readable here —
// msg.Timestamp below is that broker-assigned value, not a timestamp
// the producer set.
func (f *fetcher) GetProducerTimestampOfLastDataRecord(tp kafka.TopicPartition, retries int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest, err := f.getOffsetWithRetryLocked(tp, sarama.OffsetNewest, retries)
	if err != nil {
		return -1, err
	}
	if latest <= 0 {
		return -1, nil
	}

	consumer, err := sarama.NewConsumerFromClient(f.client)
	if err != nil {
		return -1, fmt.Errorf(`offsets: cannot create consumer for %s: %w`, tp, err)
	}
	defer consumer.Close()

	offset := latest - 1
	for skipped := 0; skipped <= maxControlRecordSkip && offset >= 0; skipped++ {
		msg, err := f.readOneRecord(consumer, tp, offset)
		if err != nil {
			return -1, err
		}
		if msg == nil {
			return -1, nil
		}
		if !isControlRecord(msg) {
			return msg.Timestamp.UnixMilli(), nil
		}
		offset--
	}

	return -1, nil
}

// readOneRecord opens a partition consumer at offset, reads exactly one
// message off it, and closes it. Returns (nil, nil) if the partition
// consumer closes without delivering a message.
func (f *fetcher) readOneRecord(consumer sarama.Consumer, tp kafka.TopicPartition, offset int64) (*sarama.ConsumerMessage, error) {
	pc, err := consumer.ConsumePartition(tp.Topic, tp.Partition, offset)
	if err != nil {
		return nil, fmt.Errorf(`offsets: cannot read record %d for %s: %w`, offset, tp, err)
	}
	defer pc.Close()

	select {
	case msg, ok := <-pc.Messages():
		if !ok {
			return nil, nil
		}
		return msg, nil
	case <-time.After(kafka.FastKafkaOperationTimeout):
		return nil, fmt.Errorf(`offsets: timed out reading record %d for %s`, offset, tp)
	}
}

// isControlRecord reports whether msg looks like a transaction control
// record. Sarama's consumer API doesn't surface the control-batch flag
// from the fetch response directly, so this falls back to the control
// record's well-known shape: both key and value are nil.
func isControlRecord(msg *sarama.ConsumerMessage) bool {
	return msg.Key == nil && msg.Value == nil
}

func (f *fetcher) PartitionsFor(topic string) ([]kafka.PartitionInfo, error) {
	return f.admin.PartitionsFor(topic)
}

func (f *fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client.Close()
}
