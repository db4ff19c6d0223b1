/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package sarama implements consumer.RawConsumer on top of sarama's
// non-group Consumer, emulating assign()/seek() with one
// sarama.PartitionConsumer per subscribed partition since sarama itself
// has no assign/seek primitive.
package sarama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"

	"github.com/gmbyapa/topicmgr/consumer"
	"github.com/gmbyapa/topicmgr/kafka"
)

type partitionHandle struct {
	tp      kafka.TopicPartition
	pc      sarama.PartitionConsumer
	paused  bool
	pauseMu sync.Mutex
}

func (h *partitionHandle) isPaused() bool {
	h.pauseMu.Lock()
	defer h.pauseMu.Unlock()
	return h.paused
}

type rawConsumer struct {
	id     string
	client sarama.Client
	reader sarama.Consumer

	subscriptions map[kafka.TopicPartition]*partitionHandle

	lastOffsetsMu sync.Mutex
	lastOffsets   map[kafka.TopicPartition]int64

	incoming chan *consumer.ConsumerRecord
	errorsCh chan error

	logger log.Logger
	cfg    *consumer.Config
	metric struct {
		buffer   metrics.Gauge
		endToEnd metrics.Observer
	}

	closing chan struct{}
	closed  bool
}

// NewRawConsumer dials bootstrapServers and returns a RawConsumer ready to
// take Subscribe calls. cfg.Id becomes the sarama client ID.
func NewRawConsumer(cfg *consumer.Config) (consumer.RawConsumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.Id
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.BootstrapServers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf(`raw consumer: cannot connect to %v: %w`, cfg.BootstrapServers, err)
	}

	reader, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf(`raw consumer: cannot create consumer: %w`, err)
	}

	logger := cfg.Logger.NewLog(log.Prefixed(`raw-consumer`))

	rc := &rawConsumer{
		id:            cfg.Id,
		client:        client,
		reader:        reader,
		subscriptions: map[kafka.TopicPartition]*partitionHandle{},
		lastOffsets:   map[kafka.TopicPartition]int64{},
		incoming:      make(chan *consumer.ConsumerRecord, 1000),
		errorsCh:      make(chan error, 100),
		logger:        logger,
		cfg:           cfg,
		closing:       make(chan struct{}),
	}

	rc.metric.buffer = cfg.MetricsReporter.Gauge(metrics.MetricConf{
		Path:   `raw_consumer_buffer`,
		Labels: []string{`consumer_id`},
	})
	rc.metric.endToEnd = cfg.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `raw_consumer_end_to_end_latency_microseconds`,
		Labels: []string{`topic`, `partition`},
	})

	return rc, nil
}

func (c *rawConsumer) Subscribe(tp kafka.TopicPartition, lastReadOffset kafka.Offset) error {
	if _, ok := c.subscriptions[tp]; ok {
		c.logger.Warn(fmt.Sprintf(`raw-consumer: %s already subscribed, ignoring`, tp))
		return nil
	}

	seekOffset := sarama.OffsetOldest
	if lastReadOffset > kafka.OffsetLowest {
		seekOffset = int64(lastReadOffset) + 1
	}

	pc, err := c.reader.ConsumePartition(tp.Topic, tp.Partition, seekOffset)
	if err != nil {
		return fmt.Errorf(`raw consumer: cannot subscribe to %s: %w`, tp, err)
	}

	handle := &partitionHandle{tp: tp, pc: pc}
	c.subscriptions[tp] = handle

	go c.consumeRecords(handle)
	go c.consumeErrors(handle)

	return nil
}

func (c *rawConsumer) Unsubscribe(tp kafka.TopicPartition) error {
	handle, ok := c.subscriptions[tp]
	if !ok {
		return nil
	}

	delete(c.subscriptions, tp)
	c.lastOffsetsMu.Lock()
	delete(c.lastOffsets, tp)
	c.lastOffsetsMu.Unlock()
	return handle.pc.Close()
}

func (c *rawConsumer) BatchUnsubscribe(tps map[kafka.TopicPartition]struct{}) error {
	for tp := range tps {
		if err := c.Unsubscribe(tp); err != nil {
			return err
		}
	}
	return nil
}

func (c *rawConsumer) ResetOffset(tp kafka.TopicPartition) error {
	handle, ok := c.subscriptions[tp]
	if !ok {
		return &consumer.ErrUnsubscribedTopicPartition{Topic: tp.Topic, Partition: tp.Partition}
	}

	if err := handle.pc.Close(); err != nil {
		c.logger.Warn(fmt.Sprintf(`raw-consumer: close before reset failed for %s: %s`, tp, err))
	}
	delete(c.subscriptions, tp)

	return c.Subscribe(tp, kafka.OffsetLowest)
}

// Pause stops draining the underlying partition consumer's message
// channel. Sarama keeps fetching in the background, so the channel fills
// and the broker fetch loop backpressures on it; there is no
// fetch-suppression call to make at this layer.
func (c *rawConsumer) Pause(tp kafka.TopicPartition) {
	if handle, ok := c.subscriptions[tp]; ok {
		handle.pauseMu.Lock()
		handle.paused = true
		handle.pauseMu.Unlock()
	}
}

func (c *rawConsumer) Resume(tp kafka.TopicPartition) {
	if handle, ok := c.subscriptions[tp]; ok {
		handle.pauseMu.Lock()
		handle.paused = false
		handle.pauseMu.Unlock()
	}
}

func (c *rawConsumer) HasAnySubscription() bool {
	return len(c.subscriptions) > 0
}

func (c *rawConsumer) HasSubscription(tp kafka.TopicPartition) bool {
	_, ok := c.subscriptions[tp]
	return ok
}

func (c *rawConsumer) Assignment() map[kafka.TopicPartition]struct{} {
	out := make(map[kafka.TopicPartition]struct{}, len(c.subscriptions))
	for tp := range c.subscriptions {
		out[tp] = struct{}{}
	}
	return out
}

func (c *rawConsumer) consumeRecords(handle *partitionHandle) {
	for msg := range handle.pc.Messages() {
		// hold the message until the partition is resumed, so nothing
		// read while paused is lost and the channel backs up behind it.
		for handle.isPaused() {
			select {
			case <-c.closing:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}

		record := &consumer.ConsumerRecord{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Timestamp,
			UUID:      uuid.New(),
		}

		c.metric.endToEnd.Observe(float64(time.Since(msg.Timestamp).Microseconds()), map[string]string{
			`topic`:     msg.Topic,
			`partition`: fmt.Sprint(msg.Partition),
		})

		if c.cfg.OffsetTrackingEnabled {
			c.lastOffsetsMu.Lock()
			c.lastOffsets[handle.tp] = msg.Offset
			c.lastOffsetsMu.Unlock()
		}

		c.incoming <- record
	}
}

func (c *rawConsumer) consumeErrors(handle *partitionHandle) {
	for err := range handle.pc.Errors() {
		c.logger.Warn(fmt.Sprintf(`raw-consumer: %s error: %s`, handle.tp, err))
		select {
		case c.errorsCh <- err:
		default:
		}
	}
}

// Poll drains whatever is buffered in incoming within timeout. If nothing
// arrives and a classified-transient consumer error showed up instead,
// it retries up to cfg.PollRetryTimes with cfg.PollRetryBackoff between
// attempts; a non-transient error returns immediately, and the final
// attempt's error is returned unchanged either way.
func (c *rawConsumer) Poll(ctx context.Context, timeout time.Duration) ([]*consumer.ConsumerRecord, error) {
	deadline := time.Now().Add(timeout)

	for attempt := 0; ; attempt++ {
		records, err := c.pollOnce(ctx, time.Until(deadline))
		if len(records) > 0 || err == nil {
			return records, err
		}
		if !isTransientConsumerFault(err) || attempt == c.cfg.PollRetryTimes || time.Now().After(deadline) {
			return records, err
		}
		time.Sleep(c.cfg.PollRetryBackoff)
	}
}

// isTransientConsumerFault classifies a consumer error channel error the
// same way the admin paths classify broker faults (kafka.IsTransient):
// a retriable sarama.KError off a *sarama.ConsumerError, or a network
// error, is worth retrying; anything else (an unsubscribed partition,
// ctx cancellation, a closed channel) is not.
func isTransientConsumerFault(err error) bool {
	var consumerErr *sarama.ConsumerError
	cause := err
	if errors.As(err, &consumerErr) {
		cause = consumerErr.Err
	}

	switch cause {
	case sarama.ErrLeaderNotAvailable, sarama.ErrNotLeaderForPartition,
		sarama.ErrReplicaNotAvailable, sarama.ErrRequestTimedOut, sarama.ErrOutOfBrokers:
		return true
	}

	var netErr net.Error
	return errors.As(cause, &netErr)
}

func (c *rawConsumer) pollOnce(ctx context.Context, timeout time.Duration) ([]*consumer.ConsumerRecord, error) {
	if timeout <= 0 {
		return nil, nil
	}

	var records []*consumer.ConsumerRecord
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case rec := <-c.incoming:
			records = append(records, rec)
			c.metric.buffer.Count(float64(len(c.incoming)), map[string]string{`consumer_id`: c.id})
		case err := <-c.errorsCh:
			if len(records) > 0 {
				return records, nil
			}
			return nil, err
		case <-timer.C:
			return records, nil
		case <-ctx.Done():
			return records, ctx.Err()
		}
	}
}

func (c *rawConsumer) OffsetLag(tp kafka.TopicPartition) int64 {
	c.lastOffsetsMu.Lock()
	last, ok := c.lastOffsets[tp]
	c.lastOffsetsMu.Unlock()
	if !ok {
		return -1
	}
	latest := c.LatestOffset(tp)
	if latest < 0 {
		return -1
	}
	return latest - last
}

func (c *rawConsumer) LatestOffset(tp kafka.TopicPartition) int64 {
	offset, err := c.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
	if err != nil {
		return -1
	}
	return offset - 1
}

func (c *rawConsumer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closing)

	for tp := range c.subscriptions {
		_ = c.Unsubscribe(tp)
	}

	if err := c.reader.Close(); err != nil {
		c.logger.Error(fmt.Sprintf(`raw-consumer: close failed: %s`, err))
	}

	if err := c.client.Close(); err != nil {
		c.logger.Error(fmt.Sprintf(`raw-consumer: client close failed: %s`, err))
	}

	c.metric.buffer.UnRegister()
	c.metric.endToEnd.UnRegister()

	return nil
}
