/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package subscription implements the consumer subscription engine
// (component F): a single goroutine that owns one consumer.RawConsumer
// and serializes Assign/Unassign onto that goroutine via a command
// channel, so the raw consumer is never touched concurrently. Grounded
// on the original's KafkaConsumerPerStoreService (one thread per
// Consumer client) and on the teacher's partitionConsumer goroutine
// pattern (consumeRecords/consumeErrors over a single channel pair).
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/log"

	"github.com/gmbyapa/topicmgr/consumer"
	"github.com/gmbyapa/topicmgr/kafka"
)

type command struct {
	assign      bool
	tp          kafka.TopicPartition
	startOffset kafka.Offset
	done        chan error
}

// Engine is the consumer subscription engine. All public methods are
// safe for concurrent use; Start must be called exactly once before
// Assign/Unassign/Stop.
type Engine struct {
	raw    consumer.RawConsumer
	logger log.Logger

	pollTimeout time.Duration

	commands chan command
	records  chan *consumer.ConsumerRecord
	errors   chan error
	stopped  chan struct{}
}

func New(raw consumer.RawConsumer, pollTimeout time.Duration, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if pollTimeout <= 0 {
		pollTimeout = 500 * time.Millisecond
	}

	return &Engine{
		raw:         raw,
		logger:      logger.NewLog(log.Prefixed(`subscription-engine`)),
		pollTimeout: pollTimeout,
		commands:    make(chan command),
		records:     make(chan *consumer.ConsumerRecord, 1000),
		errors:      make(chan error, 1),
		stopped:     make(chan struct{}),
	}
}

func (e *Engine) Records() <-chan *consumer.ConsumerRecord { return e.records }
func (e *Engine) Errors() <-chan error                     { return e.errors }

// Start runs the engine's loop until ctx is cancelled or Stop is called.
// It owns e.raw exclusively from this point on.
func (e *Engine) Start(ctx context.Context) error {
	go e.run(ctx)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)
	defer close(e.records)

	for {
		select {
		case <-ctx.Done():
			e.drainErrors(ctx.Err())
			return

		case cmd := <-e.commands:
			var err error
			if cmd.assign {
				err = e.raw.Subscribe(cmd.tp, cmd.startOffset)
			} else {
				err = e.raw.Unsubscribe(cmd.tp)
			}
			cmd.done <- err

		default:
			if !e.raw.HasAnySubscription() {
				// nothing assigned yet; wait for a command or cancellation
				// without burning CPU on an empty poll loop.
				select {
				case <-ctx.Done():
					e.drainErrors(ctx.Err())
					return
				case cmd := <-e.commands:
					var err error
					if cmd.assign {
						err = e.raw.Subscribe(cmd.tp, cmd.startOffset)
					} else {
						err = e.raw.Unsubscribe(cmd.tp)
					}
					cmd.done <- err
				}
				continue
			}

			records, err := e.raw.Poll(ctx, e.pollTimeout)
			if err != nil {
				e.logger.Warn(fmt.Sprintf(`subscription-engine: poll failed: %s`, err))
				e.drainErrors(err)
				return
			}

			for _, rec := range records {
				select {
				case e.records <- rec:
				case <-ctx.Done():
					e.drainErrors(ctx.Err())
					return
				}
			}
		}
	}
}

func (e *Engine) drainErrors(err error) {
	if err == nil {
		return
	}
	select {
	case e.errors <- err:
	default:
	}
}

func (e *Engine) send(tp kafka.TopicPartition, assign bool, startOffset kafka.Offset) error {
	done := make(chan error, 1)
	e.commands <- command{assign: assign, tp: tp, startOffset: startOffset, done: done}
	return <-done
}

func (e *Engine) Assign(tp kafka.TopicPartition, startOffset kafka.Offset) error {
	return e.send(tp, true, startOffset)
}

func (e *Engine) Unassign(tp kafka.TopicPartition) error {
	return e.send(tp, false, kafka.OffsetLowest)
}

// Stop closes the underlying raw consumer. The run loop exits on its own
// once ctx (passed to Start) is cancelled; Stop only needs to release
// the raw consumer's resources.
func (e *Engine) Stop() error {
	return e.raw.Close()
}
