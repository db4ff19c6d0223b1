package sarama

import (
	"context"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"

	"github.com/gmbyapa/topicmgr/consumer"
	"github.com/gmbyapa/topicmgr/kafka"
)

// newTestRawConsumer builds a rawConsumer directly off reader, bypassing
// NewRawConsumer's real sarama.NewClient dial so tests run against
// sarama's own mocks.Consumer instead of a broker.
func newTestRawConsumer(t *testing.T, reader sarama.Consumer, cfg *consumer.Config) *rawConsumer {
	t.Helper()

	if cfg == nil {
		cfg = consumer.NewConfig()
	}

	rc := &rawConsumer{
		id:            `test`,
		reader:        reader,
		subscriptions: map[kafka.TopicPartition]*partitionHandle{},
		lastOffsets:   map[kafka.TopicPartition]int64{},
		incoming:      make(chan *consumer.ConsumerRecord, 100),
		errorsCh:      make(chan error, 100),
		logger:        log.NewNoopLogger(),
		cfg:           cfg,
		closing:       make(chan struct{}),
	}

	reporter := metrics.NoopReporter()
	rc.metric.buffer = reporter.Gauge(metrics.MetricConf{
		Path:   `test_raw_consumer_buffer`,
		Labels: []string{`consumer_id`},
	})
	rc.metric.endToEnd = reporter.Observer(metrics.MetricConf{
		Path:   `test_raw_consumer_end_to_end`,
		Labels: []string{`topic`, `partition`},
	})

	return rc
}

func TestSubscribe_DefaultsToOldestWhenNoLastOffset(t *testing.T) {
	mc := mocks.NewConsumer(t, sarama.NewConfig())
	mc.ExpectConsumePartition(`orders`, 0, sarama.OffsetOldest)

	c := newTestRawConsumer(t, mc, nil)
	tp := kafka.TopicPartition{Topic: `orders`, Partition: 0}

	if err := c.Subscribe(tp, kafka.OffsetLowest); err != nil {
		t.Fatalf(`Subscribe failed: %s`, err)
	}
	if !c.HasSubscription(tp) {
		t.Fatalf(`expected %s to be subscribed`, tp)
	}
}

func TestSubscribe_SeeksToLastReadOffsetPlusOne(t *testing.T) {
	mc := mocks.NewConsumer(t, sarama.NewConfig())
	mc.ExpectConsumePartition(`orders`, 0, 6)

	c := newTestRawConsumer(t, mc, nil)
	tp := kafka.TopicPartition{Topic: `orders`, Partition: 0}

	if err := c.Subscribe(tp, kafka.Offset(5)); err != nil {
		t.Fatalf(`Subscribe failed: %s`, err)
	}
	if !c.HasSubscription(tp) {
		t.Fatalf(`expected %s to be subscribed`, tp)
	}
}

func TestSubscribe_AlreadySubscribedIsNoop(t *testing.T) {
	mc := mocks.NewConsumer(t, sarama.NewConfig())
	mc.ExpectConsumePartition(`orders`, 0, sarama.OffsetOldest)

	c := newTestRawConsumer(t, mc, nil)
	tp := kafka.TopicPartition{Topic: `orders`, Partition: 0}

	if err := c.Subscribe(tp, kafka.OffsetLowest); err != nil {
		t.Fatalf(`first Subscribe failed: %s`, err)
	}
	if err := c.Subscribe(tp, kafka.OffsetLowest); err != nil {
		t.Fatalf(`second Subscribe on the same tp should be a warn-and-skip no-op, got: %s`, err)
	}
}

func TestResetOffset_UnsubscribedTopicPartitionFails(t *testing.T) {
	mc := mocks.NewConsumer(t, sarama.NewConfig())
	c := newTestRawConsumer(t, mc, nil)
	tp := kafka.TopicPartition{Topic: `orders`, Partition: 0}

	err := c.ResetOffset(tp)
	if _, ok := err.(*consumer.ErrUnsubscribedTopicPartition); !ok {
		t.Fatalf(`expected ErrUnsubscribedTopicPartition, got: %v`, err)
	}
}

// fakePartitionConsumer is a minimal sarama.PartitionConsumer used to seed
// an existing subscription directly, so a ResetOffset test can assert the
// stale consumer was closed without depending on mocks.Consumer's
// single-expectation-per-partition bookkeeping across two ConsumePartition
// calls.
type fakePartitionConsumer struct {
	closeCalled bool
	messages    chan *sarama.ConsumerMessage
	errors      chan *sarama.ConsumerError
}

func newFakePartitionConsumer() *fakePartitionConsumer {
	return &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
}

func (f *fakePartitionConsumer) AsyncClose() {}

func (f *fakePartitionConsumer) Close() error {
	f.closeCalled = true
	return nil
}

func (f *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return f.messages
}

func (f *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError {
	return f.errors
}

func (f *fakePartitionConsumer) HighWaterMarkOffset() int64 { return 0 }
func (f *fakePartitionConsumer) Pause()                     {}
func (f *fakePartitionConsumer) Resume()                    {}
func (f *fakePartitionConsumer) IsPaused() bool             { return false }

func TestResetOffset_ReSubscribesAtOldest(t *testing.T) {
	mc := mocks.NewConsumer(t, sarama.NewConfig())
	mc.ExpectConsumePartition(`orders`, 0, sarama.OffsetOldest)

	c := newTestRawConsumer(t, mc, nil)
	tp := kafka.TopicPartition{Topic: `orders`, Partition: 0}

	stale := newFakePartitionConsumer()
	c.subscriptions[tp] = &partitionHandle{tp: tp, pc: stale}

	if err := c.ResetOffset(tp); err != nil {
		t.Fatalf(`ResetOffset failed: %s`, err)
	}
	if !stale.closeCalled {
		t.Fatalf(`expected the stale partition consumer to be closed before re-subscribing`)
	}
	if !c.HasSubscription(tp) {
		t.Fatalf(`expected %s to still be subscribed after reset`, tp)
	}
}

// P4: Poll retries a classified-transient consumer error up to
// cfg.PollRetryTimes with cfg.PollRetryBackoff between attempts, and
// surfaces the original (final attempt's) cause unchanged.
func TestPoll_RetriesTransientErrorThenReturnsOriginalCauseUnchanged(t *testing.T) {
	cfg := consumer.NewConfig()
	cfg.PollRetryTimes = 2
	cfg.PollRetryBackoff = time.Millisecond

	c := newTestRawConsumer(t, mocks.NewConsumer(t, sarama.NewConfig()), cfg)

	var last *sarama.ConsumerError
	for i := 0; i < cfg.PollRetryTimes+1; i++ {
		last = &sarama.ConsumerError{
			Topic:     `orders`,
			Partition: 0,
			Err:       sarama.ErrRequestTimedOut,
		}
		c.errorsCh <- last
	}

	records, err := c.Poll(context.Background(), time.Second)
	if len(records) != 0 {
		t.Fatalf(`expected no records, got %d`, len(records))
	}
	if err != last {
		t.Fatalf(`expected the final attempt's error returned unchanged, got: %v`, err)
	}
	if len(c.errorsCh) != 0 {
		t.Fatalf(`expected exactly PollRetryTimes+1 attempts to drain all queued errors, %d left`, len(c.errorsCh))
	}
}

// A non-transient error must not be retried at all.
func TestPoll_NonTransientErrorReturnsImmediately(t *testing.T) {
	cfg := consumer.NewConfig()
	cfg.PollRetryTimes = 5
	cfg.PollRetryBackoff = 50 * time.Millisecond

	c := newTestRawConsumer(t, mocks.NewConsumer(t, sarama.NewConfig()), cfg)

	cause := &sarama.ConsumerError{Topic: `orders`, Partition: 0, Err: sarama.ErrUnknownTopicOrPartition}
	c.errorsCh <- cause

	start := time.Now()
	records, err := c.Poll(context.Background(), 2*time.Second)
	elapsed := time.Since(start)

	if len(records) != 0 {
		t.Fatalf(`expected no records, got %d`, len(records))
	}
	if err != cause {
		t.Fatalf(`expected the non-transient error returned unchanged, got: %v`, err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf(`non-transient error should return on the first attempt, took %s`, elapsed)
	}
}

// ctx cancellation aborts Poll immediately, surfacing ctx.Err() as the
// cause, without being mistaken for a retriable fault.
func TestPoll_CtxCancelAbortsImmediately(t *testing.T) {
	c := newTestRawConsumer(t, mocks.NewConsumer(t, sarama.NewConfig()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	records, err := c.Poll(ctx, 5*time.Second)
	elapsed := time.Since(start)

	if len(records) != 0 {
		t.Fatalf(`expected no records, got %d`, len(records))
	}
	if err != context.Canceled {
		t.Fatalf(`expected context.Canceled, got: %v`, err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf(`ctx cancellation should abort immediately, took %s`, elapsed)
	}
}

func TestIsTransientConsumerFault(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{`retriable KError off ConsumerError`, &sarama.ConsumerError{Err: sarama.ErrRequestTimedOut}, true},
		{`non-retriable KError off ConsumerError`, &sarama.ConsumerError{Err: sarama.ErrUnknownTopicOrPartition}, false},
		{`ctx cancellation`, context.Canceled, false},
	}

	for _, tc := range cases {
		if got := isTransientConsumerFault(tc.err); got != tc.want {
			t.Errorf(`%s: isTransientConsumerFault() = %v, want %v`, tc.name, got, tc.want)
		}
	}
}
