package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gmbyapa/topicmgr/consumer"
	"github.com/gmbyapa/topicmgr/kafka"
)

// RawConsumer is an in-memory consumer.RawConsumer for subscription
// engine tests: Feed pushes records into a subscribed partition's
// backlog, and Poll drains it.
type RawConsumer struct {
	mu            sync.Mutex
	subscriptions map[kafka.TopicPartition]bool
	paused        map[kafka.TopicPartition]bool
	backlog       map[kafka.TopicPartition][]*consumer.ConsumerRecord
	latest        map[kafka.TopicPartition]int64
	closed        bool
}

func NewRawConsumer() *RawConsumer {
	return &RawConsumer{
		subscriptions: map[kafka.TopicPartition]bool{},
		paused:        map[kafka.TopicPartition]bool{},
		backlog:       map[kafka.TopicPartition][]*consumer.ConsumerRecord{},
		latest:        map[kafka.TopicPartition]int64{},
	}
}

func (r *RawConsumer) Feed(tp kafka.TopicPartition, rec *consumer.ConsumerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backlog[tp] = append(r.backlog[tp], rec)
	if rec.Offset+1 > r.latest[tp] {
		r.latest[tp] = rec.Offset + 1
	}
}

func (r *RawConsumer) Subscribe(tp kafka.TopicPartition, lastReadOffset kafka.Offset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[tp] = true
	return nil
}

func (r *RawConsumer) Unsubscribe(tp kafka.TopicPartition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, tp)
	delete(r.backlog, tp)
	return nil
}

func (r *RawConsumer) BatchUnsubscribe(tps map[kafka.TopicPartition]struct{}) error {
	for tp := range tps {
		_ = r.Unsubscribe(tp)
	}
	return nil
}

func (r *RawConsumer) ResetOffset(tp kafka.TopicPartition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.subscriptions[tp] {
		return &consumer.ErrUnsubscribedTopicPartition{Topic: tp.Topic, Partition: tp.Partition}
	}
	return nil
}

func (r *RawConsumer) Pause(tp kafka.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[tp] = true
}

func (r *RawConsumer) Resume(tp kafka.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[tp] = false
}

func (r *RawConsumer) HasAnySubscription() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscriptions) > 0
}

func (r *RawConsumer) HasSubscription(tp kafka.TopicPartition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions[tp]
}

func (r *RawConsumer) Assignment() map[kafka.TopicPartition]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[kafka.TopicPartition]struct{}, len(r.subscriptions))
	for tp := range r.subscriptions {
		out[tp] = struct{}{}
	}
	return out
}

func (r *RawConsumer) Poll(ctx context.Context, timeout time.Duration) ([]*consumer.ConsumerRecord, error) {
	r.mu.Lock()
	var out []*consumer.ConsumerRecord
	for tp, recs := range r.backlog {
		if r.paused[tp] || len(recs) == 0 {
			continue
		}
		out = append(out, recs...)
		r.backlog[tp] = nil
	}
	r.mu.Unlock()

	if len(out) > 0 {
		return out, nil
	}

	select {
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RawConsumer) OffsetLag(tp kafka.TopicPartition) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.backlog[tp]))
}

func (r *RawConsumer) LatestOffset(tp kafka.TopicPartition) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.latest[tp]; ok {
		return v - 1
	}
	return -1
}

func (r *RawConsumer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
