package cache

import (
	"testing"
	"time"

	"github.com/gmbyapa/topicmgr/kafka"
)

func TestConfigCache_MissThenPut(t *testing.T) {
	c := New(time.Minute)

	if _, ok := c.Get(`orders`); ok {
		t.Fatalf(`expected miss on empty cache`)
	}

	cfg := kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`}
	c.Put(`orders`, cfg)

	got, ok := c.Get(`orders`)
	if !ok {
		t.Fatalf(`expected hit after Put`)
	}
	if got[kafka.ConfigRetentionMs] != `1000` {
		t.Fatalf(`unexpected cached value: %v`, got)
	}
}

func TestConfigCache_ExpiresAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Put(`orders`, kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`})

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(`orders`); ok {
		t.Fatalf(`expected entry to expire after TTL`)
	}
}

func TestConfigCache_MergeWritesThroughInsteadOfInvalidating(t *testing.T) {
	c := New(time.Minute)

	base := kafka.TopicConfig{
		kafka.ConfigRetentionMs:   `1000`,
		kafka.ConfigCleanupPolicy: kafka.CleanupPolicyDelete,
	}
	c.Merge(`orders`, base, kafka.TopicConfig{kafka.ConfigRetentionMs: `2000`})

	got, ok := c.Get(`orders`)
	if !ok {
		t.Fatalf(`expected a hit after Merge, the entry must not be invalidated away`)
	}
	if got[kafka.ConfigRetentionMs] != `2000` {
		t.Fatalf(`expected merged retention.ms=2000, got %s`, got[kafka.ConfigRetentionMs])
	}
	if got[kafka.ConfigCleanupPolicy] != kafka.CleanupPolicyDelete {
		t.Fatalf(`expected unrelated base config to survive the merge, got %v`, got)
	}
}

func TestConfigCache_MergeRefreshesTTL(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Put(`orders`, kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`})

	time.Sleep(15 * time.Millisecond)
	c.Merge(`orders`, kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`}, kafka.TopicConfig{kafka.ConfigRetentionMs: `2000`})
	time.Sleep(15 * time.Millisecond)

	if _, ok := c.Get(`orders`); !ok {
		t.Fatalf(`expected Merge to extend the entry's TTL`)
	}
}

func TestConfigCache_NoNegativeCaching(t *testing.T) {
	c := New(time.Minute)

	// A miss never gets stored by Get itself.
	_, _ = c.Get(`orders`)
	_, ok := c.Get(`orders`)
	if ok {
		t.Fatalf(`Get must never populate the cache on a miss`)
	}
}
