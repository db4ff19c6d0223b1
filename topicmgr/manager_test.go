package topicmgr

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"

	"github.com/gmbyapa/topicmgr/cache"
	"github.com/gmbyapa/topicmgr/kafka"
	"github.com/gmbyapa/topicmgr/kafka/adaptors/mock"
)

func newTestManager(t *testing.T, admin *mock.Admin) *Manager {
	t.Helper()

	m := &Manager{
		cfg:        NewConfig(),
		readAdmin:  admin,
		writeAdmin: admin,
		cache:      cache.New(kafka.DefaultTopicConfigCacheTTL),
		logger:     log.NewNoopLogger(),
	}

	reporter := metrics.NoopReporter()
	labels := []string{`topic`}
	m.metric.createTotal = reporter.Counter(metrics.MetricConf{Path: `test_create_total`, Labels: labels})
	m.metric.deleteLatency = reporter.Observer(metrics.MetricConf{Path: `test_delete_latency`, Labels: labels})
	m.metric.deleteUnderway = reporter.Counter(metrics.MetricConf{Path: `test_delete_underway_total`, Labels: labels})

	return m
}

func randomTopicName() string {
	return fmt.Sprintf(`%s-%d`, faker.Word(), rand.Intn(1_000_000))
}

// P1: creating a topic that doesn't exist always converges to a
// readable, online topic with the requested retention.
func TestCreateTopic_NewTopicConverges(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	for i := 0; i < 5; i++ {
		name := randomTopicName()
		partitions := int32(1 + rand.Intn(8))

		err := m.CreateTopic(name, CreateTopicOptions{
			Partitions:        partitions,
			ReplicationFactor: 3,
			Eternal:           false,
		})
		if err != nil {
			t.Fatalf(`CreateTopic(%s) failed: %s`, name, err)
		}

		ready, err := m.ContainsTopicAndAllPartitionsAreOnline(name, partitions)
		if err != nil || !ready {
			t.Fatalf(`topic %s not ready after create: ready=%v err=%v`, name, ready, err)
		}

		cfg, err := admin.GetTopicConfig(name)
		if err != nil {
			t.Fatalf(`GetTopicConfig(%s) failed: %s`, name, err)
		}
		if cfg[kafka.ConfigRetentionMs] == `` {
			t.Fatalf(`topic %s missing retention.ms`, name)
		}
	}
}

// P2: CreateTopic against a name that already exists does not fail; it
// converges the retention and returns success instead.
func TestCreateTopic_ExistingTopicConvergesRetentionInsteadOfFailing(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	if err := admin.CreateTopic(name, 1, 1, kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`}); err != nil {
		t.Fatalf(`seed create failed: %s`, err)
	}

	err := m.CreateTopic(name, CreateTopicOptions{
		Partitions:        1,
		ReplicationFactor: 1,
		RetentionMs:       999999,
	})
	if err != nil {
		t.Fatalf(`CreateTopic on existing topic should not fail, got: %s`, err)
	}

	cfg, _ := admin.GetTopicConfig(name)
	if cfg[kafka.ConfigRetentionMs] != `999999` {
		t.Fatalf(`expected retention to converge to 999999, got %s`, cfg[kafka.ConfigRetentionMs])
	}
}

func TestUpdateTopicRetention_IdempotentWhenUnchanged(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	_ = admin.CreateTopic(name, 1, 1, kafka.TopicConfig{kafka.ConfigRetentionMs: `5000`})

	changed, err := m.UpdateTopicRetention(name, 5000)
	if err != nil {
		t.Fatalf(`UpdateTopicRetention failed: %s`, err)
	}
	if changed {
		t.Fatalf(`expected no change when retention already matches`)
	}

	changed, err = m.UpdateTopicRetention(name, 6000)
	if err != nil {
		t.Fatalf(`UpdateTopicRetention failed: %s`, err)
	}
	if !changed {
		t.Fatalf(`expected a change when retention differs`)
	}
}

func TestUpdateTopicCompactionPolicy_SkipsRoundTripWhenUnchanged(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	_ = admin.CreateTopic(name, 1, 1, kafka.TopicConfig{
		kafka.ConfigCleanupPolicy: kafka.CleanupPolicyDelete,
	})

	if err := m.UpdateTopicCompactionPolicy(name, false, 0); err != nil {
		t.Fatalf(`UpdateTopicCompactionPolicy failed: %s`, err)
	}
	// a config write always merges into the cache, so an empty cache
	// means the unchanged call skipped the write.
	if _, ok := m.cache.Get(name); ok {
		t.Fatalf(`expected no config write when the policy is unchanged`)
	}

	if err := m.UpdateTopicCompactionPolicy(name, true, 12345); err != nil {
		t.Fatalf(`UpdateTopicCompactionPolicy failed: %s`, err)
	}

	cfg, _ := admin.GetTopicConfig(name)
	if cfg[kafka.ConfigCleanupPolicy] != kafka.CleanupPolicyCompact {
		t.Fatalf(`expected cleanup.policy=compact, got %s`, cfg[kafka.ConfigCleanupPolicy])
	}
	if cfg[kafka.ConfigMinCompactionLagMs] != `12345` {
		t.Fatalf(`expected min.compaction.lag.ms=12345, got %s`, cfg[kafka.ConfigMinCompactionLagMs])
	}
}

// S2: CreateTopic with Compaction and an explicit MinCompactionLagMs
// writes that exact value through, overriding the Manager's configured
// default.
func TestCreateTopic_CompactionUsesExplicitMinCompactionLagMsOverride(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)
	name := randomTopicName()

	err := m.CreateTopic(name, CreateTopicOptions{
		Partitions:         1,
		ReplicationFactor:  1,
		Compaction:         true,
		MinCompactionLagMs: 3600000,
	})
	if err != nil {
		t.Fatalf(`CreateTopic(%s) failed: %s`, name, err)
	}

	cfg, err := admin.GetTopicConfig(name)
	if err != nil {
		t.Fatalf(`GetTopicConfig(%s) failed: %s`, name, err)
	}
	if cfg[kafka.ConfigMinCompactionLagMs] != `3600000` {
		t.Fatalf(`expected min.compaction.lag.ms=3600000, got %s`, cfg[kafka.ConfigMinCompactionLagMs])
	}
}

// Leaving MinCompactionLagMs unset falls back to the Manager's
// configured Config.MinCompactionLagMs rather than a hardcoded constant.
func TestCreateTopic_CompactionFallsBackToConfiguredMinCompactionLagMs(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)
	m.cfg.MinCompactionLagMs = 42000
	name := randomTopicName()

	err := m.CreateTopic(name, CreateTopicOptions{
		Partitions:        1,
		ReplicationFactor: 1,
		Compaction:        true,
	})
	if err != nil {
		t.Fatalf(`CreateTopic(%s) failed: %s`, name, err)
	}

	cfg, err := admin.GetTopicConfig(name)
	if err != nil {
		t.Fatalf(`GetTopicConfig(%s) failed: %s`, name, err)
	}
	if cfg[kafka.ConfigMinCompactionLagMs] != `42000` {
		t.Fatalf(`expected min.compaction.lag.ms=42000, got %s`, cfg[kafka.ConfigMinCompactionLagMs])
	}
}

func TestEnsureTopicIsDeletedAndBlock_AlreadyGoneIsSuccess(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	if err := m.EnsureTopicIsDeletedAndBlock(`does-not-exist`); err != nil {
		t.Fatalf(`deleting a nonexistent topic should succeed, got: %s`, err)
	}
}

func TestEnsureTopicIsDeletedAndBlock_BusyWhenDeletionUnderway(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)
	m.cfg.ConcurrentTopicDeletionAllowed = false

	name := randomTopicName()
	_ = admin.CreateTopic(name, 1, 1, nil)
	admin.SetDeletionUnderway(true)

	err := m.EnsureTopicIsDeletedAndBlock(name)
	if _, ok := err.(*ErrDeletionBusy); !ok {
		t.Fatalf(`expected ErrDeletionBusy, got %v`, err)
	}
}

func TestEnsureTopicIsDeletedAndBlock_DeletesExistingTopic(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	_ = admin.CreateTopic(name, 1, 1, nil)

	if err := m.EnsureTopicIsDeletedAndBlock(name); err != nil {
		t.Fatalf(`delete failed: %s`, err)
	}

	exists, _ := admin.ContainsTopic(name)
	if exists {
		t.Fatalf(`topic %s should be gone after delete`, name)
	}
}

// P5: truncation check treats unknown retention as "not truncated" and
// a missing topic as truncated.
func TestIsTopicTruncated(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	gone := randomTopicName()
	truncated, err := m.IsTopicTruncated(gone, 1000)
	if err != nil || !truncated {
		t.Fatalf(`missing topic should be truncated, got truncated=%v err=%v`, truncated, err)
	}

	unknown := randomTopicName()
	_ = admin.CreateTopic(unknown, 1, 1, nil)
	truncated, err = m.IsTopicTruncated(unknown, 1000)
	if err != nil || truncated {
		t.Fatalf(`unknown retention should not be truncated, got truncated=%v err=%v`, truncated, err)
	}

	low := randomTopicName()
	_ = admin.CreateTopic(low, 1, 1, kafka.TopicConfig{kafka.ConfigRetentionMs: `500`})
	truncated, err = m.IsTopicTruncated(low, 1000)
	if err != nil || !truncated {
		t.Fatalf(`retention below threshold should be truncated, got truncated=%v err=%v`, truncated, err)
	}
}

func TestGetExpectedRetentionTimeInMs_FloorsAtDefault(t *testing.T) {
	m := newTestManager(t, mock.NewAdmin())

	got := m.GetExpectedRetentionTimeInMs(0, 0)
	if got != kafka.DefaultTopicRetention.Milliseconds() {
		t.Fatalf(`expected floor at default retention, got %d`, got)
	}

	rewind := 10 * 24 * time.Hour
	bootstrap := 2 * time.Hour
	got = m.GetExpectedRetentionTimeInMs(rewind, bootstrap)
	want := (rewind + bootstrap + kafka.BufferReplayMinimalSafetyMargin).Milliseconds()
	if got != want {
		t.Fatalf(`expected %d, got %d`, want, got)
	}
}

func TestGetCachedTopicConfig_CachesAfterFirstFetch(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	_ = admin.CreateTopic(name, 1, 1, kafka.TopicConfig{kafka.ConfigRetentionMs: `1000`})

	cfg, err := m.GetCachedTopicConfig(name)
	if err != nil {
		t.Fatalf(`GetCachedTopicConfig failed: %s`, err)
	}
	if cfg[kafka.ConfigRetentionMs] != `1000` {
		t.Fatalf(`unexpected config: %v`, cfg)
	}

	// Mutate the broker directly; the cached read should still see the
	// stale value until TTL elapses.
	_ = admin.SetTopicConfig(name, kafka.TopicConfig{kafka.ConfigRetentionMs: `9999`})

	cached, _ := m.GetCachedTopicConfig(name)
	if cached[kafka.ConfigRetentionMs] != `1000` {
		t.Fatalf(`expected cached stale value 1000, got %s`, cached[kafka.ConfigRetentionMs])
	}
}

func TestGetReplicationFactor(t *testing.T) {
	admin := mock.NewAdmin()
	m := newTestManager(t, admin)

	name := randomTopicName()
	_ = admin.CreateTopic(name, 3, 2, nil)

	rf, err := m.GetReplicationFactor(name)
	if err != nil {
		t.Fatalf(`GetReplicationFactor failed: %s`, err)
	}
	if rf != 2 {
		t.Fatalf(`expected replication factor 2, got %d`, rf)
	}
}
