package topicmgr

import (
	"strconv"
	"time"

	"github.com/gmbyapa/topicmgr/kafka"
)

// CreateTopicOptions carries the inputs to Manager.CreateTopic, mirroring
// TopicManager.java's createTopic overload that takes an eternal flag,
// an explicit retention, a compaction flag, an optional min-ISR, and a
// fast-timeout switch.
type CreateTopicOptions struct {
	Partitions        int32
	ReplicationFactor int16

	Eternal     bool
	RetentionMs int64 // used only when Eternal is false and non-zero
	Compaction  bool
	// MinCompactionLagMs overrides the Manager's configured
	// Config.MinCompactionLagMs for this one create call, mirroring
	// TopicManager.java's createTopic overload that takes an explicit
	// minCompactionLagMs. 0 means "use the Manager's configured default".
	MinCompactionLagMs int64
	MinInSyncReplicas  int // 0 means "unset"

	UseFastTimeout bool
}

// buildCreateProperties takes defaultMinCompactionLagMs — the Manager's
// Config.MinCompactionLagMs — so a compacted topic always gets a real
// min.compaction.lag.ms even when the caller leaves opts.MinCompactionLagMs
// unset (0).
func buildCreateProperties(opts CreateTopicOptions, defaultMinCompactionLagMs int64) (kafka.TopicConfig, int64) {
	retentionMs := kafka.DefaultTopicRetention.Milliseconds()
	if opts.Eternal {
		retentionMs = kafka.EternalRetentionMs
	} else if opts.RetentionMs > 0 {
		retentionMs = opts.RetentionMs
	}

	props := kafka.TopicConfig{
		kafka.ConfigRetentionMs:         strconv.FormatInt(retentionMs, 10),
		kafka.ConfigMessageTimestampTyp: kafka.MessageTimestampTypeLogAppendTime,
	}

	if opts.Compaction {
		minLagMs := opts.MinCompactionLagMs
		if minLagMs <= 0 {
			minLagMs = defaultMinCompactionLagMs
		}
		props[kafka.ConfigCleanupPolicy] = kafka.CleanupPolicyCompact
		props[kafka.ConfigMinCompactionLagMs] = strconv.FormatInt(minLagMs, 10)
	} else {
		props[kafka.ConfigCleanupPolicy] = kafka.CleanupPolicyDelete
	}

	if opts.MinInSyncReplicas > 0 {
		props[kafka.ConfigMinInSyncReplicas] = strconv.Itoa(opts.MinInSyncReplicas)
	}

	return props, retentionMs
}

// desiredCompactionConfig computes the cleanup.policy/min.compaction.lag.ms
// pair a compaction-policy update should converge on.
func desiredCompactionConfig(compaction bool, minCompactionLagMs int64) (cleanupPolicy string, minLagMs int64) {
	if compaction {
		return kafka.CleanupPolicyCompact, minCompactionLagMs
	}
	return kafka.CleanupPolicyDelete, 0
}

// currentCompactionConfig reads the same pair out of a fetched
// kafka.TopicConfig, treating a missing cleanup.policy as "delete" and a
// missing min.compaction.lag.ms as 0, per spec.
func currentCompactionConfig(cfg kafka.TopicConfig) (cleanupPolicy string, minLagMs int64) {
	cleanupPolicy = cfg[kafka.ConfigCleanupPolicy]
	if cleanupPolicy == `` {
		cleanupPolicy = kafka.CleanupPolicyDelete
	}

	if v, ok := cfg[kafka.ConfigMinCompactionLagMs]; ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			minLagMs = parsed
		}
	}

	return cleanupPolicy, minLagMs
}

// getExpectedRetentionTimeInMs is a pure function: the derived retention
// for a hybrid store given a rewind window and a bootstrap-to-online
// budget, floored at the default topic retention.
func getExpectedRetentionTimeInMs(rewind time.Duration, bootstrapToOnline time.Duration) int64 {
	derived := rewind + bootstrapToOnline + kafka.BufferReplayMinimalSafetyMargin
	if derived < kafka.DefaultTopicRetention {
		return kafka.DefaultTopicRetention.Milliseconds()
	}
	return derived.Milliseconds()
}
