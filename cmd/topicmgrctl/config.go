package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gmbyapa/topicmgr/topicmgr"
)

// loadConfig reads the process environment into a topicmgr.Config. The
// teacher has no remote config-loading dependency anywhere in the
// corpus, so this stays stdlib os.Getenv/strconv (see DESIGN.md).
func loadConfig() *topicmgr.Config {
	cfg := topicmgr.NewConfig()

	if v := os.Getenv(`TOPICMGR_BOOTSTRAP_SERVERS`); v != `` {
		cfg.BootstrapServers = strings.Split(v, `,`)
	}
	if v := os.Getenv(`TOPICMGR_ADMIN_IMPL`); v != `` {
		cfg.AdminImplName = v
	}
	if v := os.Getenv(`TOPICMGR_READ_ADMIN_IMPL`); v != `` {
		cfg.ReadAdminImplName = v
	}
	if v := envDuration(`TOPICMGR_OPERATION_TIMEOUT`); v > 0 {
		cfg.KafkaOperationTimeout = v
	}
	if v := envDuration(`TOPICMGR_FAST_OPERATION_TIMEOUT`); v > 0 {
		cfg.FastKafkaOperationTimeout = v
	}
	if v := envDuration(`TOPICMGR_DELETE_POLL_INTERVAL`); v > 0 {
		cfg.TopicDeletionStatusPollInterval = v
	}
	if v := envDuration(`TOPICMGR_CONFIG_CACHE_TTL`); v > 0 {
		cfg.ConfigCacheTTL = v
	}
	if v := os.Getenv(`TOPICMGR_CONCURRENT_DELETE_ALLOWED`); v != `` {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ConcurrentTopicDeletionAllowed = b
		}
	}

	return cfg
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == `` {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
