package offsets

import (
	"testing"

	"github.com/tryfix/log"

	"github.com/gmbyapa/topicmgr/kafka"
	"github.com/gmbyapa/topicmgr/kafka/adaptors/mock"
)

func TestFetcher_PartitionsForDelegatesToAdmin(t *testing.T) {
	admin := mock.NewAdmin()
	_ = admin.CreateTopic(`orders`, 2, 1, nil)

	f := &fetcher{admin: admin, logger: log.NewNoopLogger()}

	partitions, err := f.PartitionsFor(`orders`)
	if err != nil {
		t.Fatalf(`PartitionsFor failed: %s`, err)
	}
	if len(partitions) != 2 {
		t.Fatalf(`expected 2 partitions, got %d`, len(partitions))
	}
}

func TestFetcher_PartitionsForUnknownTopic(t *testing.T) {
	admin := mock.NewAdmin()
	f := &fetcher{admin: admin, logger: log.NewNoopLogger()}

	_, err := f.PartitionsFor(`missing`)
	if err != kafka.ErrTopicDoesNotExist {
		t.Fatalf(`expected ErrTopicDoesNotExist, got %v`, err)
	}
}
