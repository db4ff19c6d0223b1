package consumer

import "fmt"

// ErrUnsubscribedTopicPartition is a programmer error: the caller asked
// the raw consumer to reset the offset of a partition it never
// subscribed to.
type ErrUnsubscribedTopicPartition struct {
	Topic     string
	Partition int32
}

func (e *ErrUnsubscribedTopicPartition) Error() string {
	return fmt.Sprintf(`consumer: %s-%d is not subscribed`, e.Topic, e.Partition)
}
