package kafka

import (
	"errors"
	"fmt"
)

// Error taxonomy for the broker-facing layer. Callers classify with
// errors.Is/errors.As; adaptors are responsible for translating the
// underlying client library's errors into these sentinels at the
// boundary so the rest of the core never imports a specific client.
var (
	// ErrTopicDoesNotExist is raised when a config/metadata read targets
	// an absent topic. The broker's UnknownTopicOrPartition is translated
	// to this at the admin layer.
	ErrTopicDoesNotExist = errors.New(`kafka: topic does not exist`)

	// ErrTopicExists is raised when a create races with another creator.
	ErrTopicExists = errors.New(`kafka: topic already exists`)

	// ErrDeletionUnderway is raised by the topic manager when a delete is
	// requested while one is already in progress and concurrent deletion
	// is disabled.
	ErrDeletionUnderway = errors.New(`kafka: topic deletion already in progress`)
)

// TransientError wraps a broker fault classified as retriable (an
// unsettled replication factor, or an admin-call timeout). IsTransient
// unwraps with errors.As, and the retry helpers use it to decide whether
// to retry.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf(`kafka: transient broker fault: %s`, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

func NewTransientError(cause error) error {
	return &TransientError{Cause: cause}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
