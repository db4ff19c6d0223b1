package async

import (
	"errors"
	"testing"
	"time"

	"github.com/tryfix/log"
)

// A member returning nil (e.g. an interrupt-wait fn on ctrl-c) must still
// close Stopping() for the rest of the group - not just a non-nil error.
func TestRunGroup_MemberReturningNilStillClosesStopping(t *testing.T) {
	group := NewRunGroup(log.NewNoopLogger())

	stoppedSeen := make(chan struct{})
	group.Add(func(opts *Opts) error {
		opts.Ready()
		return nil
	})
	group.Add(func(opts *Opts) error {
		opts.Ready()
		select {
		case <-opts.Stopping():
			close(stoppedSeen)
		case <-time.After(time.Second):
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- group.Run() }()

	select {
	case <-stoppedSeen:
	case <-time.After(time.Second):
		t.Fatalf(`expected Stopping() to close once a sibling member returned`)
	}

	if err := <-done; err != nil {
		t.Fatalf(`expected Run to return nil, got: %s`, err)
	}
}

func TestRunGroup_MemberErrorPropagatesAndStopsSiblings(t *testing.T) {
	group := NewRunGroup(log.NewNoopLogger())
	boom := errors.New(`boom`)

	group.Add(func(opts *Opts) error {
		opts.Ready()
		return boom
	})
	group.Add(func(opts *Opts) error {
		opts.Ready()
		<-opts.Stopping()
		return nil
	})

	err := group.Run()
	if !errors.Is(err, boom) {
		t.Fatalf(`expected %v, got %v`, boom, err)
	}
}
