package calltrace

import "errors"

var (
	// ErrAlreadySubscribed is returned when a source already delivers to another sink.
	ErrAlreadySubscribed = errors.New("source already has a subscriber")
	// ErrNotSubscribed is returned when a source has no sink to deliver to.
	ErrNotSubscribed = errors.New("source has no subscriber")
)

// Source delivers notifications for the current thread of execution.
//
// Subscribe and Unsubscribe are idempotent: subscribing the same sink twice is
// a no-op and unsubscribing an idle source does nothing. Timestamps of
// delivered notifications come from Now and never decrease.
type Source interface {
	Subscribe(sink Sink) error
	Unsubscribe() error
	Now() int64
}
