package qstore

import "fmt"

// ErrQueueNotFound is returned when an operation names a queue that is not
// registered in the store.
type ErrQueueNotFound struct {
	Queue string
}

func (e *ErrQueueNotFound) Error() string {
	return fmt.Sprintf("no such queue: '%s'", e.Queue)
}

type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}

// ErrDataCorruption is returned when stored bytes do not decode to what the
// key layout promises.
type ErrDataCorruption struct {
	Key    string
	Reason string
}

func (e *ErrDataCorruption) Error() string {
	return fmt.Sprintf("data corruption at key '%s': %s", e.Key, e.Reason)
}
