package sync

import (
	"errors"
	"fmt"
)

// SyncError wraps a failed mirror operation. Retryable failures resolve
// themselves on the next view-triggered import; terminal ones need a state
// change (e.g. a member gaining an external identity) first. Either way the
// caller logs once and keeps going; mirror failures never block local
// persistence or realtime broadcast.
type SyncError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *SyncError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("mirror %s: %s failure: %v", e.Op, kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable mirror failure. A plain
// error (no SyncError in the chain) counts as retryable.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return true
}

func retryable(op string, err error) *SyncError {
	return &SyncError{Op: op, Retryable: true, Err: err}
}

func terminal(op string, err error) *SyncError {
	return &SyncError{Op: op, Retryable: false, Err: err}
}
