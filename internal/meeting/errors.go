package meeting

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by leave/status for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// CapacityError reports that every context is at maximum occupancy and the
// context limit is reached. It is a rejection, not a transient error; the
// core never retries it.
type CapacityError struct {
	Occupied int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("pool capacity exhausted: %d/%d slots occupied", e.Occupied, e.Capacity)
}

// JoinError wraps any failure between slot acquisition and the Active state.
// By the time a caller sees it, the slot has been released and partial state
// torn down.
type JoinError struct {
	Reason string
	Err    error
}

func (e *JoinError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("join failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("join failed: %s", e.Reason)
}

func (e *JoinError) Unwrap() error { return e.Err }
