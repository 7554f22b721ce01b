package statemachine

import "fmt"

// ProtocolError covers an invalid signature, bad preimage, unexpected
// method for the current state, or a malformed message. Per §7 it is
// non-recoverable for the session and triggers backout.
type ProtocolError struct {
	State  State
	Method Method
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at state %v on method %v: %s", e.State, e.Method, e.Reason)
}

// TimeoutError is raised when a per-state deadline expires before the
// next tick arrives.
type TimeoutError struct {
	State    State
	Deadline Deadline
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deadline expired in state %v", e.State)
}
