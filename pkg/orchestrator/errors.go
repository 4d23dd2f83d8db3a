package orchestrator

import "errors"

var (
	// ErrSubAgentNotFound is returned for operations on an unknown sub-agent id.
	ErrSubAgentNotFound = errors.New("sub-agent not found")

	// ErrRunFailureLatched is returned when a new sibling is spawned after a
	// sub-agent closed with final_status failed.
	ErrRunFailureLatched = errors.New("run failure latched; no new sub-agents may start")

	// ErrToolDenied marks a tool invocation outside the contract allowlist.
	// It is a contract violation: the sub-agent fails immediately, no retry.
	ErrToolDenied = errors.New("tool not in contract allowlist")

	// ErrApprovalNotFound is returned when resolving an unknown approval id.
	ErrApprovalNotFound = errors.New("approval not found")
)

// permanentError marks an executor failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the attempt loop fails the sub-agent without
// consuming the retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrToolDenied)
}
