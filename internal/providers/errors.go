package providers

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError is returned when a caller names a provider id that is not
// registered for the capability. This is a caller/config error and is never
// retried.
type NotFoundError struct {
	Capability Capability
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("providers: %s provider %q is not registered", e.Capability, e.ID)
}

// NoAvailableError reports a capability-wide outage: every eligible provider
// (including mock, if registered) is circuit-open, unavailable, or excluded.
type NoAvailableError struct {
	Capability Capability
}

func (e *NoAvailableError) Error() string {
	return fmt.Sprintf("providers: no available %s provider", e.Capability)
}

// CallError is a vendor-reported failure: the call completed but the vendor
// signaled an error (HTTP error status or a vendor error envelope).
type CallError struct {
	Provider string
	Status   int // vendor HTTP status, 0 when not applicable
	Message  string
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// HTTPStatus implements StatusCoder.
func (e *CallError) HTTPStatus() int { return e.Status }

// TimeoutError reports that the deadline elapsed before the vendor responded.
// For circuit breaker purposes it is recorded identically to CallError but it
// is reported distinctly to callers for diagnostics.
type TimeoutError struct {
	Provider string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: timed out after %s", e.Provider, e.Elapsed)
}

// StatusCoder is implemented by errors that carry a vendor HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether an error should trigger failover to the next
// candidate provider.
//
//   - vendor 5xx → retryable (infrastructure failure)
//   - timeouts   → retryable (a different vendor may respond in time)
//   - vendor 4xx → not retryable (bad request or auth — will not change)
//   - unknown    → retryable (conservative default)
func Retryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) && ce.Status >= 400 && ce.Status < 500 {
		return false
	}
	return true
}
