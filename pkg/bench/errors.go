package bench

import (
	"fmt"

	"github.com/testground/feedbench/pkg/feed"
)

// ConfigurationError reports a benchmark configuration that cannot be run.
// It is always returned before any network activity.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failed network call against an endpoint.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %q failed: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SyncTimeoutError reports that an upload never converged on the network
// within the polling budget.
type SyncTimeoutError struct {
	URL    string
	Handle feed.Handle
	Trials int
}

func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("data syncing timeout: tag %d on %q made no progress in %d trials", e.Handle, e.URL, e.Trials)
}

// VerificationError reports a downloaded update that differs from the one
// published.
type VerificationError struct {
	URL               string
	ExpectedIndex     string
	ActualIndex       string
	ExpectedReference string
	ActualReference   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("downloaded feed payload or index has not the expected result at node %q."+
		"\n\tindex| expected: %q got: %q"+
		"\n\treference| expected: %q got: %q",
		e.URL, e.ExpectedIndex, e.ActualIndex, e.ExpectedReference, e.ActualReference)
}
