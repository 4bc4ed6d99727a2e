package models

import "time"

// PollFailure is the record emitted when a device poll fails.  It is routed
// to a separate output stream by the file transport, which recognises these
// records by the presence of the "poll_error" JSON key.
type PollFailure struct {
	// Timestamp is when the failure was observed.
	Timestamp time.Time `json:"timestamp"`

	// Hostname identifies the device whose poll failed.
	Hostname string `json:"hostname"`

	// PollError is the flattened error chain from the failed poll.
	PollError string `json:"poll_error"`

	// ErrorKind is the failure classification: "connect_timeout",
	// "auth_failed", "transport", "session" or "unknown".
	ErrorKind string `json:"error_kind"`

	// CollectorID identifies the collector instance that observed the
	// failure.
	CollectorID string `json:"collector_id,omitempty"`
}
