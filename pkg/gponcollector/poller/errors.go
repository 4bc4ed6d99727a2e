package poller

import "errors"

// Error taxonomy for the transport and session layers. All errors returned by
// this package wrap exactly one of these sentinels, so callers classify with
// errors.Is. A read timeout during command capture is deliberately not an
// error — it yields partial text and the sequence continues.
var (
	// ErrConnectTimeout: the TCP dial or SSH handshake did not complete
	// within the configured connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrAuthFailed: the device rejected the supplied credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTransport: handshake or algorithm-negotiation failure. The device
	// accepts only a legacy host-key/cipher set; a default-configured client
	// typically fails here.
	ErrTransport = errors.New("transport error")

	// ErrSession: I/O failure after a successful connect, mid-sequence. The
	// whole session is discarded; no partial command mapping is returned.
	ErrSession = errors.New("session error")
)

// ErrorKind maps a poll error to its taxonomy label for failure records and
// logs. An error that wraps none of the sentinels reports "unknown".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrSession):
		return "session"
	default:
		return "unknown"
	}
}
