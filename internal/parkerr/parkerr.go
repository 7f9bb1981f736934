// Package parkerr defines the error-kind taxonomy shared across park's
// components and the HTTP status each kind maps to at the proxy and
// control-API boundaries.
package parkerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the handling behavior it requires.
type Kind string

const (
	// BadConfig marks a configuration file or CLI argument that failed validation.
	BadConfig Kind = "bad_config"
	// ListenerFailed marks a failure to bind or accept on the configured address.
	ListenerFailed Kind = "listener_failed"
	// TlsHandshakeFailed marks a failed TLS handshake on an accepted connection.
	TlsHandshakeFailed Kind = "tls_handshake_failed"
	// DownstreamIo marks an I/O failure talking to the downstream client.
	DownstreamIo Kind = "downstream_io"
	// UpstreamConnectFailed marks a failure to establish the upstream connection.
	UpstreamConnectFailed Kind = "upstream_connect_failed"
	// UpstreamIo marks an I/O failure talking to the upstream origin.
	UpstreamIo Kind = "upstream_io"
	// UpstreamTimeout marks an upstream round-trip that exceeded server_timeout.
	UpstreamTimeout Kind = "upstream_timeout"
	// MalformedCapture marks a HAR document that failed to decode.
	MalformedCapture Kind = "malformed_capture"
	// StoreUnavailable marks a capture store that could not be reached.
	StoreUnavailable Kind = "store_unavailable"
	// StoreFull marks a capture store compaction or append rejected for space.
	StoreFull Kind = "store_full"
	// Internal marks an assertion-class failure with no specific kind.
	Internal Kind = "internal"
)

// Error is a kind-tagged error. Components construct one via New/Wrap so
// call sites can map it to a status code or a process-exit decision
// without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kind-tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a kind-tagged error around an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the response status the proxy or control API
// sends, per the propagation table in the error handling design. Kinds
// that never reach an HTTP boundary (BadConfig, ListenerFailed,
// TlsHandshakeFailed, StoreUnavailable, StoreFull) return 0.
func HTTPStatus(k Kind) int {
	switch k {
	case UpstreamTimeout:
		return 504
	case DownstreamIo, UpstreamIo, UpstreamConnectFailed:
		return 502
	case MalformedCapture:
		return 400
	case Internal:
		return 500
	default:
		return 0
	}
}
