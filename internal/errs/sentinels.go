// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across cache/remote/session layers.
var (
	// ErrNotConfigured indicates the session has no API credential set.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidEndpoint indicates the base URL could not be parsed or resolved.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrNoResponseBody indicates the remote returned an empty body where one was expected.
	ErrNoResponseBody = errors.New("no response body")

	// ErrUnparsableResponse indicates the remote body could not be decoded.
	ErrUnparsableResponse = errors.New("unparsable response")

	// ErrRemoteRejected indicates the remote rejected the request; wrap with the server message.
	ErrRemoteRejected = errors.New("remote rejected")
)
