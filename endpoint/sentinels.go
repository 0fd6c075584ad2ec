package endpoint

import "errors"

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("endpoint: connection closed")
	// ErrUnreachable is returned when the peer cannot be reached after the
	// bounded dial retries.
	ErrUnreachable = errors.New("endpoint: server unreachable, is your listener running?")
	// ErrInvalidRole is returned for a role other than listener or initiator.
	ErrInvalidRole = errors.New("endpoint: invalid role")
)
