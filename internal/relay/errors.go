package relay

import "errors"

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionExists is returned when a peer is registered under an id that
	// is already held by another open peer.
	ErrSessionExists = errors.New("session already registered")
	ErrSessionClosed = errors.New("session closed")
)
