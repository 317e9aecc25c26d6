package domain

import "errors"

var (
	// ErrTransportInit means the chosen transport could not start: no radio,
	// no permission or no network reachability. Never fatal to the process.
	ErrTransportInit = errors.New("transport init failed")
	// ErrUnauthorized is returned by the relay session when a connection acts
	// on a room it has not joined.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoActiveLink means a direct-link send found neither the radio nor the
	// fallback channel open.
	ErrNoActiveLink = errors.New("no active link")
	// ErrMalformedFrame marks inbound data that could not be decoded. Such
	// frames are logged and dropped.
	ErrMalformedFrame = errors.New("malformed frame")

	ErrEmptyMessage       = errors.New("message text is empty")
	ErrInvalidRoomCode    = errors.New("invalid room code")
	ErrInvalidDisplayName = errors.New("invalid display name")
	ErrNotJoined          = errors.New("not joined to a room")
	ErrNotConnected       = errors.New("transport not connected")
	ErrRateLimited        = errors.New("rate limited")
)
