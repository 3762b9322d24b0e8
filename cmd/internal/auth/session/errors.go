package session

import "errors"

var (
	// ErrInvalidSession is the single caller-facing refresh failure.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrSessionNotFound is returned by stores when no live row matches a digest.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnavailable is returned by the null store for writes.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
