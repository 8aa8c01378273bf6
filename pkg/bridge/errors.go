package bridge

import "errors"

var (
	// ErrNotConfigured means cloud sync is disabled or the peer URL is
	// missing.
	ErrNotConfigured = errors.New("cloud bridge not configured")

	// ErrUnauthenticated means the peer rejected our bearer token.
	ErrUnauthenticated = errors.New("peer rejected credentials")

	// ErrPeerUnreachable covers connection, TLS, and circuit-open failures.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrRemoteTask means the peer accepted the call but the task itself
	// failed.
	ErrRemoteTask = errors.New("remote task failed")
)
