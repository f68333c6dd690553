package relay

import "errors"

var (
	// ErrSentinel is returned by a Source when the local party typed the exit
	// token. Sessions treat it as an intentional, error-free close.
	ErrSentinel = errors.New("exit requested")

	// ErrIdleTimeout ends a session that received nothing for the configured
	// idle timeout.
	ErrIdleTimeout = errors.New("session idle timeout")

	// ErrLifetimeExceeded ends a session that outlived the configured
	// maximum lifetime.
	ErrLifetimeExceeded = errors.New("session lifetime exceeded")

	// ErrSessionAborted ends a session stopped by Abort before it drained.
	ErrSessionAborted = errors.New("session aborted")

	// ErrSessionStarted is returned when Run is called twice on a session.
	ErrSessionStarted = errors.New("session already started")

	// ErrManagerClosed is returned for connections handed to a manager after
	// Shutdown.
	ErrManagerClosed = errors.New("session manager closed")
)
