package domain

import "errors"

// Sentinel errors for the ingestion and session control surface.
// Callers classify failures with errors.Is.
var (
	// ErrInvalidIdentifier marks a chat or message id that is not a
	// well-formed string identifier, including the stringified-object
	// artifact ("[object Object]") some upstream stacks produce.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrSessionStart wraps provider failures during session startup.
	// The caller may retry via Restart; the manager does not auto-retry.
	ErrSessionStart = errors.New("session start failed")

	// ErrUnsupportedAuthMethod is terminal: the provider deployment does
	// not offer phone pairing. Never retried.
	ErrUnsupportedAuthMethod = errors.New("phone pairing not supported by provider")

	// ErrUnknownSession marks operations against a session id that was
	// never started.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidTransition marks a control operation that is not legal
	// from the session's current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
)
