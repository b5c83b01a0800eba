package fota

import "github.com/go-errors/errors"

var (
	// ErrUnknownRequest is returned for authorization requests of a kind the
	// controller does not know. No reply is issued for those.
	ErrUnknownRequest = errors.New("unknown authorization request")

	// ErrPreconditionTimeout is returned when the sensors could not be stopped
	// or the network could not be torn down before replying.
	ErrPreconditionTimeout = errors.New("update precondition did not converge")

	// ErrDuplicateReply is returned when a reply was already issued on a token.
	ErrDuplicateReply = errors.New("reply already issued for token")

	// ErrMissingReply is returned when a known request finished without a reply.
	ErrMissingReply = errors.New("no reply issued for token")

	// ErrInvalidTransition is returned when a request does not fit the current state.
	ErrInvalidTransition = errors.New("invalid update state transition")
)
