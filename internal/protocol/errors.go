package protocol

import "errors"

// Protocol violations are fatal for the mini-protocol that raised them.
// Channel errors propagate unchanged from the plexer underneath.
var (
	ErrAgencyIsOurs     = errors.New("agency is ours, receiving is not allowed")
	ErrAgencyIsTheirs   = errors.New("agency is theirs, sending is not allowed")
	ErrInvalidOutbound  = errors.New("message is not valid outbound in the current state")
	ErrInvalidInbound   = errors.New("message is not valid inbound in the current state")
	ErrMalformedMessage = errors.New("malformed mini-protocol message")
)
