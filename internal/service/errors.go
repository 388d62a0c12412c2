package service

import "errors"

var (
	// ErrUnauthorized is returned when someone other than the admin invokes an admin operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBlockedRejected is returned for messages from or to a blocked user.
	ErrBlockedRejected = errors.New("user is blocked")
	// ErrNoCorrelation is returned when an admin reply cannot be matched to a user.
	ErrNoCorrelation = errors.New("no correlation for reply")
	// ErrMalformedInput is returned for bad command syntax.
	ErrMalformedInput = errors.New("malformed input")
	// ErrDeliveryFailed is returned when the transport rejects a send.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrDeliveryTimeout is returned when a send does not complete in time.
	ErrDeliveryTimeout = errors.New("delivery timeout")
	// ErrNotFound is returned for unknown users.
	ErrNotFound = errors.New("not found")
)
