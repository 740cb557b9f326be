// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidEvent  = errors.New("invalid event")

	// ErrMalformedIdentifier marks a token whose structure cannot be decoded.
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrUnsupportedKind marks a well-formed token of a kind we do not resolve.
	ErrUnsupportedKind = errors.New("unsupported identifier kind")
	// ErrUpstreamUnavailable is returned when no upstream source answered.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
