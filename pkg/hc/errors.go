package hc

import "errors"

// Error taxonomy for the hosted-channels plugin. Failures this package
// raises itself wrap one of these sentinels so callers can branch with
// errors.Is instead of string matching; some errors from the database or
// node layer are passed through unwrapped.
var (
	ErrCodec     = errors.New("hc: codec error")
	ErrSignature = errors.New("hc: signature verification failed")
	ErrInvariant = errors.New("hc: state invariant violated")
	ErrProtocol  = errors.New("hc: protocol violation")
	ErrHtlc      = errors.New("hc: htlc failure")
	ErrChain     = errors.New("hc: chain access error")
	ErrDatabase  = errors.New("hc: database error")

	ErrNotActive       = errors.New("hc: channel is not active")
	ErrNotSuspended    = errors.New("hc: channel is not suspended")
	ErrStaleBlockDay    = errors.New("hc: blockday too stale")
	ErrCounterMismatch = errors.New("hc: update counter mismatch")
	ErrShrinkNotAllowed = errors.New("hc: resize must grow capacity")
)
