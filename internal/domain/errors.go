package domain

import "errors"

// Expected, recoverable outcomes. Callers dispatch on these with errors.Is;
// anything else is an infrastructure failure and means the operation was not
// applied.
var (
	ErrResourceUnavailable       = errors.New("resource is unavailable")
	ErrRequesterHasActiveBooking = errors.New("requester already has an open booking")
	ErrInsufficientResources     = errors.New("not enough free resources for the block")
	ErrStaleDecision             = errors.New("booking already resolved or past its approval deadline")
	ErrNotFound                  = errors.New("not found")
	ErrForbidden                 = errors.New("actor is not allowed to perform this action")
	ErrInvalidDuration           = errors.New("requested duration is out of bounds")
	ErrRequesterSuspended        = errors.New("requester is suspended")
)
