package domain

import "time"

type BookingState string

const (
	BookingStatePending   BookingState = "PENDING"
	BookingStateActive    BookingState = "ACTIVE"
	BookingStateCancelled BookingState = "CANCELLED"
	BookingStateCompleted BookingState = "COMPLETED"
)

// Terminal reports whether the state is final. Terminal bookings are kept
// for audit and never mutated again.
func (s BookingState) Terminal() bool {
	return s == BookingStateCancelled || s == BookingStateCompleted
}

// Open reports whether the booking still occupies its resources.
func (s BookingState) Open() bool {
	return s == BookingStatePending || s == BookingStateActive
}

type BookingRole string

const (
	RoleIndividual BookingRole = "INDIVIDUAL"
	RoleBlock      BookingRole = "BLOCK"
)

type Booking struct {
	ID          int64
	RequesterID int64
	Role        BookingRole
	// ResourceIDs holds exactly one id for individual bookings and the full
	// set for block bookings.
	ResourceIDs []int64
	Duration    time.Duration
	State       BookingState
	// Credential is the opaque proof-of-reservation token. It is presentable
	// only while the booking is open.
	Credential       string
	ApprovalDeadline time.Time
	// SessionEnd is set when the booking goes active and never cleared.
	SessionEnd *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ResourceID returns the single resource of an individual booking.
func (b *Booking) ResourceID() int64 {
	if len(b.ResourceIDs) == 0 {
		return 0
	}
	return b.ResourceIDs[0]
}

// RemainingSeconds is the countdown for an active session, clamped to zero.
// Always computed against the caller-supplied clock, never cached.
func (b *Booking) RemainingSeconds(now time.Time) int64 {
	if b.State != BookingStateActive || b.SessionEnd == nil {
		return 0
	}
	remaining := int64(b.SessionEnd.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
