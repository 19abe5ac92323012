package domain

import "time"

type ViolationLevel string

const (
	ViolationMinor    ViolationLevel = "MINOR"
	ViolationModerate ViolationLevel = "MODERATE"
	ViolationMajor    ViolationLevel = "MAJOR"
)

// Violation records a rule breach by a requester. Moderate violations suspend
// the requester until SuspensionEnd; major ones suspend indefinitely until an
// operator resolves them. Minor violations never suspend.
type Violation struct {
	ID            int64
	RequesterID   int64
	ResourceID    int64
	Level         ViolationLevel
	Reason        string
	Suspended     bool
	SuspensionEnd *time.Time
	Resolved      bool
	CreatedAt     time.Time
}

// BlocksBooking reports whether the violation forbids new acquisitions at now.
func (v Violation) BlocksBooking(now time.Time) bool {
	if v.Resolved || !v.Suspended {
		return false
	}
	switch v.Level {
	case ViolationMajor:
		return true
	case ViolationModerate:
		return v.SuspensionEnd == nil || now.Before(*v.SuspensionEnd)
	default:
		return false
	}
}
