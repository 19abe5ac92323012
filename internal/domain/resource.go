package domain

import "time"

type Condition string

const (
	ConditionActive Condition = "ACTIVE"
	ConditionRepair Condition = "REPAIR"
)

type Reachability string

const (
	ReachabilityReachable   Reachability = "REACHABLE"
	ReachabilityUnreachable Reachability = "UNREACHABLE"
	ReachabilityUnknown     Reachability = "UNKNOWN"
)

type Occupancy string

const (
	OccupancyAvailable Occupancy = "AVAILABLE"
	OccupancyInQueue   Occupancy = "IN_QUEUE"
	OccupancyInUse     Occupancy = "IN_USE"
)

// Resource is a bookable lab PC. Occupancy mirrors the state of its open
// booking and only changes together with it.
type Resource struct {
	ID           int64
	Name         string
	Addr         string
	Reachability Reachability
	Condition    Condition
	Occupancy    Occupancy
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Bookable reports whether the resource can accept a new hold.
func (r Resource) Bookable() bool {
	return r.Condition == ConditionActive &&
		r.Reachability != ReachabilityUnreachable &&
		r.Occupancy == OccupancyAvailable
}
