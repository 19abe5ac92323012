package status

import (
	"context"
	"time"

	"github.com/rcabanilla/labreserve/internal/cache"
	"github.com/rcabanilla/labreserve/internal/domain"
	"github.com/rcabanilla/labreserve/internal/repository"
)

// ProjectedOccupancy is what pollers see. Offline folds reachability into the
// occupancy axis; a held or busy PC that drops off the network still shows
// its booking state once it is back.
type ProjectedOccupancy string

const (
	StatusAvailable ProjectedOccupancy = "available"
	StatusInQueue   ProjectedOccupancy = "in_queue"
	StatusInUse     ProjectedOccupancy = "in_use"
	StatusOffline   ProjectedOccupancy = "offline"
)

// ResourceStatusView is the per-resource read model. RemainingSeconds is
// always computed against the clock at read time, never stored.
type ResourceStatusView struct {
	ResourceID       int64              `json:"resource_id"`
	Name             string             `json:"name"`
	Occupancy        ProjectedOccupancy `json:"occupancy"`
	RemainingSeconds *int64             `json:"remaining_seconds,omitempty"`
}

// BookingView lets a client with no local state reconcile to server truth.
type BookingView struct {
	HasBooking       bool       `json:"has_booking"`
	BookingID        int64      `json:"booking_id,omitempty"`
	State            string     `json:"state,omitempty"`
	Credential       string     `json:"credential,omitempty"`
	ApprovalDeadline *time.Time `json:"approval_deadline,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ResourceIDs      []int64    `json:"resource_ids,omitempty"`
}

type StatusUseCase interface {
	FleetStatus(ctx context.Context) ([]ResourceStatusView, error)
	ResourceStatus(ctx context.Context, resourceID int64) (*ResourceStatusView, error)
	MyBooking(ctx context.Context, requesterID int64) (*BookingView, error)
}

type FleetCache interface {
	GetFleetSnapshot(ctx context.Context) (*cache.FleetSnapshot, error)
	SetFleetSnapshot(ctx context.Context, snapshot *cache.FleetSnapshot) error
}

// StatusService is a pure read model over the ledger and the registry. It
// never mutates state; expiry and release belong to the worker sweeps, so
// polling at any cadence is safe.
type StatusService struct {
	resources repository.ResourceRepository
	bookings  repository.BookingRepository
	cache     FleetCache
	now       func() time.Time
}

type StatusServiceOption func(*StatusService)

func WithClock(now func() time.Time) StatusServiceOption {
	return func(s *StatusService) {
		s.now = now
	}
}

func NewStatusService(resources repository.ResourceRepository, bookings repository.BookingRepository, fleetCache FleetCache, opts ...StatusServiceOption) *StatusService {
	service := &StatusService{
		resources: resources,
		bookings:  bookings,
		cache:     fleetCache,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *StatusService) FleetStatus(ctx context.Context) ([]ResourceStatusView, error) {
	if s.cache != nil {
		if snapshot, err := s.cache.GetFleetSnapshot(ctx); err == nil && snapshot != nil {
			return s.render(snapshot), nil
		}
	}

	snapshot, err := s.takeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetFleetSnapshot(ctx, snapshot)
	}
	return s.render(snapshot), nil
}

func (s *StatusService) ResourceStatus(ctx context.Context, resourceID int64) (*ResourceStatusView, error) {
	views, err := s.FleetStatus(ctx)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if views[i].ResourceID == resourceID {
			return &views[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// MyBooking reads straight from the ledger, bypassing the fleet cache: a
// client reconstructing its view after a reload must see its own booking
// immediately.
func (s *StatusService) MyBooking(ctx context.Context, requesterID int64) (*BookingView, error) {
	booking, err := s.bookings.GetOpenByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return &BookingView{HasBooking: false}, nil
	}

	view := &BookingView{
		HasBooking:  true,
		BookingID:   booking.ID,
		State:       string(booking.State),
		Credential:  booking.Credential,
		ResourceIDs: booking.ResourceIDs,
	}
	switch booking.State {
	case domain.BookingStatePending:
		deadline := booking.ApprovalDeadline
		view.ApprovalDeadline = &deadline
	case domain.BookingStateActive:
		view.EndTime = booking.SessionEnd
	}
	return view, nil
}

// takeSnapshot reads ledger and registry at one instant and records raw
// facts only. Countdowns are derived later, per request.
func (s *StatusService) takeSnapshot(ctx context.Context) (*cache.FleetSnapshot, error) {
	resources, err := s.resources.List(ctx)
	if err != nil {
		return nil, err
	}
	open, err := s.bookings.OpenBookingsByResource(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &cache.FleetSnapshot{TakenAt: s.now(), Resources: make([]cache.ResourceSnapshot, 0, len(resources))}
	for _, res := range resources {
		rs := cache.ResourceSnapshot{
			ResourceID:   res.ID,
			Name:         res.Name,
			Occupancy:    string(res.Occupancy),
			Reachability: string(res.Reachability),
			Condition:    string(res.Condition),
		}
		if booking, ok := open[res.ID]; ok && booking.State == domain.BookingStateActive {
			rs.SessionEnd = booking.SessionEnd
		}
		snapshot.Resources = append(snapshot.Resources, rs)
	}
	return snapshot, nil
}

func (s *StatusService) render(snapshot *cache.FleetSnapshot) []ResourceStatusView {
	now := s.now()
	views := make([]ResourceStatusView, 0, len(snapshot.Resources))
	for _, rs := range snapshot.Resources {
		view := ResourceStatusView{
			ResourceID: rs.ResourceID,
			Name:       rs.Name,
			Occupancy:  projectOccupancy(rs),
		}
		if view.Occupancy == StatusInUse && rs.SessionEnd != nil {
			remaining := int64(rs.SessionEnd.Sub(now).Seconds())
			if remaining < 0 {
				remaining = 0
			}
			view.RemainingSeconds = &remaining
		}
		views = append(views, view)
	}
	return views
}

func projectOccupancy(rs cache.ResourceSnapshot) ProjectedOccupancy {
	if rs.Reachability == string(domain.ReachabilityUnreachable) || rs.Condition == string(domain.ConditionRepair) {
		if rs.Occupancy == string(domain.OccupancyAvailable) {
			return StatusOffline
		}
	}
	switch rs.Occupancy {
	case string(domain.OccupancyInQueue):
		return StatusInQueue
	case string(domain.OccupancyInUse):
		return StatusInUse
	default:
		return StatusAvailable
	}
}

var _ StatusUseCase = (*StatusService)(nil)
