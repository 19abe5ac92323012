package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/rcabanilla/labreserve/internal/cache"
	"github.com/rcabanilla/labreserve/internal/domain"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

func (m *MockBookingRepository) CreateBlockPending(ctx context.Context, booking *domain.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) GetOpenByRequester(ctx context.Context, requesterID int64) (*domain.Booking, error) {
	args := m.Called(ctx, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Approve(ctx context.Context, id int64, sessionEnd time.Time) (*domain.Booking, error) {
	args := m.Called(ctx, id, sessionEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Terminate(ctx context.Context, id int64, from, to domain.BookingState) (*domain.Booking, error) {
	args := m.Called(ctx, id, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) ExtendSession(ctx context.Context, id int64, newEnd time.Time) (*domain.Booking, error) {
	args := m.Called(ctx, id, newEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, deadline)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) CompleteActiveBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, deadline)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) OpenBookingsByResource(ctx context.Context) (map[int64]domain.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[int64]domain.Booking), args.Error(1)
}

type MockResourceRepository struct {
	mock.Mock
}

func (m *MockResourceRepository) List(ctx context.Context) ([]domain.Resource, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Resource), args.Error(1)
}

func (m *MockResourceRepository) GetByID(ctx context.Context, id int64) (*domain.Resource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Resource), args.Error(1)
}

func (m *MockResourceRepository) ListBookableIDs(ctx context.Context, limit int) ([]int64, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockResourceRepository) UpdateReachability(ctx context.Context, id int64, reachability domain.Reachability) error {
	return m.Called(ctx, id, reachability).Error(0)
}

type MockFleetCache struct {
	mock.Mock
}

func (m *MockFleetCache) GetFleetSnapshot(ctx context.Context) (*cache.FleetSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cache.FleetSnapshot), args.Error(1)
}

func (m *MockFleetCache) SetFleetSnapshot(ctx context.Context, snapshot *cache.FleetSnapshot) error {
	return m.Called(ctx, snapshot).Error(0)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStatusService_FleetStatus_CacheMiss(t *testing.T) {
	resources := &MockResourceRepository{}
	bookings := &MockBookingRepository{}
	fleetCache := &MockFleetCache{}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := NewStatusService(resources, bookings, fleetCache, WithClock(fixedClock(now)))

	sessionEnd := now.Add(90 * time.Second)
	ctx := context.Background()
	fleetCache.On("GetFleetSnapshot", ctx).Return(nil, nil).Once()
	resources.On("List", ctx).Return([]domain.Resource{
		{ID: 1, Name: "lab-01", Occupancy: domain.OccupancyAvailable, Reachability: domain.ReachabilityReachable, Condition: domain.ConditionActive},
		{ID: 2, Name: "lab-02", Occupancy: domain.OccupancyInUse, Reachability: domain.ReachabilityReachable, Condition: domain.ConditionActive},
		{ID: 3, Name: "lab-03", Occupancy: domain.OccupancyInQueue, Reachability: domain.ReachabilityReachable, Condition: domain.ConditionActive},
	}, nil).Once()
	bookings.On("OpenBookingsByResource", ctx).Return(map[int64]domain.Booking{
		2: {ID: 11, State: domain.BookingStateActive, SessionEnd: &sessionEnd},
		3: {ID: 12, State: domain.BookingStatePending},
	}, nil).Once()
	fleetCache.On("SetFleetSnapshot", ctx, mock.AnythingOfType("*cache.FleetSnapshot")).Return(nil).Once()

	views, err := service.FleetStatus(ctx)

	assert.NoError(t, err)
	assert.Len(t, views, 3)

	assert.Equal(t, StatusAvailable, views[0].Occupancy)
	assert.Nil(t, views[0].RemainingSeconds)

	assert.Equal(t, StatusInUse, views[1].Occupancy)
	if assert.NotNil(t, views[1].RemainingSeconds) {
		assert.Equal(t, int64(90), *views[1].RemainingSeconds)
	}

	// Pending holds show as queued but never expose a countdown.
	assert.Equal(t, StatusInQueue, views[2].Occupancy)
	assert.Nil(t, views[2].RemainingSeconds)

	fleetCache.AssertExpectations(t)
	resources.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestStatusService_FleetStatus_CacheHitSkipsStore(t *testing.T) {
	resources := &MockResourceRepository{}
	bookings := &MockBookingRepository{}
	fleetCache := &MockFleetCache{}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := NewStatusService(resources, bookings, fleetCache, WithClock(fixedClock(now)))

	sessionEnd := now.Add(45 * time.Second)
	snapshot := &cache.FleetSnapshot{
		TakenAt: now.Add(-5 * time.Second),
		Resources: []cache.ResourceSnapshot{
			{ResourceID: 2, Name: "lab-02", Occupancy: "IN_USE", Reachability: "REACHABLE", Condition: "ACTIVE", SessionEnd: &sessionEnd},
		},
	}

	ctx := context.Background()
	fleetCache.On("GetFleetSnapshot", ctx).Return(snapshot, nil).Once()

	views, err := service.FleetStatus(ctx)

	assert.NoError(t, err)
	assert.Len(t, views, 1)
	if assert.NotNil(t, views[0].RemainingSeconds) {
		// Countdown is against the request clock, not the snapshot clock.
		assert.Equal(t, int64(45), *views[0].RemainingSeconds)
	}
	resources.AssertNotCalled(t, "List", mock.Anything)
	bookings.AssertNotCalled(t, "OpenBookingsByResource", mock.Anything)
}

func TestStatusService_FleetStatus_OverdueSessionClampsToZero(t *testing.T) {
	fleetCache := &MockFleetCache{}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := NewStatusService(&MockResourceRepository{}, &MockBookingRepository{}, fleetCache, WithClock(fixedClock(now)))

	past := now.Add(-2 * time.Minute)
	snapshot := &cache.FleetSnapshot{
		TakenAt: past,
		Resources: []cache.ResourceSnapshot{
			{ResourceID: 2, Name: "lab-02", Occupancy: "IN_USE", Reachability: "REACHABLE", Condition: "ACTIVE", SessionEnd: &past},
		},
	}

	ctx := context.Background()
	fleetCache.On("GetFleetSnapshot", ctx).Return(snapshot, nil).Once()

	views, err := service.FleetStatus(ctx)

	assert.NoError(t, err)
	// Overdue but not yet swept: still in use, counter pinned at zero.
	assert.Equal(t, StatusInUse, views[0].Occupancy)
	if assert.NotNil(t, views[0].RemainingSeconds) {
		assert.Equal(t, int64(0), *views[0].RemainingSeconds)
	}
}

func TestStatusService_FleetStatus_OfflineProjection(t *testing.T) {
	fleetCache := &MockFleetCache{}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := NewStatusService(&MockResourceRepository{}, &MockBookingRepository{}, fleetCache, WithClock(fixedClock(now)))

	snapshot := &cache.FleetSnapshot{
		TakenAt: now,
		Resources: []cache.ResourceSnapshot{
			{ResourceID: 1, Occupancy: "AVAILABLE", Reachability: "UNREACHABLE", Condition: "ACTIVE"},
			{ResourceID: 2, Occupancy: "AVAILABLE", Reachability: "REACHABLE", Condition: "REPAIR"},
			{ResourceID: 3, Occupancy: "IN_USE", Reachability: "UNREACHABLE", Condition: "ACTIVE"},
		},
	}

	ctx := context.Background()
	fleetCache.On("GetFleetSnapshot", ctx).Return(snapshot, nil).Once()

	views, err := service.FleetStatus(ctx)

	assert.NoError(t, err)
	assert.Equal(t, StatusOffline, views[0].Occupancy)
	assert.Equal(t, StatusOffline, views[1].Occupancy)
	// A booked PC that drops off the network keeps its booking state.
	assert.Equal(t, StatusInUse, views[2].Occupancy)
}

func TestStatusService_ResourceStatus_NotFound(t *testing.T) {
	fleetCache := &MockFleetCache{}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	service := NewStatusService(&MockResourceRepository{}, &MockBookingRepository{}, fleetCache, WithClock(fixedClock(now)))

	snapshot := &cache.FleetSnapshot{
		TakenAt: now,
		Resources: []cache.ResourceSnapshot{
			{ResourceID: 1, Occupancy: "AVAILABLE", Reachability: "REACHABLE", Condition: "ACTIVE"},
		},
	}

	ctx := context.Background()
	fleetCache.On("GetFleetSnapshot", ctx).Return(snapshot, nil).Twice()

	view, err := service.ResourceStatus(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), view.ResourceID)

	_, err = service.ResourceStatus(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusService_MyBooking(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(10 * time.Minute)
	sessionEnd := now.Add(30 * time.Minute)

	testCases := []struct {
		name    string
		booking *domain.Booking
		check   func(t *testing.T, view *BookingView)
	}{
		{
			name:    "no open booking",
			booking: nil,
			check: func(t *testing.T, view *BookingView) {
				assert.False(t, view.HasBooking)
				assert.Empty(t, view.Credential)
			},
		},
		{
			name: "pending exposes approval deadline",
			booking: &domain.Booking{
				ID:               11,
				RequesterID:      7,
				State:            domain.BookingStatePending,
				Credential:       "abc-123",
				ResourceIDs:      []int64{3},
				ApprovalDeadline: deadline,
			},
			check: func(t *testing.T, view *BookingView) {
				assert.True(t, view.HasBooking)
				assert.Equal(t, "PENDING", view.State)
				assert.Equal(t, "abc-123", view.Credential)
				if assert.NotNil(t, view.ApprovalDeadline) {
					assert.Equal(t, deadline, *view.ApprovalDeadline)
				}
				assert.Nil(t, view.EndTime)
			},
		},
		{
			name: "active exposes end time",
			booking: &domain.Booking{
				ID:          11,
				RequesterID: 7,
				State:       domain.BookingStateActive,
				Credential:  "abc-123",
				ResourceIDs: []int64{3},
				SessionEnd:  &sessionEnd,
			},
			check: func(t *testing.T, view *BookingView) {
				assert.True(t, view.HasBooking)
				assert.Equal(t, "ACTIVE", view.State)
				assert.Nil(t, view.ApprovalDeadline)
				if assert.NotNil(t, view.EndTime) {
					assert.Equal(t, sessionEnd, *view.EndTime)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bookings := &MockBookingRepository{}
			fleetCache := &MockFleetCache{}
			service := NewStatusService(&MockResourceRepository{}, bookings, fleetCache, WithClock(fixedClock(now)))

			ctx := context.Background()
			if tc.booking == nil {
				bookings.On("GetOpenByRequester", ctx, int64(7)).Return(nil, nil).Once()
			} else {
				bookings.On("GetOpenByRequester", ctx, int64(7)).Return(tc.booking, nil).Once()
			}

			view, err := service.MyBooking(ctx, 7)
			assert.NoError(t, err)
			tc.check(t, view)
			fleetCache.AssertNotCalled(t, "GetFleetSnapshot", mock.Anything)
		})
	}
}
