package reservation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rcabanilla/labreserve/internal/domain"
	"github.com/rcabanilla/labreserve/internal/kafka"
	"github.com/rcabanilla/labreserve/internal/repository"
)

// approvalWindow is how long a pending booking waits for an operator before
// the sweep cancels it. Fixed by design, not per booking.
const approvalWindow = 10 * time.Minute

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

type EndReason string

const (
	EndReasonExpired        EndReason = "expired"
	EndReasonEarlyTerminate EndReason = "early-terminate"
)

// Actor is the caller identity as established by the auth front.
type Actor struct {
	ID       int64
	Operator bool
}

type ReservationUseCase interface {
	Acquire(ctx context.Context, input AcquireInput) (*domain.Booking, error)
	AcquireBlock(ctx context.Context, input AcquireBlockInput) (*domain.Booking, error)
	Decide(ctx context.Context, bookingID int64, decision Decision, actor Actor) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID int64, actor Actor) (*domain.Booking, error)
	EndSession(ctx context.Context, bookingID int64, actor Actor, reason EndReason) (*domain.Booking, error)
	ExtendSession(ctx context.Context, bookingID int64, actor Actor, minutes int) (*domain.Booking, error)
	ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error)
	CompleteExpiredSessions(ctx context.Context) ([]domain.Booking, error)
	ReleaseElapsedSuspensions(ctx context.Context) (int, error)
}

type Cache interface {
	AcquireRequesterLock(ctx context.Context, requesterID int64, ttl time.Duration) (bool, error)
	ReleaseRequesterLock(ctx context.Context, requesterID int64) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type ReservationService struct {
	bookings           repository.BookingRepository
	resources          repository.ResourceRepository
	violations         repository.ViolationRepository
	cache              Cache
	producer           Producer
	eventsTopic        string
	notificationsTopic string
	minDuration        time.Duration
	maxDuration        time.Duration
	now                func() time.Time
}

type AcquireInput struct {
	ResourceID      int64 `json:"resource_id"`
	RequesterID     int64 `json:"requester_id"`
	DurationMinutes int   `json:"duration_minutes"`
}

type AcquireBlockInput struct {
	// ResourceIDs names the wanted resources explicitly. When empty, Count
	// free resources are picked instead.
	ResourceIDs     []int64 `json:"resource_ids"`
	Count           int     `json:"count"`
	RequesterID     int64   `json:"requester_id"`
	DurationMinutes int     `json:"duration_minutes"`
}

type ReservationServiceOption func(*ReservationService)

func WithNotificationsTopic(topic string) ReservationServiceOption {
	return func(s *ReservationService) {
		s.notificationsTopic = topic
	}
}

// WithClock overrides the service clock. Tests use this to drive deadlines.
func WithClock(now func() time.Time) ReservationServiceOption {
	return func(s *ReservationService) {
		s.now = now
	}
}

func NewReservationService(
	bookings repository.BookingRepository,
	resources repository.ResourceRepository,
	violations repository.ViolationRepository,
	cache Cache,
	producer Producer,
	eventsTopic string,
	minDuration, maxDuration time.Duration,
	opts ...ReservationServiceOption,
) *ReservationService {
	service := &ReservationService{
		bookings:    bookings,
		resources:   resources,
		violations:  violations,
		cache:       cache,
		producer:    producer,
		eventsTopic: eventsTopic,
		minDuration: minDuration,
		maxDuration: maxDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Acquire takes an exclusive hold on one resource for the requester. The hold
// and the resource occupancy flip commit in one transaction; concurrent
// requests on the same resource see exactly one winner.
func (s *ReservationService) Acquire(ctx context.Context, input AcquireInput) (*domain.Booking, error) {
	duration, err := s.checkDuration(input.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if err := s.checkSuspension(ctx, input.RequesterID); err != nil {
		return nil, err
	}

	locked, err := s.lockRequester(ctx, input.RequesterID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, domain.ErrRequesterHasActiveBooking
	}

	booking := &domain.Booking{
		RequesterID:      input.RequesterID,
		Role:             domain.RoleIndividual,
		ResourceIDs:      []int64{input.ResourceID},
		Duration:         duration,
		State:            domain.BookingStatePending,
		Credential:       uuid.NewString(),
		ApprovalDeadline: s.now().Add(approvalWindow),
	}
	if err := s.bookings.CreatePending(ctx, booking); err != nil {
		s.unlockRequester(ctx, input.RequesterID)
		return nil, err
	}

	s.publish(ctx, "booking_requested", booking)
	return booking, nil
}

// AcquireBlock holds several resources under a single booking, all or
// nothing. Block and individual holds share one exclusion domain per
// resource: whichever transaction commits first wins.
func (s *ReservationService) AcquireBlock(ctx context.Context, input AcquireBlockInput) (*domain.Booking, error) {
	duration, err := s.checkDuration(input.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if err := s.checkSuspension(ctx, input.RequesterID); err != nil {
		return nil, err
	}

	locked, err := s.lockRequester(ctx, input.RequesterID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, domain.ErrRequesterHasActiveBooking
	}

	resourceIDs := input.ResourceIDs
	if len(resourceIDs) == 0 && input.Count > 0 {
		resourceIDs, err = s.resources.ListBookableIDs(ctx, input.Count)
		if err != nil {
			s.unlockRequester(ctx, input.RequesterID)
			return nil, err
		}
		if len(resourceIDs) < input.Count {
			s.unlockRequester(ctx, input.RequesterID)
			return nil, domain.ErrInsufficientResources
		}
	}
	if len(resourceIDs) == 0 {
		s.unlockRequester(ctx, input.RequesterID)
		return nil, domain.ErrInsufficientResources
	}

	booking := &domain.Booking{
		RequesterID:      input.RequesterID,
		Role:             domain.RoleBlock,
		ResourceIDs:      resourceIDs,
		Duration:         duration,
		State:            domain.BookingStatePending,
		Credential:       uuid.NewString(),
		ApprovalDeadline: s.now().Add(approvalWindow),
	}
	if err := s.bookings.CreateBlockPending(ctx, booking); err != nil {
		s.unlockRequester(ctx, input.RequesterID)
		return nil, err
	}

	s.publish(ctx, "booking_requested", booking)
	return booking, nil
}

// Decide resolves a pending booking. Approving an already-active booking is
// a no-op returning the current record; every other decision on a resolved
// or overdue booking fails with ErrStaleDecision.
func (s *ReservationService) Decide(ctx context.Context, bookingID int64, decision Decision, actor Actor) (*domain.Booking, error) {
	if !actor.Operator {
		return nil, domain.ErrForbidden
	}

	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch decision {
	case DecisionApprove:
		if current.State == domain.BookingStateActive {
			return current, nil
		}
		if current.State != domain.BookingStatePending || !s.now().Before(current.ApprovalDeadline) {
			return nil, domain.ErrStaleDecision
		}
		approved, err := s.bookings.Approve(ctx, bookingID, s.now().Add(current.Duration))
		if err != nil {
			return nil, err
		}
		s.unlockRequester(ctx, approved.RequesterID)
		s.publish(ctx, "booking_approved", approved)
		return approved, nil

	case DecisionDeny:
		if current.State != domain.BookingStatePending || !s.now().Before(current.ApprovalDeadline) {
			return nil, domain.ErrStaleDecision
		}
		denied, err := s.bookings.Terminate(ctx, bookingID, domain.BookingStatePending, domain.BookingStateCancelled)
		if err != nil {
			return nil, err
		}
		s.unlockRequester(ctx, denied.RequesterID)
		s.publish(ctx, "booking_denied", denied)
		return denied, nil

	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
}

// Cancel withdraws a pending booking. Only the owner or an operator may
// cancel; cancelling an already-cancelled booking returns it unchanged.
func (s *ReservationService) Cancel(ctx context.Context, bookingID int64, actor Actor) (*domain.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.RequesterID != actor.ID && !actor.Operator {
		return nil, domain.ErrForbidden
	}
	if current.State == domain.BookingStateCancelled {
		return current, nil
	}
	if current.State != domain.BookingStatePending {
		return nil, domain.ErrStaleDecision
	}

	cancelled, err := s.bookings.Terminate(ctx, bookingID, domain.BookingStatePending, domain.BookingStateCancelled)
	if err != nil {
		return nil, err
	}
	s.unlockRequester(ctx, cancelled.RequesterID)
	s.publish(ctx, "booking_cancelled", cancelled)
	return cancelled, nil
}

// EndSession terminates an active session, either because the server-side
// clock reached session end or because the owner or an operator ended it
// early. Ending an already-completed session returns it unchanged.
func (s *ReservationService) EndSession(ctx context.Context, bookingID int64, actor Actor, reason EndReason) (*domain.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.RequesterID != actor.ID && !actor.Operator {
		return nil, domain.ErrForbidden
	}
	if current.State == domain.BookingStateCompleted {
		return current, nil
	}
	if current.State != domain.BookingStateActive {
		return nil, domain.ErrStaleDecision
	}

	completed, err := s.bookings.Terminate(ctx, bookingID, domain.BookingStateActive, domain.BookingStateCompleted)
	if err != nil {
		return nil, err
	}
	s.unlockRequester(ctx, completed.RequesterID)
	s.publish(ctx, "session_ended_"+string(reason), completed)
	return completed, nil
}

// ExtendSession pushes an active session's end time forward. Operator only.
func (s *ReservationService) ExtendSession(ctx context.Context, bookingID int64, actor Actor, minutes int) (*domain.Booking, error) {
	if !actor.Operator {
		return nil, domain.ErrForbidden
	}
	if minutes <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.State != domain.BookingStateActive || current.SessionEnd == nil {
		return nil, domain.ErrStaleDecision
	}

	extended, err := s.bookings.ExtendSession(ctx, bookingID, current.SessionEnd.Add(time.Duration(minutes)*time.Minute))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "session_extended", extended)
	return extended, nil
}

// ExpirePendingBookings cancels every pending booking whose approval
// deadline has passed. Run by the worker; clients are never trusted to
// report expiry.
func (s *ReservationService) ExpirePendingBookings(ctx context.Context) ([]domain.Booking, error) {
	expired, err := s.bookings.ExpirePendingBefore(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for i := range expired {
		s.unlockRequester(ctx, expired[i].RequesterID)
		s.publish(ctx, "booking_expired", &expired[i])
	}
	return expired, nil
}

// CompleteExpiredSessions ends every active session past its end time.
func (s *ReservationService) CompleteExpiredSessions(ctx context.Context) ([]domain.Booking, error) {
	completed, err := s.bookings.CompleteActiveBefore(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for i := range completed {
		s.unlockRequester(ctx, completed[i].RequesterID)
		s.publish(ctx, "session_ended_expired", &completed[i])
	}
	return completed, nil
}

// ReleaseElapsedSuspensions lifts moderate suspensions whose end date has
// passed and returns how many were released.
func (s *ReservationService) ReleaseElapsedSuspensions(ctx context.Context) (int, error) {
	released, err := s.violations.ReleaseSuspensionsBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	return len(released), nil
}

func (s *ReservationService) checkDuration(minutes int) (time.Duration, error) {
	duration := time.Duration(minutes) * time.Minute
	if minutes <= 0 || duration < s.minDuration || (s.maxDuration > 0 && duration > s.maxDuration) {
		return 0, domain.ErrInvalidDuration
	}
	return duration, nil
}

func (s *ReservationService) checkSuspension(ctx context.Context, requesterID int64) error {
	if s.violations == nil {
		return nil
	}
	violation, err := s.violations.LatestUnresolved(ctx, requesterID)
	if err != nil {
		return err
	}
	if violation != nil && violation.BlocksBooking(s.now()) {
		return domain.ErrRequesterSuspended
	}
	return nil
}

func (s *ReservationService) lockRequester(ctx context.Context, requesterID int64) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	return s.cache.AcquireRequesterLock(ctx, requesterID, approvalWindow)
}

func (s *ReservationService) unlockRequester(ctx context.Context, requesterID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ReleaseRequesterLock(ctx, requesterID); err != nil {
		log.Printf("release requester lock %d: %v", requesterID, err)
	}
}

func (s *ReservationService) publish(ctx context.Context, eventType string, booking *domain.Booking) {
	if s.producer == nil || s.eventsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:             eventType,
		BookingID:        booking.ID,
		Credential:       booking.Credential,
		RequesterID:      booking.RequesterID,
		ResourceIDs:      booking.ResourceIDs,
		State:            string(booking.State),
		ApprovalDeadline: booking.ApprovalDeadline,
		SessionEnd:       booking.SessionEnd,
	}
	if err := s.producer.Publish(ctx, s.eventsTopic, booking.Credential, event); err != nil {
		log.Printf("WARNING: failed to publish %s event for booking %d: %v", eventType, booking.ID, err)
		return
	}
	if s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, booking.Credential, event); err != nil {
			log.Printf("WARNING: failed to publish %s notification for booking %d: %v", eventType, booking.ID, err)
		}
	}
}

var _ ReservationUseCase = (*ReservationService)(nil)
