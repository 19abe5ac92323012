package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcabanilla/labreserve/internal/domain"
)

type BookingRepository interface {
	CreatePending(ctx context.Context, booking *domain.Booking) error
	CreateBlockPending(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetOpenByRequester(ctx context.Context, requesterID int64) (*domain.Booking, error)
	Approve(ctx context.Context, id int64, sessionEnd time.Time) (*domain.Booking, error)
	Terminate(ctx context.Context, id int64, from, to domain.BookingState) (*domain.Booking, error)
	ExtendSession(ctx context.Context, id int64, newEnd time.Time) (*domain.Booking, error)
	ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
	CompleteActiveBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
	OpenBookingsByResource(ctx context.Context) (map[int64]domain.Booking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, requester_id, role, duration_minutes, state, credential, approval_deadline, session_end, created_at, updated_at`

// holdResources flips the occupancy of the given resources to IN_QUEUE and
// returns how many rows actually matched the bookable condition. Resource
// occupancy and booking state change inside the same transaction; no observer
// can see one without the other.
func holdResources(ctx context.Context, tx pgx.Tx, resourceIDs []int64) (int64, error) {
	cmd, err := tx.Exec(ctx, `
		UPDATE resources
		SET occupancy = 'IN_QUEUE', updated_at = now()
		WHERE id = ANY($1)
		  AND occupancy = 'AVAILABLE'
		  AND condition = 'ACTIVE'
		  AND reachability <> 'UNREACHABLE'`, resourceIDs)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func insertPending(ctx context.Context, tx pgx.Tx, booking *domain.Booking) error {
	booking.State = domain.BookingStatePending
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings (requester_id, role, duration_minutes, state, credential, approval_deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		booking.RequesterID, booking.Role, int(booking.Duration.Minutes()), booking.State,
		booking.Credential, booking.ApprovalDeadline).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_open_requester_idx" {
			return domain.ErrRequesterHasActiveBooking
		}
		return err
	}

	rows := make([][]interface{}, 0, len(booking.ResourceIDs))
	for _, rid := range booking.ResourceIDs {
		rows = append(rows, []interface{}{booking.ID, rid})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"booking_resources"}, []string{"booking_id", "resource_id"}, pgx.CopyFromRows(rows))
	return err
}

func (r *PGBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	held, err := holdResources(ctx, tx, booking.ResourceIDs)
	if err != nil {
		return err
	}
	if held == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resources WHERE id = $1)`, booking.ResourceID()).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrResourceUnavailable
	}

	if err := insertPending(ctx, tx, booking); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateBlockPending holds every requested resource or none of them.
func (r *PGBookingRepository) CreateBlockPending(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	held, err := holdResources(ctx, tx, booking.ResourceIDs)
	if err != nil {
		return err
	}
	if held != int64(len(booking.ResourceIDs)) {
		return domain.ErrInsufficientResources
	}

	if err := insertPending(ctx, tx, booking); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := r.scanBookingRow(r.db.QueryRow(ctx, `
		SELECT b.id, b.requester_id, b.role, b.duration_minutes, b.state, b.credential,
		       b.approval_deadline, b.session_end, b.created_at, b.updated_at,
		       COALESCE(array_agg(br.resource_id) FILTER (WHERE br.resource_id IS NOT NULL), '{}')
		FROM bookings b
		LEFT JOIN booking_resources br ON br.booking_id = b.id
		WHERE b.id = $1
		GROUP BY b.id`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// GetOpenByRequester returns the requester's pending or active booking, or
// nil when they hold none.
func (r *PGBookingRepository) GetOpenByRequester(ctx context.Context, requesterID int64) (*domain.Booking, error) {
	b, err := r.scanBookingRow(r.db.QueryRow(ctx, `
		SELECT b.id, b.requester_id, b.role, b.duration_minutes, b.state, b.credential,
		       b.approval_deadline, b.session_end, b.created_at, b.updated_at,
		       COALESCE(array_agg(br.resource_id) FILTER (WHERE br.resource_id IS NOT NULL), '{}')
		FROM bookings b
		LEFT JOIN booking_resources br ON br.booking_id = b.id
		WHERE b.requester_id = $1 AND b.state IN ('PENDING', 'ACTIVE')
		GROUP BY b.id`, requesterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// Approve transitions PENDING -> ACTIVE and flips the held resources to
// IN_USE. The state guard in the UPDATE makes a decision racing the expiry
// sweep resolve to exactly one outcome.
func (r *PGBookingRepository) Approve(ctx context.Context, id int64, sessionEnd time.Time) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var b domain.Booking
	var minutes int
	err = tx.QueryRow(ctx, `
		UPDATE bookings SET state = 'ACTIVE', session_end = $2, updated_at = now()
		WHERE id = $1 AND state = 'PENDING'
		RETURNING `+bookingColumns, id, sessionEnd).
		Scan(&b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
			&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStaleDecision
		}
		return nil, err
	}
	b.Duration = time.Duration(minutes) * time.Minute

	if err := loadBookingResources(ctx, tx, &b); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE resources SET occupancy = 'IN_USE', updated_at = now()
		WHERE id IN (SELECT resource_id FROM booking_resources WHERE booking_id = $1)`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

// Terminate moves a booking from a non-terminal state to a terminal one and
// frees its resources. Returns ErrStaleDecision when the booking is not in
// the expected state anymore.
func (r *PGBookingRepository) Terminate(ctx context.Context, id int64, from, to domain.BookingState) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var b domain.Booking
	var minutes int
	err = tx.QueryRow(ctx, `
		UPDATE bookings SET state = $3, updated_at = now()
		WHERE id = $1 AND state = $2
		RETURNING `+bookingColumns, id, from, to).
		Scan(&b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
			&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStaleDecision
		}
		return nil, err
	}
	b.Duration = time.Duration(minutes) * time.Minute

	if err := loadBookingResources(ctx, tx, &b); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE resources SET occupancy = 'AVAILABLE', updated_at = now()
		WHERE id IN (SELECT resource_id FROM booking_resources WHERE booking_id = $1)`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PGBookingRepository) ExtendSession(ctx context.Context, id int64, newEnd time.Time) (*domain.Booking, error) {
	var b domain.Booking
	var minutes int
	err := r.db.QueryRow(ctx, `
		UPDATE bookings SET session_end = $2, updated_at = now()
		WHERE id = $1 AND state = 'ACTIVE'
		RETURNING `+bookingColumns, id, newEnd).
		Scan(&b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
			&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStaleDecision
		}
		return nil, err
	}
	b.Duration = time.Duration(minutes) * time.Minute
	return &b, nil
}

func (r *PGBookingRepository) ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	return r.sweep(ctx, `
		UPDATE bookings SET state = 'CANCELLED', updated_at = now()
		WHERE state = 'PENDING' AND approval_deadline <= $1
		RETURNING `+bookingColumns, deadline)
}

func (r *PGBookingRepository) CompleteActiveBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	return r.sweep(ctx, `
		UPDATE bookings SET state = 'COMPLETED', updated_at = now()
		WHERE state = 'ACTIVE' AND session_end <= $1
		RETURNING `+bookingColumns, deadline)
}

func (r *PGBookingRepository) sweep(ctx context.Context, query string, deadline time.Time) ([]domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, deadline)
	if err != nil {
		return nil, err
	}

	var swept []domain.Booking
	var ids []int64
	for rows.Next() {
		var b domain.Booking
		var minutes int
		if err := rows.Scan(&b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
			&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		b.Duration = time.Duration(minutes) * time.Minute
		swept = append(swept, b)
		ids = append(ids, b.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(swept) == 0 {
		return nil, tx.Commit(ctx)
	}

	memberRows, err := tx.Query(ctx, `SELECT booking_id, resource_id FROM booking_resources WHERE booking_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	members := make(map[int64][]int64)
	for memberRows.Next() {
		var bookingID, resourceID int64
		if err := memberRows.Scan(&bookingID, &resourceID); err != nil {
			memberRows.Close()
			return nil, err
		}
		members[bookingID] = append(members[bookingID], resourceID)
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}
	for i := range swept {
		swept[i].ResourceIDs = members[swept[i].ID]
	}

	_, err = tx.Exec(ctx, `
		UPDATE resources SET occupancy = 'AVAILABLE', updated_at = now()
		WHERE id IN (SELECT resource_id FROM booking_resources WHERE booking_id = ANY($1))`, ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return swept, nil
}

// OpenBookingsByResource maps each occupied resource to its open booking,
// for the status projection.
func (r *PGBookingRepository) OpenBookingsByResource(ctx context.Context) (map[int64]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT br.resource_id, b.id, b.requester_id, b.role, b.duration_minutes, b.state, b.credential,
		       b.approval_deadline, b.session_end, b.created_at, b.updated_at
		FROM bookings b
		JOIN booking_resources br ON br.booking_id = b.id
		WHERE b.state IN ('PENDING', 'ACTIVE')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make(map[int64]domain.Booking)
	for rows.Next() {
		var resourceID int64
		var b domain.Booking
		var minutes int
		if err := rows.Scan(&resourceID, &b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
			&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Duration = time.Duration(minutes) * time.Minute
		open[resourceID] = b
	}
	return open, rows.Err()
}

func (r *PGBookingRepository) scanBookingRow(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var minutes int
	err := row.Scan(&b.ID, &b.RequesterID, &b.Role, &minutes, &b.State, &b.Credential,
		&b.ApprovalDeadline, &b.SessionEnd, &b.CreatedAt, &b.UpdatedAt, &b.ResourceIDs)
	if err != nil {
		return nil, err
	}
	b.Duration = time.Duration(minutes) * time.Minute
	return &b, nil
}

func loadBookingResources(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	rows, err := tx.Query(ctx, `SELECT resource_id FROM booking_resources WHERE booking_id = $1`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	b.ResourceIDs = b.ResourceIDs[:0]
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return err
		}
		b.ResourceIDs = append(b.ResourceIDs, rid)
	}
	return rows.Err()
}

var _ BookingRepository = (*PGBookingRepository)(nil)
