package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcabanilla/labreserve/internal/domain"
)

type ViolationRepository interface {
	LatestUnresolved(ctx context.Context, requesterID int64) (*domain.Violation, error)
	ReleaseSuspensionsBefore(ctx context.Context, deadline time.Time) ([]domain.Violation, error)
}

type PGViolationRepository struct {
	db *pgxpool.Pool
}

func NewViolationRepository(db *pgxpool.Pool) ViolationRepository {
	return &PGViolationRepository{db: db}
}

const violationColumns = `id, requester_id, resource_id, level, reason, suspended, suspension_end, resolved, created_at`

// LatestUnresolved returns the newest unresolved violation for the requester,
// or nil when there is none.
func (r *PGViolationRepository) LatestUnresolved(ctx context.Context, requesterID int64) (*domain.Violation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE requester_id = $1 AND NOT resolved
		ORDER BY created_at DESC
		LIMIT 1`, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var v domain.Violation
	var resourceID *int64
	if err := rows.Scan(&v.ID, &v.RequesterID, &resourceID, &v.Level, &v.Reason, &v.Suspended, &v.SuspensionEnd, &v.Resolved, &v.CreatedAt); err != nil {
		return nil, err
	}
	if resourceID != nil {
		v.ResourceID = *resourceID
	}
	return &v, nil
}

// ReleaseSuspensionsBefore lifts moderate suspensions whose end date has
// passed. Major suspensions are only lifted by an operator.
func (r *PGViolationRepository) ReleaseSuspensionsBefore(ctx context.Context, deadline time.Time) ([]domain.Violation, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE violations SET suspended = FALSE, resolved = TRUE
		WHERE level = 'MODERATE' AND suspended AND NOT resolved AND suspension_end <= $1
		RETURNING `+violationColumns, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var released []domain.Violation
	for rows.Next() {
		var v domain.Violation
		var resourceID *int64
		if err := rows.Scan(&v.ID, &v.RequesterID, &resourceID, &v.Level, &v.Reason, &v.Suspended, &v.SuspensionEnd, &v.Resolved, &v.CreatedAt); err != nil {
			return nil, err
		}
		if resourceID != nil {
			v.ResourceID = *resourceID
		}
		released = append(released, v)
	}
	return released, rows.Err()
}

var _ ViolationRepository = (*PGViolationRepository)(nil)
