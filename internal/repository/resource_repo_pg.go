package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcabanilla/labreserve/internal/domain"
)

type ResourceRepository interface {
	List(ctx context.Context) ([]domain.Resource, error)
	GetByID(ctx context.Context, id int64) (*domain.Resource, error)
	ListBookableIDs(ctx context.Context, limit int) ([]int64, error)
	UpdateReachability(ctx context.Context, id int64, reachability domain.Reachability) error
}

type PGResourceRepository struct {
	db *pgxpool.Pool
}

func NewResourceRepository(db *pgxpool.Pool) ResourceRepository {
	return &PGResourceRepository{db: db}
}

const resourceColumns = `id, name, addr, reachability, condition, occupancy, created_at, updated_at`

func (r *PGResourceRepository) List(ctx context.Context) ([]domain.Resource, error) {
	rows, err := r.db.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resources := make([]domain.Resource, 0)
	for rows.Next() {
		var res domain.Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Addr, &res.Reachability, &res.Condition, &res.Occupancy, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

func (r *PGResourceRepository) GetByID(ctx context.Context, id int64) (*domain.Resource, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=$1`, id)
	var res domain.Resource
	if err := row.Scan(&res.ID, &res.Name, &res.Addr, &res.Reachability, &res.Condition, &res.Occupancy, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListBookableIDs returns up to limit resources currently free to hold,
// lowest name first. Used to pick members for a block request; the hold
// itself is still guarded transactionally.
func (r *PGResourceRepository) ListBookableIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM resources
		WHERE occupancy = 'AVAILABLE' AND condition = 'ACTIVE' AND reachability <> 'UNREACHABLE'
		ORDER BY name
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGResourceRepository) UpdateReachability(ctx context.Context, id int64, reachability domain.Reachability) error {
	cmd, err := r.db.Exec(ctx, `UPDATE resources SET reachability=$2, updated_at=now() WHERE id=$1`, id, reachability)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ ResourceRepository = (*PGResourceRepository)(nil)
