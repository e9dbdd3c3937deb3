package company

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a missing company or exercise row.
var ErrNotFound = errors.New("company: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the company profile.
func (r *Repository) Get(ctx context.Context, id int64) (*Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `SELECT id, name, tax_id, address, city, postal_code, country, home_currency, created_at, updated_at
FROM companies WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.TaxID, &c.Address, &c.City, &c.PostalCode, &c.Country, &c.HomeCurrency, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetExercise loads one fiscal exercise row. Missing rows map to ErrNotFound.
func (r *Repository) GetExercise(ctx context.Context, companyID int64, fiscalYear int) (*FiscalExercise, error) {
	var e FiscalExercise
	err := r.pool.QueryRow(ctx, `SELECT company_id, fiscal_year, status, closed_at, updated_at
FROM fiscal_exercises WHERE company_id=$1 AND fiscal_year=$2`, companyID, fiscalYear).
		Scan(&e.CompanyID, &e.FiscalYear, &e.Status, &e.ClosedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListExercises returns the exercise rows recorded for a company.
func (r *Repository) ListExercises(ctx context.Context, companyID int64) ([]FiscalExercise, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id, fiscal_year, status, closed_at, updated_at
FROM fiscal_exercises WHERE company_id=$1 ORDER BY fiscal_year DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FiscalExercise
	for rows.Next() {
		var e FiscalExercise
		if err := rows.Scan(&e.CompanyID, &e.FiscalYear, &e.Status, &e.ClosedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetExerciseStatus upserts the exercise row with the given status.
func (r *Repository) SetExerciseStatus(ctx context.Context, companyID int64, fiscalYear int, status ExerciseStatus) error {
	now := time.Now()
	var closedAt *time.Time
	if status == ExerciseClosed {
		closedAt = &now
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO fiscal_exercises (company_id, fiscal_year, status, closed_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (company_id, fiscal_year)
DO UPDATE SET status=EXCLUDED.status, closed_at=EXCLUDED.closed_at, updated_at=EXCLUDED.updated_at`,
		companyID, fiscalYear, status, closedAt, now)
	return err
}
