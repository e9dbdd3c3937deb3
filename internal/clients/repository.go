package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a missing client.
var ErrNotFound = errors.New("clients: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `id, company_id, name, tax_id, email, phone, address_line1, address_line2,
city, postal_code, country, default_currency, is_active, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &c.TaxID, &c.Email, &c.Phone, &c.AddressLine1, &c.AddressLine2,
		&c.City, &c.PostalCode, &c.Country, &c.DefaultCurrency, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create inserts a client and returns its id.
func (r *Repository) Create(ctx context.Context, req CreateClientRequest) (int64, error) {
	var id int64
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO clients
(company_id, name, tax_id, email, phone, address_line1, address_line2, city, postal_code, country, default_currency, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,true,$12,$12) RETURNING id`,
		req.CompanyID, req.Name, req.TaxID, req.Email, req.Phone, req.AddressLine1, req.AddressLine2,
		req.City, req.PostalCode, req.Country, req.DefaultCurrency, now).Scan(&id)
	return id, err
}

// Get loads one client.
func (r *Repository) Get(ctx context.Context, id int64) (*Client, error) {
	return scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, id))
}

// Exists reports whether an active client belongs to the company.
func (r *Repository) Exists(ctx context.Context, companyID, id int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id=$1 AND company_id=$2 AND is_active)`, id, companyID).Scan(&ok)
	return ok, err
}

// Update applies the provided column updates.
func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	sets := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+2)
	for col, val := range updates {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	args = append(args, time.Now())
	sets = append(sets, fmt.Sprintf("updated_at=$%d", len(args)))
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE clients SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a filtered page of clients and the total count.
func (r *Repository) List(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	where := []string{"company_id=$1"}
	args := []any{req.CompanyID}
	if req.IsActive != nil {
		args = append(args, *req.IsActive)
		where = append(where, fmt.Sprintf("is_active=$%d", len(args)))
	}
	if req.Search != nil && *req.Search != "" {
		args = append(args, "%"+*req.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR tax_id ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM clients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	q := fmt.Sprintf(`SELECT `+clientColumns+` FROM clients WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
