// Package staffing answers whether a business date was worked by a confirmed shift.
package staffing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used here.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads the shifts table.
type Repository struct {
	db Querier
}

// NewRepository constructs Repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// HasConfirmedShift reports whether at least one confirmed shift exists on date.
func (r *Repository) HasConfirmedShift(ctx context.Context, date time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE business_date = $1 AND confirmed)`, date).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("staffing: confirmed shift lookup: %w", err)
	}
	return ok, nil
}
