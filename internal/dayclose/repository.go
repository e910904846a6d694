package dayclose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
)

const dayBusinessDateKey = "daily_records_business_date_key"

// Repository persists business days, movements and recorded sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	db   db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

type txRepo struct {
	db db.DBTX
}

// WithTx executes the callback inside a repeatable-read transaction. Lock
// contention and serialization failures surface as ErrConcurrentTransition.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("dayclose: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
	return mapStorageErr(err)
}

// WithTransitionTx runs a close or reopen at read committed. The day row is
// locked FOR UPDATE first, so every later statement sees all mutations that
// committed while the lock was awaited, and no new mutation can start until
// commit.
func (r *Repository) WithTransitionTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("dayclose: repository not initialised")
	}
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
	return mapStorageErr(err)
}

func mapStorageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsContention(err):
		return fmt.Errorf("%w: %v", ErrConcurrentTransition, err)
	case db.IsUniqueViolation(err, dayBusinessDateKey):
		return fmt.Errorf("%w: day already started", ErrConcurrentTransition)
	}
	return err
}

const dayColumns = `id, business_date, state, version, opened_at, opened_by, closed_at, closed_by,
	reopened_at, reopen_count, notes, recorded_revenue, calculated_revenue, discrepancy,
	summary, created_at, updated_at`

func scanDay(row pgx.Row) (DailyRecord, error) {
	var (
		rec     DailyRecord
		state   string
		summary []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Date, &state, &rec.Version,
		&rec.OpenedAt, &rec.OpenedBy, &rec.ClosedAt, &rec.ClosedBy,
		&rec.ReopenedAt, &rec.ReopenCount, &rec.Notes,
		&rec.RecordedRevenue, &rec.CalculatedRevenue, &rec.Discrepancy,
		&summary, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailyRecord{}, ErrDayNotFound
		}
		return DailyRecord{}, err
	}
	rec.State = DayState(state)
	if len(summary) > 0 {
		var s DaySummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return DailyRecord{}, fmt.Errorf("dayclose: decode summary of day %d: %w", rec.ID, err)
		}
		rec.Summary = &s
	}
	return rec, nil
}

// GetDay loads a day by its business date.
func (r *Repository) GetDay(ctx context.Context, date time.Time) (DailyRecord, error) {
	return scanDay(r.db.QueryRow(ctx, `SELECT `+dayColumns+` FROM daily_records WHERE business_date = $1`, date))
}

// ListOpenDaysBefore returns Open days dated before cutoff, oldest first.
func (r *Repository) ListOpenDaysBefore(ctx context.Context, cutoff time.Time) ([]DailyRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+dayColumns+` FROM daily_records
		WHERE state = 'OPEN' AND business_date < $1
		ORDER BY business_date`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyRecord
	for rows.Next() {
		rec, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListMovements returns every movement of a day, voided ones included.
func (r *Repository) ListMovements(ctx context.Context, dayID int64) ([]ledger.Movement, error) {
	return listMovements(ctx, r.db, dayID)
}

// ListSales returns every recorded sale of a day, voided ones included.
func (r *Repository) ListSales(ctx context.Context, dayID int64) ([]reconcile.RecordedSale, error) {
	return listSales(ctx, r.db, dayID)
}

// GetSale loads a sale by id.
func (r *Repository) GetSale(ctx context.Context, id int64) (reconcile.RecordedSale, error) {
	return scanSale(r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM recorded_sales WHERE id = $1`, id))
}

// ListReopenAudits returns a day's reopen trail, oldest first.
func (r *Repository) ListReopenAudits(ctx context.Context, dayID int64) ([]ReopenAudit, error) {
	rows, err := r.db.Query(ctx, `SELECT id, day_id, actor_id, reason, previous_closed_at, reopened_at
		FROM day_reopen_audits WHERE day_id = $1 ORDER BY reopened_at, id`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ReopenAudit{}
	for rows.Next() {
		var a ReopenAudit
		if err := rows.Scan(&a.ID, &a.DayID, &a.ActorID, &a.Reason, &a.PreviousClosedAt, &a.ReopenedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepo) LockDay(ctx context.Context, date time.Time, mode LockMode) (DailyRecord, error) {
	clause := "FOR SHARE"
	if mode == LockExclusive {
		clause = "FOR UPDATE"
	}
	return scanDay(r.db.QueryRow(ctx, `SELECT `+dayColumns+` FROM daily_records WHERE business_date = $1 `+clause, date))
}

func (r *txRepo) InsertDay(ctx context.Context, rec DailyRecord) (DailyRecord, error) {
	return scanDay(r.db.QueryRow(ctx, `INSERT INTO daily_records
		(business_date, state, version, opened_at, opened_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+dayColumns,
		rec.Date, string(rec.State), rec.Version, rec.OpenedAt, rec.OpenedBy, rec.Notes))
}

const movementColumns = `id, day_id, ingredient_id, movement_type, quantity, unit_cost,
	COALESCE(source_location, ''), COALESCE(destination_location, ''), COALESCE(spoilage_reason, ''),
	note, COALESCE(client_ref::text, ''), recorded_by, recorded_at, voided_at, voided_by, COALESCE(void_reason, '')`

func scanMovement(row pgx.Row) (ledger.Movement, error) {
	var (
		mv                    ledger.Movement
		typ, src, dst, reason string
	)
	err := row.Scan(
		&mv.ID, &mv.DayID, &mv.IngredientID, &typ, &mv.Quantity, &mv.UnitCost,
		&src, &dst, &reason, &mv.Note, &mv.ClientRef,
		&mv.RecordedBy, &mv.RecordedAt, &mv.VoidedAt, &mv.VoidedBy, &mv.VoidReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Movement{}, ErrMovementNotFound
		}
		return ledger.Movement{}, err
	}
	mv.Type = ledger.MovementType(typ)
	mv.Source = ledger.Location(src)
	mv.Destination = ledger.Location(dst)
	mv.SpoilageReason = ledger.SpoilageReason(reason)
	return mv, nil
}

func listMovements(ctx context.Context, q db.DBTX, dayID int64) ([]ledger.Movement, error) {
	rows, err := q.Query(ctx, `SELECT `+movementColumns+` FROM ingredient_movements WHERE day_id = $1 ORDER BY id`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *txRepo) UpsertCount(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return scanMovement(r.db.QueryRow(ctx, `INSERT INTO ingredient_movements
		(day_id, ingredient_id, movement_type, quantity, note, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, '', $5, $6)
		ON CONFLICT (day_id, ingredient_id, movement_type) WHERE movement_type IN ('OPENING', 'CLOSING')
		DO UPDATE SET quantity = EXCLUDED.quantity, recorded_by = EXCLUDED.recorded_by, recorded_at = EXCLUDED.recorded_at
		RETURNING `+movementColumns,
		mv.DayID, mv.IngredientID, string(mv.Type), mv.Quantity, mv.RecordedBy, mv.RecordedAt))
}

func (r *txRepo) InsertMovement(ctx context.Context, mv ledger.Movement) (ledger.Movement, error) {
	return scanMovement(r.db.QueryRow(ctx, `INSERT INTO ingredient_movements
		(day_id, ingredient_id, movement_type, quantity, unit_cost, source_location, destination_location,
		 spoilage_reason, note, client_ref, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, '')::uuid, $11, $12)
		RETURNING `+movementColumns,
		mv.DayID, mv.IngredientID, string(mv.Type), mv.Quantity, mv.UnitCost,
		string(mv.Source), string(mv.Destination), string(mv.SpoilageReason), mv.Note, mv.ClientRef,
		mv.RecordedBy, mv.RecordedAt))
}

func (r *txRepo) LoadMovement(ctx context.Context, id int64) (ledger.Movement, error) {
	return scanMovement(r.db.QueryRow(ctx, `SELECT `+movementColumns+` FROM ingredient_movements WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) VoidMovement(ctx context.Context, id int64, v Void) error {
	tag, err := r.db.Exec(ctx, `UPDATE ingredient_movements
		SET voided_at = $2, voided_by = $3, void_reason = $4
		WHERE id = $1 AND voided_at IS NULL`, id, v.At, v.ActorID, v.Reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: movement %d changed", ErrConcurrentTransition, id)
	}
	return nil
}

func (r *txRepo) ListMovements(ctx context.Context, dayID int64) ([]ledger.Movement, error) {
	return listMovements(ctx, r.db, dayID)
}

const saleColumns = `id, day_id, variant_id, quantity, unit_price, COALESCE(client_ref::text, ''),
	recorded_by, recorded_at, voided_at, voided_by, COALESCE(void_reason, ''), COALESCE(void_notes, '')`

func scanSale(row pgx.Row) (reconcile.RecordedSale, error) {
	var s reconcile.RecordedSale
	err := row.Scan(
		&s.ID, &s.DayID, &s.VariantID, &s.Quantity, &s.UnitPrice, &s.ClientRef,
		&s.RecordedBy, &s.RecordedAt, &s.VoidedAt, &s.VoidedBy, &s.VoidReason, &s.VoidNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reconcile.RecordedSale{}, ErrSaleNotFound
		}
		return reconcile.RecordedSale{}, err
	}
	return s, nil
}

func listSales(ctx context.Context, q db.DBTX, dayID int64) ([]reconcile.RecordedSale, error) {
	rows, err := q.Query(ctx, `SELECT `+saleColumns+` FROM recorded_sales WHERE day_id = $1 ORDER BY id`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reconcile.RecordedSale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertSale(ctx context.Context, sale reconcile.RecordedSale) (reconcile.RecordedSale, error) {
	return scanSale(r.db.QueryRow(ctx, `INSERT INTO recorded_sales
		(day_id, variant_id, quantity, unit_price, client_ref, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7)
		RETURNING `+saleColumns,
		sale.DayID, sale.VariantID, sale.Quantity, sale.UnitPrice, sale.ClientRef, sale.RecordedBy, sale.RecordedAt))
}

func (r *txRepo) LoadSale(ctx context.Context, id int64) (reconcile.RecordedSale, error) {
	return scanSale(r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM recorded_sales WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) VoidSale(ctx context.Context, id int64, v Void) error {
	tag, err := r.db.Exec(ctx, `UPDATE recorded_sales
		SET voided_at = $2, voided_by = $3, void_reason = $4, void_notes = NULLIF($5, '')
		WHERE id = $1 AND voided_at IS NULL`, id, v.At, v.ActorID, v.Reason, v.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d changed", ErrConcurrentTransition, id)
	}
	return nil
}

func (r *txRepo) ListSales(ctx context.Context, dayID int64) ([]reconcile.RecordedSale, error) {
	return listSales(ctx, r.db, dayID)
}

func (r *txRepo) FreezeDay(ctx context.Context, p FreezeParams) (DailyRecord, error) {
	payload, err := json.Marshal(p.Summary)
	if err != nil {
		return DailyRecord{}, fmt.Errorf("dayclose: encode summary: %w", err)
	}
	report := p.Summary.Reconciliation
	rec, err := scanDay(r.db.QueryRow(ctx, `UPDATE daily_records SET
			state = 'CLOSED',
			version = version + 1,
			closed_at = $3,
			closed_by = $4,
			summary = $5,
			recorded_revenue = $6,
			calculated_revenue = $7,
			discrepancy = $8,
			notes = CASE WHEN $9 = '' THEN notes ELSE $9 END,
			updated_at = $3
		WHERE id = $1 AND version = $2 AND state = 'OPEN'
		RETURNING `+dayColumns,
		p.DayID, p.ExpectedVersion, p.ClosedAt, p.ClosedBy, payload,
		report.RecordedTotal, report.CalculatedTotal, report.Discrepancy, p.Notes))
	return versioned(rec, err, p.DayID)
}

func (r *txRepo) ReopenDay(ctx context.Context, p ReopenParams) (DailyRecord, error) {
	rec, err := scanDay(r.db.QueryRow(ctx, `UPDATE daily_records SET
			state = 'OPEN',
			version = version + 1,
			reopened_at = $3,
			reopen_count = reopen_count + 1,
			updated_at = $3
		WHERE id = $1 AND version = $2 AND state = 'CLOSED'
		RETURNING `+dayColumns,
		p.DayID, p.ExpectedVersion, p.At))
	return versioned(rec, err, p.DayID)
}

// versioned turns a compare-and-set miss into a concurrency conflict.
func versioned(rec DailyRecord, err error, dayID int64) (DailyRecord, error) {
	if errors.Is(err, ErrDayNotFound) {
		return DailyRecord{}, fmt.Errorf("%w: day %d version changed", ErrConcurrentTransition, dayID)
	}
	return rec, err
}

func (r *txRepo) InsertReopenAudit(ctx context.Context, a ReopenAudit) (ReopenAudit, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO day_reopen_audits
		(day_id, actor_id, reason, previous_closed_at, reopened_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		a.DayID, a.ActorID, a.Reason, a.PreviousClosedAt, a.ReopenedAt).Scan(&a.ID)
	if err != nil {
		return ReopenAudit{}, err
	}
	return a, nil
}
