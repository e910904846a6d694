package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// PgRepository membaca audit_logs dari PostgreSQL.
type PgRepository struct {
	db db.DBTX
}

// NewRepository membuat repository audit berbasis pgx.
func NewRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

// TimelineWindow mengambil satu halaman audit_logs, terbaru lebih dulu.
func (r *PgRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if !arg.From.IsZero() {
		add("occurred_at >= $%d", arg.From)
	}
	if !arg.To.IsZero() {
		add("occurred_at < $%d", arg.To)
	}
	if arg.ActorID != 0 {
		add("actor_id = $%d", arg.ActorID)
	}
	if arg.Entity != "" {
		add("entity = $%d", arg.Entity)
	}
	if arg.EntityID != "" {
		add("entity_id = $%d", arg.EntityID)
	}
	if arg.Action != "" {
		add("action = $%d", arg.Action)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, arg.LimitRows, arg.OffsetRows)
	query := fmt.Sprintf(`SELECT occurred_at, actor_id, action, entity, entity_id, meta
		FROM audit_logs %s
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
