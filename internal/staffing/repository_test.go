package staffing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

type stubQuerier struct {
	row  boolRow
	args []any
}

func (s *stubQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	s.args = args
	return s.row
}

func TestHasConfirmedShift(t *testing.T) {
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	q := &stubQuerier{row: boolRow{value: true}}
	ok, err := NewRepository(q).HasConfirmedShift(context.Background(), date)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{date}, q.args)

	q.row = boolRow{err: errors.New("conn refused")}
	_, err = NewRepository(q).HasConfirmedShift(context.Background(), date)
	require.ErrorContains(t, err, "conn refused")
}
