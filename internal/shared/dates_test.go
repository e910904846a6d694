package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseBusinessDate(t *testing.T) {
	got, err := ParseBusinessDate(" 2024-02-29 ")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseBusinessDate("29/02/2024")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestBusinessDateAt(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2024, 5, 1, 20, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), BusinessDateAt(now, loc))
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), BusinessDateAt(now, nil))
}
