package guard

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	for _, d := range defaults {
		_, ok := os.LookupEnv(d.key)
		require.True(t, ok, d.key)
	}
	require.NotEqual(t, "0", os.Getenv("BACKOFFICE_TEST_MODE"))
}
