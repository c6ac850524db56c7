package utils_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-middle-layer/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "", utils.ToString(nil))
	require.Equal(t, "abc", utils.ToString("abc"))
	require.Equal(t, "raw", utils.ToString([]byte("raw")))
	require.Equal(t, "42", utils.ToString(int32(42)))
	require.Equal(t, "true", utils.ToString(true))
	require.Equal(t, "2024-03-01T10:00:00Z", utils.ToString(ts))
}
