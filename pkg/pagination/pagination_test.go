package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-4))
	require.Equal(t, 10, NormalizeLimit(10))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	encoded := EncodeCursor(Cursor{UpdatedAt: at, ID: 42})

	decoded, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	require.True(t, decoded.UpdatedAt.Equal(at))
	require.EqualValues(t, 42, decoded.ID)
}

func TestParseCursorInvalid(t *testing.T) {
	c, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = ParseCursor("!!not-base64!!")
	require.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{UpdatedAt: time.Now(), ID: 0}))
	require.Error(t, err)
}
