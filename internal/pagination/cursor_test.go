package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	cursor, err := Decode(Encode(ts, "usr_abc123"))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, "usr_abc123", cursor.ID)
}

func TestDecodeEmptyMeansFirstPage(t *testing.T) {
	cursor, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, tok := range []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":1}`)), // no id
	} {
		_, err := Decode(tok)
		assert.ErrorIs(t, err, ErrInvalidCursor, "token %q", tok)
	}
}

func TestComputePageNoMore(t *testing.T) {
	items := []string{"a", "b", "c"}
	page, next, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, hasMore)
}

func TestComputePageHasMore(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	page, next, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Len(t, page, 3)
	require.NotEmpty(t, next)
	assert.True(t, hasMore)

	// The cursor names the last row actually served, not the overfetched one
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}

func TestComputePageExactLimit(t *testing.T) {
	items := []string{"a", "b", "c"}
	page, next, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, hasMore)
}
