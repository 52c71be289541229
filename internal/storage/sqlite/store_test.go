package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDimensions(t *testing.T) {
	tests := []struct {
		name          string
		stored        int
		requested     int
		allowDeferred bool
		want          int
		wantMismatch  bool
		wantUnknown   bool
	}{
		{name: "both equal", stored: 384, requested: 384, want: 384},
		{name: "both differ", stored: 384, requested: 768, wantMismatch: true},
		{name: "stored only", stored: 384, want: 384},
		{name: "requested only", requested: 768, want: 768},
		{name: "neither, deferred", allowDeferred: true, want: 0},
		{name: "neither", wantUnknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDimensions(tt.stored, tt.requested, tt.allowDeferred)
			switch {
			case tt.wantMismatch:
				var mismatch *core.DimensionMismatchError
				require.ErrorAs(t, err, &mismatch)
				assert.Equal(t, tt.stored, mismatch.Stored)
				assert.Equal(t, tt.requested, mismatch.Requested)
			case tt.wantUnknown:
				assert.ErrorIs(t, err, core.ErrDimensionsUnknown)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestOpen_LegacyStoreGetsDefaultWidth(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	s, err := Open(ctx, path, Options{AllowDeferred: true})
	require.NoError(t, err)
	// A row written before dimensions were tracked
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (source, ordinal, text, created_at) VALUES ('old.md', 0, 'old text', 0)`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, LegacyDimensions, s.Dimensions())

	raw, ok, err := s.GetMeta(ctx, core.MetaDimensions)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "384", raw)
	require.NoError(t, s.Close())

	// Recorded now: a different request is a mismatch
	_, err = Open(ctx, path, Options{Dimensions: 768})
	var mismatch *core.DimensionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestOpen_EmptyStoreStaysDeferred(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.db")

	s, err := Open(ctx, path, Options{AllowDeferred: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, s.Dimensions())
	hits, err := s.Query(ctx, []float32{1, 0}, 3, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIsBusyError(t *testing.T) {
	assert.True(t, IsBusyError(errors.New("database is locked")))
	assert.True(t, IsBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusyError(errors.New("UNIQUE constraint failed: memories.uid")))
	assert.False(t, IsBusyError(nil))
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard("docs/*.md"))
	assert.True(t, IsWildcard("file?.txt"))
	assert.False(t, IsWildcard("https://example.com/page"))
}
