package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ReadWriteDelete(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Read(ctx, "issues/missing.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "issues/one.yaml", []byte("title: one")))

	data, err := s.Read(ctx, "issues/one.yaml")
	require.NoError(t, err)
	assert.Equal(t, "title: one", string(data))

	exists, err := s.Exists(ctx, "issues/one.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "issues/one.yaml"))
	_, err = s.Read(ctx, "issues/one.yaml")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "issues/one.yaml"), ErrNotFound)
}

func TestLocal_Overwrite(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "a.yaml", []byte("v1")))
	require.NoError(t, s.Write(ctx, "a.yaml", []byte("v2")))

	data, err := s.Read(ctx, "a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestLocal_ListRecursive(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "issues/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "issues/nested/b.yaml", []byte("b")))
	require.NoError(t, s.Write(ctx, "sessions/c.yaml", []byte("c")))

	paths, err := s.List(ctx, "issues")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"issues/a.yaml", "issues/nested/b.yaml"}, paths)

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocal_PathCannotEscapeRoot(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "../escape.yaml", []byte("x")))
	data, err := s.Read(ctx, "escape.yaml")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
