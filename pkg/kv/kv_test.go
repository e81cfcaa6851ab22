package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })

	mr := miniredis.RunT(t)
	rd := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "deliverymap:")
	t.Cleanup(func() { _ = rd.Close() })

	return map[string]Store{"sqlite": lite, "redis": rd}
}

func TestStore_MissingKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "routePoints")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PutOverwriteDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "newspaperPoints", []byte(`[{"id":1}]`)))
			require.NoError(t, s.Put(ctx, "newspaperPoints", []byte(`[]`)))

			got, err := s.Get(ctx, "newspaperPoints")
			require.NoError(t, err)
			require.Equal(t, "[]", string(got))

			require.NoError(t, s.Delete(ctx, "newspaperPoints"))
			_, err = s.Get(ctx, "newspaperPoints")
			require.ErrorIs(t, err, ErrNotFound)

			// deleting twice is fine
			require.NoError(t, s.Delete(ctx, "newspaperPoints"))
		})
	}
}

func TestRedis_UsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rd := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dm:")
	defer rd.Close()

	require.NoError(t, rd.Put(context.Background(), "routePoints", []byte("[]")))
	v, err := mr.Get("dm:routePoints")
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	rd, err := DialRedis(context.Background(), addr, "", 0, "")
	require.NoError(t, err)
	defer rd.Close()

	mr.Close()
	_, err = DialRedis(context.Background(), addr, "", 0, "")
	require.Error(t, err)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
