package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
		// docker client keep-alive connections in the integration suite
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// kvContract runs the behaviour every store must share.
func kvContract(t *testing.T, store KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	value, found, err := store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)

	require.NoError(t, store.Set(ctx, "authToken", "t1"))
	require.NoError(t, store.Set(ctx, "user", `{"id":"u1","email":"a@b.com"}`))

	value, found, err = store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "t1", value)

	// last write wins
	require.NoError(t, store.Set(ctx, "authToken", "t2"))
	value, _, err = store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.Equal(t, "t2", value)

	require.NoError(t, store.Remove(ctx, "authToken"))
	_, found, err = store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, found)

	// removing twice is fine
	require.NoError(t, store.Remove(ctx, "authToken"))

	value, found, err = store.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"id":"u1","email":"a@b.com"}`, value)

	_, _, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, store.Set(ctx, "", "x"), ErrEmptyKey)
	assert.ErrorIs(t, store.Remove(ctx, ""), ErrEmptyKey)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(0)
	kvContract(t, store)
	assert.Equal(t, int64(1), store.Len())
}

func TestMemoryStore_EmptyValue(t *testing.T) {
	store := NewMemoryStore(1024 * 1024)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "authToken", ""))
	value, found, err := store.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, value)
}
