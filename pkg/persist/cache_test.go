package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/pkg/encryption"
	"github.com/benmeehan/thinq-agent/pkg/file"
)

func newCaches(t *testing.T) map[string]Cache {
	t.Helper()
	fs := file.NewFileService()

	fileCache, err := NewFileCache(filepath.Join(t.TempDir(), "files"), fs, nil, zerolog.Nop())
	require.NoError(t, err)

	sqliteCache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), fs, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqliteCache.Close() })

	return map[string]Cache{
		"file":   fileCache,
		"sqlite": sqliteCache,
		"memory": NewMemoryCache(),
	}
}

func TestCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Get(ctx, "model/abc")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "model/abc", []byte(`{"Value":{}}`)))
			require.NoError(t, c.Set(ctx, "model/abc", []byte(`{"Value":{"a":1}}`)))

			got, ok, err := c.Get(ctx, "model/abc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"Value":{"a":1}}`, string(got))

			require.NoError(t, c.Delete(ctx, "model/abc"))
			require.NoError(t, c.Delete(ctx, "model/abc"))
			_, ok, err = c.Get(ctx, "model/abc")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_ComputeIfAbsentForever(t *testing.T) {
	ctx := context.Background()
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			compute := func(context.Context) ([]byte, error) {
				calls.Add(1)
				return []byte("pem"), nil
			}

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := c.ComputeIfAbsentForever(ctx, "keys", compute)
					assert.NoError(t, err)
					assert.Equal(t, "pem", string(v))
				}()
			}
			wg.Wait()

			v, err := c.ComputeIfAbsentForever(ctx, "keys", compute)
			require.NoError(t, err)
			assert.Equal(t, "pem", string(v))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCache_ComputeErrorIsNotStored(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	boom := errors.New("boom")

	_, err := c.ComputeIfAbsentForever(ctx, "csr", func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCacheForever_JSON(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	type pair struct {
		Private string `json:"private"`
	}

	first, err := CacheForever(ctx, c, "keys", func(context.Context) (pair, error) {
		return pair{Private: "one"}, nil
	})
	require.NoError(t, err)

	second, err := CacheForever(ctx, c, "keys", func(context.Context) (pair, error) {
		return pair{Private: "two"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, ok, err := GetJSON[pair](ctx, c, "keys")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", got.Private)

	require.NoError(t, SetJSON(ctx, c, "keys", pair{Private: "three"}))
	got, _, _ = GetJSON[pair](ctx, c, "keys")
	assert.Equal(t, "three", got.Private)
}

func TestFileCache_Encrypted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := file.NewFileService()

	enc := encryption.NewEncryptionManager(fs)
	require.NoError(t, enc.InitializeWithSecret([]byte("cache secret")))

	c, err := NewFileCache(dir, fs, enc, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "session", []byte(`{"refresh_token":"r1"}`)))

	raw, err := fs.ReadFileRaw(filepath.Join(dir, "session.cache"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "r1")

	got, ok, err := c.Get(ctx, "session")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"refresh_token":"r1"}`, string(got))
}
