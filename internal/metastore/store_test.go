package metastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFactory struct {
	name string
	open func(t *testing.T) Store
	// ordered is true when Scan visits keys in lexicographic order.
	ordered bool
}

func engines() []engineFactory {
	return []engineFactory{
		{name: EngineBbolt, ordered: true, open: func(t *testing.T) Store {
			s, err := NewBboltStore(filepath.Join(t.TempDir(), "meta.db"))
			require.NoError(t, err)
			return s
		}},
		{name: EngineLevelDB, ordered: true, open: func(t *testing.T) Store {
			s, err := NewLevelDBStore(filepath.Join(t.TempDir(), "meta.ldb"))
			require.NoError(t, err)
			return s
		}},
		{name: EngineSQLite, ordered: true, open: func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta.sqlite"))
			require.NoError(t, err)
			return s
		}},
		{name: EngineRedis, ordered: false, open: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStoreWithClient(client, "test:")
		}},
		{name: EngineMemory, ordered: true, open: func(t *testing.T) Store {
			return NewMemoryStore()
		}},
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, s Store, ordered bool)) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s, e.ordered)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, _ bool) {
		v, ok, err := s.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})
}

func TestStore_PutGetOverwrite(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, _ bool) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "b1/k1", []byte("first")))
		v, ok, err := s.Get(ctx, "b1/k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("first"), v)

		require.NoError(t, s.Put(ctx, "b1/k1", []byte("second")))
		v, ok, err = s.Get(ctx, "b1/k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("second"), v)
	})
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, _ bool) {
		ctx := context.Background()

		require.NoError(t, s.Remove(ctx, "absent"))

		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		require.NoError(t, s.Remove(ctx, "k"))
		require.NoError(t, s.Remove(ctx, "k"))

		_, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_ScanPrefix(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, ordered bool) {
		ctx := context.Background()
		for _, k := range []string{"b1", "b1/a", "b1/c", "b1/b", "b10/x", "b2/a"} {
			require.NoError(t, s.Put(ctx, k, []byte("v:"+k)))
		}

		var keys []string
		err := s.Scan(ctx, "b1/", func(key string, value []byte) error {
			assert.Equal(t, "v:"+key, string(value))
			keys = append(keys, key)
			return nil
		})
		require.NoError(t, err)

		if !ordered {
			sort.Strings(keys)
		}
		assert.Equal(t, []string{"b1/a", "b1/b", "b1/c"}, keys)
	})
}

func TestStore_ScanStopsOnError(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, _ bool) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Put(ctx, fmt.Sprintf("p/%d", i), []byte("v")))
		}

		stop := errors.New("stop")
		calls := 0
		err := s.Scan(ctx, "p/", func(string, []byte) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})
}

func TestStore_ConcurrentPuts(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store, _ bool) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("c/%02d", i)
				assert.NoError(t, s.Put(ctx, key, []byte(key)))
			}(i)
		}
		wg.Wait()

		count := 0
		require.NoError(t, s.Scan(ctx, "c/", func(string, []byte) error {
			count++
			return nil
		}))
		assert.Equal(t, 20, count)
	})
}

func TestBboltStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")

	s, err := NewBboltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "bucket", []byte("record")))
	require.NoError(t, s.Close())

	s, err = NewBboltStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "bucket")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("record"), v)
}

func TestLevelDBStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "meta.ldb")

	s, err := NewLevelDBStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "bucket", []byte("record")))
	require.NoError(t, s.Close())

	s, err = NewLevelDBStore(dir)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "bucket")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("record"), v)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put(context.Background(), "k", nil), ErrClosed)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, engine := range []string{EngineBbolt, EngineLevelDB, EngineSQLite, EngineMemory, ""} {
		t.Run("engine="+engine, func(t *testing.T) {
			s, err := Open(ctx, Options{Engine: engine, Dir: filepath.Join(dir, "e-"+engine)})
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, "k", []byte("v")))
			require.NoError(t, s.Close())
		})
	}

	_, err := Open(ctx, Options{Engine: "cassandra", Dir: dir})
	assert.ErrorContains(t, err, "unknown metadata engine")
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, Options{Engine: EngineRedis, Redis: RedisConfig{Addr: mr.Addr(), Prefix: "kv:"}})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "b1", []byte("v")))
	got, err := mr.Get("kv:b1")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestPrefixUpperBound(t *testing.T) {
	upper, ok := prefixUpperBound("b1/")
	assert.True(t, ok)
	assert.Equal(t, "b10", upper)

	_, ok = prefixUpperBound("")
	assert.False(t, ok)

	_, ok = prefixUpperBound("\xff\xff")
	assert.False(t, ok)
}
