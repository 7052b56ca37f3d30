package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/kvblob/internal/blobstore"
	"github.com/kilupskalvis/kvblob/internal/bucket"
	"github.com/kilupskalvis/kvblob/internal/metastore"
	"github.com/kilupskalvis/kvblob/internal/metrics"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type fixture struct {
	store   *Store
	buckets *bucket.Registry
	meta    *metastore.MemoryStore
	blobs   *blobstore.Layout
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...blobstore.OptionFunc) *fixture {
	t.Helper()
	meta := metastore.NewMemoryStore()
	blobs, err := blobstore.NewLayout(filepath.Join(t.TempDir(), "data"), opts...)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	buckets := bucket.NewRegistry(meta)
	return &fixture{
		store:   New(meta, buckets, blobs, WithMetrics(m)),
		buckets: buckets,
		meta:    meta,
		blobs:   blobs,
		metrics: m,
	}
}

func (f *fixture) createBucket(t *testing.T, name string) {
	t.Helper()
	_, err := f.buckets.Create(context.Background(), name, nil)
	require.NoError(t, err)
}

func (f *fixture) put(t *testing.T, bucketName, key string, body []byte, contentType string) {
	t.Helper()
	_, _, err := f.store.Put(context.Background(), PutInput{
		Bucket:      bucketName,
		Key:         key,
		Body:        body,
		Hash:        HashBytes(body),
		ContentType: contentType,
	})
	require.NoError(t, err)
}

func (f *fixture) read(t *testing.T, bucketName, key string) (string, string, string) {
	t.Helper()
	obj, rc, size, err := f.store.Get(context.Background(), bucketName, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	return string(data), obj.Hash, obj.ContentType
}

func (f *fixture) blobPath(hash, key string) string {
	shard, _ := blobstore.Shard(hash)
	return f.blobs.Path(shard, key)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, helloHash, HashBytes([]byte("hello")))
}

func TestPutGet_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	payloads := [][]byte{
		{},
		[]byte("hello"),
		[]byte(strings.Repeat("abc", 10000)),
		{0x00, 0xff, 0x10, 0x00},
	}
	for i, body := range payloads {
		key := "k" + string(rune('a'+i))
		f.put(t, "b1", key, body, "application/x-test")

		data, hash, ct := f.read(t, "b1", key)
		assert.Equal(t, string(body), data)
		assert.Equal(t, HashBytes(body), hash)
		assert.Equal(t, "application/x-test", ct)
	}
}

func TestPut_ReturnsRecord(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	f.store.now = func() time.Time { return ts }

	obj, record, err := f.store.Put(context.Background(), PutInput{
		Bucket: "b1", Key: "k1", Body: []byte("hello"),
		Hash: strings.ToUpper(helloHash), Tags: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, helloHash, obj.Hash)
	assert.Equal(t, DefaultContentType, obj.ContentType)

	var m map[string]any
	require.NoError(t, json.Unmarshal(record, &m))
	assert.Equal(t, "2026-05-06T07:08:09Z", m["created_at"])
	assert.Equal(t, helloHash, m["hash"])
	assert.Equal(t, []any{"a", "b"}, m["tags"])
}

func TestPut_HashMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	wrong := "deadbeef"
	_, _, err := f.store.Put(context.Background(), PutInput{
		Bucket: "b1", Key: "k1", Body: []byte("hello"), Hash: wrong,
	})
	assert.ErrorIs(t, err, storeerr.ErrHashMismatch)

	assert.NoFileExists(t, f.blobPath(wrong, "k1"))
	assert.NoFileExists(t, f.blobPath(helloHash, "k1"))
	_, err = f.store.Stat(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreErrors.WithLabelValues("put object", "hash_mismatch")))
}

func TestPut_InvalidHash(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	for _, h := range []string{"", "a", "zz" + helloHash[2:], helloHash[:10] + "g"} {
		_, _, err := f.store.Put(context.Background(), PutInput{
			Bucket: "b1", Key: "k1", Body: []byte("hello"), Hash: h,
		})
		assert.ErrorIs(t, err, storeerr.ErrValidation, "hash %q", h)
	}
	assert.Equal(t, 1, f.meta.Len())
}

func TestPut_BucketMissing(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.store.Put(context.Background(), PutInput{
		Bucket: "nope", Key: "k1", Body: []byte("hello"), Hash: helloHash,
	})
	assert.ErrorIs(t, err, storeerr.ErrBucketNotFound)
	assert.Equal(t, 0, f.meta.Len())
	assert.NoFileExists(t, f.blobPath(helloHash, "k1"))
}

func TestPut_PreconditionOrder(t *testing.T) {
	f := newFixture(t)

	// Missing bucket wins over a bad key and a bad hash.
	_, _, err := f.store.Put(context.Background(), PutInput{Bucket: "nope", Key: "../x", Hash: "zz"})
	assert.ErrorIs(t, err, storeerr.ErrBucketNotFound)

	// A malformed bucket name is rejected before the lookup.
	_, _, err = f.store.Put(context.Background(), PutInput{Bucket: "a/b", Key: "k", Hash: helloHash})
	assert.ErrorIs(t, err, storeerr.ErrValidation)

	f.createBucket(t, "b1")
	_, _, err = f.store.Put(context.Background(), PutInput{Bucket: "b1", Key: "../x", Body: []byte("hello"), Hash: helloHash})
	assert.ErrorIs(t, err, storeerr.ErrValidation)
}

func TestPut_Overwrite_OrphansOldShard(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	b1 := []byte(`{"v":1}`)
	b2 := []byte(`{"v":2}`)
	h1, h2 := HashBytes(b1), HashBytes(b2)
	require.NotEqual(t, h1[:2], h2[:2], "payloads must land in different shards")

	f.put(t, "b1", "k1", b1, "application/json")
	f.put(t, "b1", "k1", b2, "application/json")

	data, hash, _ := f.read(t, "b1", "k1")
	assert.Equal(t, string(b2), data)
	assert.Equal(t, h2, hash)

	// The first version stays on disk in its own shard.
	assert.FileExists(t, f.blobPath(h1, "k1"))
	old, err := os.ReadFile(f.blobPath(h1, "k1"))
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(old))
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	_, _, _, err := f.store.Get(context.Background(), "b1", "missing")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)
}

func TestGet_MissingBlobIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")

	require.NoError(t, os.Remove(f.blobPath(helloHash, "k1")))

	_, _, _, err := f.store.Get(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrInconsistent)
	assert.NotErrorIs(t, err, storeerr.ErrObjectNotFound)
}

func TestGet_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	require.NoError(t, f.meta.Put(context.Background(), "b1/k1", []byte{0xff}))

	_, _, _, err := f.store.Get(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrEncoding)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")

	require.NoError(t, f.store.Delete(context.Background(), "b1", "k1"))

	_, _, _, err := f.store.Get(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)
	assert.NoFileExists(t, f.blobPath(helloHash, "k1"))
	assert.NoDirExists(t, filepath.Join(f.blobs.Root(), helloHash[:2]))

	err = f.store.Delete(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)
}

func TestDelete_KeepsNonEmptyShard(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")
	f.put(t, "b1", "k2", []byte("hello"), "text/plain")

	require.NoError(t, f.store.Delete(context.Background(), "b1", "k1"))

	data, _, _ := f.read(t, "b1", "k2")
	assert.Equal(t, "hello", data)
}

func TestDelete_RepairsMissingBlob(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")
	require.NoError(t, os.Remove(f.blobPath(helloHash, "k1")))

	require.NoError(t, f.store.Delete(context.Background(), "b1", "k1"))

	_, err := f.store.Stat(context.Background(), "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)
}

func TestDelete_OnlyCurrentShard(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")

	b1 := []byte(`{"v":1}`)
	b2 := []byte(`{"v":2}`)
	f.put(t, "b1", "k1", b1, "application/json")
	f.put(t, "b1", "k1", b2, "application/json")

	require.NoError(t, f.store.Delete(context.Background(), "b1", "k1"))
	assert.NoFileExists(t, f.blobPath(HashBytes(b2), "k1"))
	assert.FileExists(t, f.blobPath(HashBytes(b1), "k1"))
}

func TestStagedWrites(t *testing.T) {
	f := newFixture(t, blobstore.WithStagedWrites(true))
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")

	data, _, _ := f.read(t, "b1", "k1")
	assert.Equal(t, "hello", data)
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// 1. create_bucket with tags.
	_, err := f.buckets.Create(ctx, "b1", []string{"env:prod"})
	require.NoError(t, err)
	b, err := f.buckets.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"env:prod"}, b.Tags)

	// 2. put then get "hello".
	_, _, err = f.store.Put(ctx, PutInput{Bucket: "b1", Key: "k1", Body: []byte("hello"), Hash: helloHash, ContentType: "text/plain", Tags: []string{}})
	require.NoError(t, err)
	data, hash, _ := f.read(t, "b1", "k1")
	assert.Equal(t, "hello", data)
	assert.Equal(t, helloHash, hash)

	// 3. a bad hash leaves the stored version alone.
	_, _, err = f.store.Put(ctx, PutInput{Bucket: "b1", Key: "k1", Body: []byte("hello"), Hash: "deadbeef", ContentType: "text/plain"})
	assert.ErrorIs(t, err, storeerr.ErrHashMismatch)
	data, hash, ct := f.read(t, "b1", "k1")
	assert.Equal(t, "hello", data)
	assert.Equal(t, helloHash, hash)
	assert.Equal(t, "text/plain", ct)

	// 4. delete then get.
	require.NoError(t, f.store.Delete(ctx, "b1", "k1"))
	_, _, _, err = f.store.Get(ctx, "b1", "k1")
	assert.ErrorIs(t, err, storeerr.ErrObjectNotFound)

	// 5. overwrite with a different hash.
	b1 := []byte(`{"n":1}`)
	b2 := []byte(`{"n":2}`)
	f.put(t, "b1", "k1", b1, "application/json")
	f.put(t, "b1", "k1", b2, "application/json")
	data, _, _ = f.read(t, "b1", "k1")
	assert.Equal(t, string(b2), data)
	assert.FileExists(t, f.blobPath(HashBytes(b1), "k1"))
}

func TestMetrics_Bytes(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")
	f.read(t, "b1", "k1")

	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.BytesUploaded))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.BytesDownloaded))
}
