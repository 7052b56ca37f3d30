package objectstore

import (
	"context"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_RemovesOverwriteOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createBucket(t, "b1")

	b1 := []byte(`{"v":1}`)
	b2 := []byte(`{"v":2}`)
	f.put(t, "b1", "k1", b1, "application/json")
	f.put(t, "b1", "k1", b2, "application/json")
	f.put(t, "b1", "k2", []byte("hello"), "text/plain")

	orphan := HashBytes(b1)[:2] + "/k1"

	dry, err := f.store.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.BlobsScanned)
	assert.Equal(t, 2, dry.RecordsScanned)
	assert.Equal(t, []string{orphan}, dry.Orphans)
	assert.Equal(t, 0, dry.OrphansDeleted)
	assert.FileExists(t, f.blobPath(HashBytes(b1), "k1"))

	res, err := f.store.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrphansDeleted)
	assert.Equal(t, int64(len(b1)), res.BytesReclaimed)
	assert.NoFileExists(t, f.blobPath(HashBytes(b1), "k1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrphansPurged))

	data, _, _ := f.read(t, "b1", "k1")
	assert.Equal(t, string(b2), data)
	data, _, _ = f.read(t, "b1", "k2")
	assert.Equal(t, "hello", data)
}

func TestReconcile_ReportsMissingBlobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createBucket(t, "b1")
	f.put(t, "b1", "k1", []byte("hello"), "text/plain")
	require.NoError(t, os.Remove(f.blobPath(helloHash, "k1")))

	res, err := f.store.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{helloHash[:2] + "/k1"}, res.MissingBlobs)
	assert.Empty(t, res.Orphans)

	// The record is left for delete to clear.
	_, err = f.store.Stat(ctx, "b1", "k1")
	assert.NoError(t, err)
}

func TestReconcile_SkipsUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createBucket(t, "b1")
	require.NoError(t, f.meta.Put(ctx, "b1/bad", []byte{0xff}))

	res, err := f.store.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnreadableCount)
}

func TestReconcile_Empty(t *testing.T) {
	f := newFixture(t)

	res, err := f.store.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.BlobsScanned)
	assert.Empty(t, res.Orphans)
}
