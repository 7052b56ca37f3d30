// Package objectstore implements put, get and delete of objects: hash
// verification, blob placement through the sharded layout, and the object
// record in the metadata store.
package objectstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/minio/sha256-simd"

	"github.com/kilupskalvis/kvblob/internal/blobstore"
	"github.com/kilupskalvis/kvblob/internal/bucket"
	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/metastore"
	"github.com/kilupskalvis/kvblob/internal/metrics"
	"github.com/kilupskalvis/kvblob/internal/models"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

// DefaultContentType is recorded when a put carries no content type.
const DefaultContentType = "application/octet-stream"

// PutInput describes one upload.
type PutInput struct {
	Bucket      string
	Key         string
	Body        []byte
	Hash        string // declared SHA-256, hex, any case
	ContentType string
	Tags        []string
}

// Store coordinates the bucket registry, the blob layout and the metadata
// store. It holds no locks of its own: blob and record are written in two
// steps, blob first, and concurrent puts to one key may briefly leave a
// record pointing at a blob in another shard.
type Store struct {
	meta    metastore.Store
	buckets *bucket.Registry
	blobs   *blobstore.Layout
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an object store. buckets must share meta.
func New(meta metastore.Store, buckets *bucket.Registry, blobs *blobstore.Layout, opts ...Option) *Store {
	s := &Store{
		meta:    meta,
		buckets: buckets,
		blobs:   blobs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put verifies in.Body against in.Hash and stores it. Nothing is written
// unless the bucket exists and the hash matches.
func (s *Store) Put(ctx context.Context, in PutInput) (obj *models.Object, record []byte, err error) {
	const op = "put object"
	defer s.observe(op, &err)

	if err := bucket.ValidateName(in.Bucket); err != nil {
		return nil, nil, storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}
	exists, err := s.buckets.Exists(ctx, in.Bucket)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, storeerr.Newf(storeerr.KindBucketNotFound, op, "bucket %q not found", in.Bucket)
	}
	if err := blobstore.ValidateKey(in.Key); err != nil {
		return nil, nil, storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}

	shard, err := blobstore.Shard(in.Hash)
	if err != nil {
		return nil, nil, storeerr.New(storeerr.KindValidation, op, "x-hash must be a hex SHA-256 digest", err)
	}
	declared := strings.ToLower(in.Hash)
	if !isHexString(declared) {
		return nil, nil, storeerr.Newf(storeerr.KindValidation, op, "x-hash must be a hex SHA-256 digest")
	}

	actual := HashBytes(in.Body)
	if actual != declared {
		return nil, nil, storeerr.Newf(storeerr.KindHashMismatch, op,
			"content hash %s does not match declared hash %s", actual, declared)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, storeerr.New(storeerr.KindInternal, op, "request cancelled", err)
	}

	if _, err := s.blobs.Write(ctx, shard, in.Key, bytes.NewReader(in.Body)); err != nil {
		return nil, nil, storeerr.New(storeerr.KindIO, op, "write blob", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	obj = &models.Object{
		Bucket:      in.Bucket,
		Key:         in.Key,
		CreatedAt:   s.now().UTC(),
		Tags:        tags,
		Hash:        declared,
		ContentType: contentType,
	}

	data, err := models.EncodeObject(obj)
	if err != nil {
		return nil, nil, storeerr.New(storeerr.KindEncoding, op, "encode object record", err)
	}
	if err := s.meta.Put(ctx, models.ObjectKey(in.Bucket, in.Key), data); err != nil {
		return nil, nil, storeerr.New(storeerr.KindIO, op, "persist object record", err)
	}

	record, err = models.ObjectJSON(obj)
	if err != nil {
		return nil, nil, storeerr.New(storeerr.KindEncoding, op, "render object record", err)
	}

	s.metrics.AddUploaded(len(in.Body))
	logger.Ctx(ctx).Debug().
		Str("bucket", in.Bucket).
		Str("key", in.Key).
		Str("hash", declared).
		Int("size", len(in.Body)).
		Msg("object stored")
	return obj, record, nil
}

// Get returns the object record and an open reader over its bytes. The
// caller closes the reader.
func (s *Store) Get(ctx context.Context, bucketName, key string) (obj *models.Object, body io.ReadSeekCloser, size int64, err error) {
	const op = "get object"
	defer s.observe(op, &err)

	obj, shard, err := s.lookup(ctx, op, bucketName, key)
	if err != nil {
		return nil, nil, 0, err
	}

	f, size, err := s.blobs.Open(ctx, shard, key)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, 0, storeerr.Newf(storeerr.KindInconsistent, op,
			"record %s exists but blob %s/%s is missing", models.ObjectKey(bucketName, key), shard, key)
	}
	if err != nil {
		return nil, nil, 0, storeerr.New(storeerr.KindIO, op, "open blob", err)
	}

	s.metrics.AddDownloaded(size)
	return obj, f, size, nil
}

// Stat returns the object record without opening the blob.
func (s *Store) Stat(ctx context.Context, bucketName, key string) (*models.Object, error) {
	obj, _, err := s.lookup(ctx, "stat object", bucketName, key)
	return obj, err
}

// Delete removes the object's blob and then its record. A blob that is
// already gone does not block removal of the record.
func (s *Store) Delete(ctx context.Context, bucketName, key string) (err error) {
	const op = "delete object"
	defer s.observe(op, &err)

	_, shard, err := s.lookup(ctx, op, bucketName, key)
	if err != nil {
		return err
	}

	log := logger.Ctx(ctx)
	err = s.blobs.Remove(ctx, shard, key)
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		log.Warn().Str("bucket", bucketName).Str("key", key).Str("shard", shard).
			Msg("blob already missing, removing record")
	case err != nil:
		return storeerr.New(storeerr.KindIO, op, "remove blob", err)
	}

	if err := s.blobs.RemoveShardIfEmpty(shard); err != nil {
		log.Debug().Str("shard", shard).Err(err).Msg("shard directory kept")
	}

	if err := s.meta.Remove(ctx, models.ObjectKey(bucketName, key)); err != nil {
		return storeerr.New(storeerr.KindIO, op, "remove object record", err)
	}

	log.Debug().Str("bucket", bucketName).Str("key", key).Msg("object deleted")
	return nil
}

// lookup validates the names, loads the record and derives its shard.
func (s *Store) lookup(ctx context.Context, op, bucketName, key string) (*models.Object, string, error) {
	if err := bucket.ValidateName(bucketName); err != nil {
		return nil, "", storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}
	if err := blobstore.ValidateKey(key); err != nil {
		return nil, "", storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}

	metaKey := models.ObjectKey(bucketName, key)
	data, ok, err := s.meta.Get(ctx, metaKey)
	if err != nil {
		return nil, "", storeerr.New(storeerr.KindIO, op, "read object record", err)
	}
	if !ok {
		return nil, "", storeerr.Newf(storeerr.KindObjectNotFound, op, "object %s not found", metaKey)
	}

	obj, err := models.DecodeObject(bucketName, key, data)
	if err != nil {
		return nil, "", storeerr.New(storeerr.KindEncoding, op, "corrupt object record", err)
	}
	shard, err := blobstore.Shard(obj.Hash)
	if err != nil {
		return nil, "", storeerr.New(storeerr.KindEncoding, op, "stored hash is invalid", err)
	}
	return obj, shard, nil
}

func (s *Store) observe(op string, errp *error) {
	if *errp != nil {
		s.metrics.StoreError(op, storeerr.KindOf(*errp).Code())
	}
}

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9') && !('a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
