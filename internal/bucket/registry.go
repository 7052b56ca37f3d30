// Package bucket manages bucket records in the metadata store.
package bucket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/metastore"
	"github.com/kilupskalvis/kvblob/internal/metrics"
	"github.com/kilupskalvis/kvblob/internal/models"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

// MaxNameLength bounds bucket names.
const MaxNameLength = 255

// ValidateName checks that name can be used as a bucket record key. Object
// records are keyed "bucket/key", so a bucket name must not contain '/'.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("bucket name cannot be empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("bucket name exceeds %d bytes", MaxNameLength)
	case name == "." || name == "..":
		return fmt.Errorf("invalid bucket name %q", name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("bucket name cannot contain path separators")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("null bytes not allowed")
	}
	return nil
}

// Registry creates and looks up buckets.
//
// Create checks for an existing record and then writes one in two separate
// store calls. Two concurrent creates of the same name may both succeed,
// the later write winning.
type Registry struct {
	meta    metastore.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records bucket creations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a registry backed by meta.
func NewRegistry(meta metastore.Store, opts ...Option) *Registry {
	r := &Registry{meta: meta, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create persists a new bucket.
func (r *Registry) Create(ctx context.Context, name string, tags []string) (*models.Bucket, error) {
	const op = "create bucket"

	if err := ValidateName(name); err != nil {
		return nil, storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}

	exists, err := r.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, storeerr.Newf(storeerr.KindBucketAlreadyExists, op, "bucket %q already exists", name)
	}

	if tags == nil {
		tags = []string{}
	}
	b := &models.Bucket{
		Name:      name,
		CreatedAt: r.now().UTC(),
		Tags:      tags,
	}
	data, err := models.EncodeBucket(b)
	if err != nil {
		return nil, storeerr.New(storeerr.KindEncoding, op, "encode bucket record", err)
	}
	if err := r.meta.Put(ctx, name, data); err != nil {
		return nil, storeerr.New(storeerr.KindIO, op, "persist bucket record", err)
	}

	r.metrics.BucketCreated()
	logger.Ctx(ctx).Debug().Str("bucket", name).Int("tags", len(tags)).Msg("bucket created")
	return b, nil
}

// Get returns the bucket record for name.
func (r *Registry) Get(ctx context.Context, name string) (*models.Bucket, error) {
	const op = "get bucket"

	if err := ValidateName(name); err != nil {
		return nil, storeerr.New(storeerr.KindValidation, op, err.Error(), nil)
	}

	data, ok, err := r.meta.Get(ctx, name)
	if err != nil {
		return nil, storeerr.New(storeerr.KindIO, op, "read bucket record", err)
	}
	if !ok {
		return nil, storeerr.Newf(storeerr.KindBucketNotFound, op, "bucket %q not found", name)
	}

	b, err := models.DecodeBucket(name, data)
	if err != nil {
		return nil, storeerr.New(storeerr.KindEncoding, op, "corrupt bucket record", err)
	}
	return b, nil
}

// Exists reports whether a bucket record exists for name.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := r.meta.Get(ctx, name)
	if err != nil {
		return false, storeerr.New(storeerr.KindIO, "bucket exists", "read bucket record", err)
	}
	return ok, nil
}
