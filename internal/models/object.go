// Package models defines the bucket and object records persisted in the
// metadata store and their wire encodings.
package models

import (
	"strings"
	"time"
)

// Object is the metadata record of a blob within a bucket. Bucket and Key
// are the record's identity and are not part of the stored encoding.
type Object struct {
	Bucket      string    `cbor:"-" json:"-"`
	Key         string    `cbor:"-" json:"-"`
	CreatedAt   time.Time `cbor:"created_at" json:"created_at"`
	Tags        []string  `cbor:"tags" json:"tags"`
	Hash        string    `cbor:"hash" json:"hash"`
	ContentType string    `cbor:"content_type" json:"content_type"`
}

// ObjectKey returns the metadata key for an object: "bucket/key".
func ObjectKey(bucket, key string) string {
	return bucket + "/" + key
}

// SplitObjectKey is the inverse of ObjectKey. Bucket names never contain
// '/', so the first separator is the boundary.
func SplitObjectKey(metaKey string) (bucket, key string, ok bool) {
	bucket, key, ok = strings.Cut(metaKey, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// ETag returns the quoted entity tag derived from the content hash.
func (o *Object) ETag() string {
	return `"` + o.Hash + `"`
}
