package models

import "time"

// Bucket is a named namespace for objects. The record is stored under the
// bucket name, so Name is not part of the stored encoding.
type Bucket struct {
	Name      string    `cbor:"-" json:"name"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
	Tags      []string  `cbor:"tags" json:"tags"`
}
