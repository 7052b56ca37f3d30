package models

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so identical
// records always produce identical bytes. Times are kept as RFC 3339 text
// with nanoseconds.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("models: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("models: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeBucket serializes a bucket record for the metadata store.
func EncodeBucket(b *Bucket) ([]byte, error) {
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bucket %q: %w", b.Name, err)
	}
	return data, nil
}

// DecodeBucket parses a stored bucket record. name is the metadata key.
func DecodeBucket(name string, data []byte) (*Bucket, error) {
	var b Bucket
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bucket %q: %w", name, err)
	}
	b.Name = name
	if b.Tags == nil {
		b.Tags = []string{}
	}
	return &b, nil
}

// EncodeObject serializes an object record for the metadata store.
func EncodeObject(o *Object) ([]byte, error) {
	data, err := encMode.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode object %s: %w", ObjectKey(o.Bucket, o.Key), err)
	}
	return data, nil
}

// DecodeObject parses a stored object record.
func DecodeObject(bucket, key string, data []byte) (*Object, error) {
	var o Object
	if err := decMode.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", ObjectKey(bucket, key), err)
	}
	o.Bucket = bucket
	o.Key = key
	if o.Tags == nil {
		o.Tags = []string{}
	}
	return &o, nil
}

// ObjectJSON renders the record returned to put callers.
func ObjectJSON(o *Object) ([]byte, error) {
	return json.Marshal(o)
}
