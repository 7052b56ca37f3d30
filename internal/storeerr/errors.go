// Package storeerr defines the error taxonomy shared by the bucket registry,
// the object store and the HTTP layer.
package storeerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a storage error so callers can branch on it.
type Kind int

const (
	KindInternal Kind = iota
	KindBucketNotFound
	KindBucketAlreadyExists
	KindObjectNotFound
	KindValidation
	KindHashMismatch
	KindInconsistent
	KindIO
	KindEncoding
)

var kindCodes = map[Kind]string{
	KindInternal:            "internal_error",
	KindBucketNotFound:      "bucket_not_found",
	KindBucketAlreadyExists: "bucket_already_exists",
	KindObjectNotFound:      "object_not_found",
	KindValidation:          "validation_failed",
	KindHashMismatch:        "hash_mismatch",
	KindInconsistent:        "inconsistent",
	KindIO:                  "io_error",
	KindEncoding:            "encoding_error",
}

// Code returns the wire identifier used in error envelopes.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindInternal]
}

func (k Kind) String() string {
	return k.Code()
}

// HTTPStatus maps a kind to the status code reported to HTTP clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBucketNotFound, KindObjectNotFound:
		return http.StatusNotFound
	case KindBucketAlreadyExists:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindHashMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// KindFromCode is the inverse of Kind.Code. Unknown codes map to KindInternal.
func KindFromCode(code string) Kind {
	for k, c := range kindCodes {
		if c == code {
			return k
		}
	}
	return KindInternal
}

// Error is a classified storage error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets the
// sentinels below be used with errors.Is regardless of Op or Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrBucketNotFound      = &Error{Kind: KindBucketNotFound}
	ErrBucketAlreadyExists = &Error{Kind: KindBucketAlreadyExists}
	ErrObjectNotFound      = &Error{Kind: KindObjectNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrHashMismatch        = &Error{Kind: KindHashMismatch}
	ErrInconsistent        = &Error{Kind: KindInconsistent}
	ErrIO                  = &Error{Kind: KindIO}
	ErrEncoding            = &Error{Kind: KindEncoding}
)

// New builds a classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Newf builds a classified error with a formatted message and no cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human readable message of the first *Error in the
// chain, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
