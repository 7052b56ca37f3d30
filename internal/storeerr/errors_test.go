package storeerr

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := Newf(KindHashMismatch, "put", "declared %s, computed %s", "aa", "bb")

	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.NotErrorIs(t, err, ErrValidation)

	wrapped := fmt.Errorf("handler: %w", err)
	assert.ErrorIs(t, wrapped, ErrHashMismatch)
	assert.Equal(t, KindHashMismatch, KindOf(wrapped))
}

func TestError_UnwrapCause(t *testing.T) {
	err := New(KindIO, "write blob", "open file", fs.ErrPermission)

	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, "write blob: open file: permission denied", err.Error())
}

func TestError_MessageDefaultsToCode(t *testing.T) {
	err := &Error{Kind: KindObjectNotFound}
	assert.Equal(t, "object_not_found", err.Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindBucketNotFound, http.StatusNotFound},
		{KindObjectNotFound, http.StatusNotFound},
		{KindBucketAlreadyExists, http.StatusConflict},
		{KindValidation, http.StatusBadRequest},
		{KindHashMismatch, http.StatusUnprocessableEntity},
		{KindInconsistent, http.StatusInternalServerError},
		{KindIO, http.StatusInternalServerError},
		{KindEncoding, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.Code(), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
		})
	}
}

func TestKindFromCode_RoundTrip(t *testing.T) {
	for k := KindInternal; k <= KindEncoding; k++ {
		assert.Equal(t, k, KindFromCode(k.Code()))
	}
	assert.Equal(t, KindInternal, KindFromCode("something_else"))
}
