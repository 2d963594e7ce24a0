package errs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageCarriesContext(t *testing.T) {
	err := E("indexstore.Merge", KindIO, io.ErrUnexpectedEOF).
		WithDir("/tmp/idx").
		WithSession("s1")

	assert.Equal(t, "indexstore.Merge session=s1 dir=/tmp/idx: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, KindIO, KindOf(err))
}

func TestWrap_SentinelsStillMatch(t *testing.T) {
	tests := []struct {
		name     string
		sentinel *Error
		kind     Kind
	}{
		{"not initialized", ErrNotInitialized, KindPrecondition},
		{"no index", ErrNoIndex, KindPrecondition},
		{"no content", ErrNoContent, KindPrecondition},
		{"unsupported", ErrUnsupportedFormat, KindUnsupported},
		{"dimension", ErrDimensionMismatch, KindEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("outer: %w", Wrap("op", tt.sentinel).WithDir("d"))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
	assert.NotErrorIs(t, Wrap("op", ErrNoIndex), ErrNoContent)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
	assert.Equal(t, KindOther, KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(Wrap("q", ErrNoIndex)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Wrap("i", ErrNoContent)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Wrap("i", ErrInvalidSession)))
	assert.Equal(t, http.StatusUnsupportedMediaType, HTTPStatus(Wrap("p", ErrUnsupportedFormat)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(E("m", KindEmbedding, errors.New("down"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(E("m", KindIO, errors.New("disk"))))
}
