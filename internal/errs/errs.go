// Package errs defines the typed failures reported by the ingestion core.
//
// Every failure carries the operation name, the index directory and session
// it concerns, a Kind used for classification and the underlying cause.
// Callers use errors.Is against the sentinels below to branch on a kind.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindOther Kind = iota
	// KindPrecondition covers contract violations and missing inputs. Never retried.
	KindPrecondition
	KindValidation
	KindUnsupported
	KindIO
	KindEmbedding
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindValidation:
		return "validation"
	case KindUnsupported:
		return "unsupported"
	case KindIO:
		return "io"
	case KindEmbedding:
		return "embedding"
	case KindConsistency:
		return "consistency"
	default:
		return "other"
	}
}

var (
	ErrNotInitialized     = &Error{Kind: KindPrecondition, Err: errors.New("index store not loaded; call LoadOrCreate first")}
	ErrNoIndex            = &Error{Kind: KindPrecondition, Err: errors.New("no existing index and no data to create one")}
	ErrNoContent          = &Error{Kind: KindPrecondition, Err: errors.New("no valid content")}
	ErrInvalidChunkConfig = &Error{Kind: KindValidation, Err: errors.New("invalid chunk configuration")}
	ErrInvalidSession     = &Error{Kind: KindValidation, Err: errors.New("invalid session id")}
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupported, Err: errors.New("unsupported file format")}
	ErrDimensionMismatch  = &Error{Kind: KindEmbedding, Err: errors.New("embedding dimension mismatch")}
)

// Error is the failure type returned across package boundaries.
type Error struct {
	Op      string
	Dir     string
	Session string
	Kind    Kind
	Err     error
}

// E builds an Error.
func E(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap builds an Error that inherits the kind of err, typically a sentinel.
func Wrap(op string, err error) *Error {
	return &Error{Op: op, Kind: KindOf(err), Err: err}
}

func (e *Error) WithDir(dir string) *Error {
	e.Dir = dir
	return e
}

func (e *Error) WithSession(id string) *Error {
	e.Session = id
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Session != "" {
		fmt.Fprintf(&b, " session=%s", e.Session)
	}
	if e.Dir != "" {
		fmt.Fprintf(&b, " dir=%s", e.Dir)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return strings.TrimSpace(b.String())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by identity of their cause, so wrapped sentinels
// compare equal to the bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind && t.Err == e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindOther {
			return KindOf(e.Err)
		}
		return e.Kind
	}
	return KindOther
}

// HTTPStatus maps an error to the status code the HTTP boundary reports.
func HTTPStatus(err error) int {
	if errors.Is(err, ErrNoIndex) {
		return http.StatusNotFound
	}
	switch KindOf(err) {
	case KindPrecondition, KindValidation:
		return http.StatusBadRequest
	case KindUnsupported:
		return http.StatusUnsupportedMediaType
	case KindEmbedding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
