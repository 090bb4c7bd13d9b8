// Package errs defines the error kinds shared by the indexing engine and its
// collaborators, plus the retry helper used for every remote call.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means a file vanished between enumeration and read.
	KindNotFound
	// KindEmbedding means the embedding capability failed after all retries.
	KindEmbedding
	// KindStore means the vector store failed after all retries.
	KindStore
	// KindValidation means the index is missing or misconfigured.
	KindValidation
	// KindStateIO means persisted state could not be read or written.
	KindStateIO
	// KindConfig means the configuration is invalid.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindEmbedding:
		return "embedding_failure"
	case KindStore:
		return "store_failure"
	case KindValidation:
		return "validation_failure"
	case KindStateIO:
		return "state_io"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks. An *Error matches the sentinel of its kind.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrEmbedding     = &Error{Kind: KindEmbedding}
	ErrStore         = &Error{Kind: KindStore}
	ErrIndexNotReady = &Error{Kind: KindValidation}
	ErrStateIO       = &Error{Kind: KindStateIO}
	ErrConfig        = &Error{Kind: KindConfig}
)

// Error is the structured error carried through the engine.
type Error struct {
	Kind     Kind
	Op       string // operation that failed, e.g. "embed", "upsert"
	Path     string // file path, when the failure concerns one file
	Attempts int    // attempts made before giving up, 0 when not retried
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which lets the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath annotates err with the file path it concerns. If err is already an
// *Error without a path, the path is filled in on a copy; other errors are
// wrapped so the original chain stays reachable.
func WithPath(err error, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Path == path {
			return err
		}
		if e.Path == "" {
			annotated := *e
			annotated.Path = path
			return &annotated
		}
	}
	return fmt.Errorf("%s: %w", path, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
