package errors

import "errors"

// Sentinel errors shared across the pipeline. Stage processors and adapters
// wrap these with fmt.Errorf("%w: ...") rather than defining ad-hoc types, so
// callers can classify a failure with a single errors.Is check.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid")
	ErrConflict           = errors.New("conflict")
	ErrTooMany            = errors.New("too many requests")
	ErrInternal           = errors.New("internal")
	ErrValidation         = errors.New("validation failed")
	ErrEmbedTransient     = errors.New("embedding provider transient error")
	ErrEmbedFatal         = errors.New("embedding provider fatal error")
	ErrStoreTransient     = errors.New("vector store transient error")
	ErrStoreFatal         = errors.New("vector store fatal error")
	ErrSegmentFailure     = errors.New("segment processing failed")
	ErrIncrementalConflict = errors.New("incremental update conflict")
	ErrCanceled           = errors.New("canceled")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrDocumentBusy       = errors.New("document busy")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsDocumentBusy reports whether err is or wraps ErrDocumentBusy.
func IsDocumentBusy(err error) bool { return errors.Is(err, ErrDocumentBusy) }

// IsTransient reports whether err represents a condition worth retrying:
// a transient embedding/store error, or a document lock held by another
// worker. Fatal errors, validation errors and cancellation are never
// transient.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrEmbedTransient):
		return true
	case errors.Is(err, ErrStoreTransient):
		return true
	case errors.Is(err, ErrDocumentBusy):
		return true
	case errors.Is(err, ErrTooMany):
		return true
	default:
		return false
	}
}

// IsFatal reports whether err should never be retried regardless of
// remaining attempts.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrEmbedFatal):
		return true
	case errors.Is(err, ErrStoreFatal):
		return true
	case errors.Is(err, ErrValidation):
		return true
	case errors.Is(err, ErrUnsupportedFileType):
		return true
	case errors.Is(err, ErrInvalidQuery):
		return true
	case errors.Is(err, ErrCanceled):
		return true
	default:
		return false
	}
}
