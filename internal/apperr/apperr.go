// Package apperr classifies pipeline failures so callers can decide whether a
// record degrades, a write is counted as failed, or the whole run stops.
package apperr

import "errors"

// Category is one class of pipeline failure.
type Category string

// Failure categories.
const (
	CategoryCoercion              Category = "coercion_failure"
	CategoryDocumentUnavailable   Category = "document_unavailable"
	CategoryServiceUnavailable    Category = "service_unavailable"
	CategoryUnrecoverableParse    Category = "unrecoverable_parse"
	CategorySinkWriteFailure      Category = "sink_write_failure"
	CategorySinkConnectionFailure Category = "sink_connection_failure"
)

type classifiedError struct {
	category  Category
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return string(e.category)
	}

	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category to cause. A nil cause stays nil.
func Wrap(cause error, category Category, retryable bool) error {
	if cause == nil {
		return nil
	}

	return &classifiedError{
		category:  category,
		retryable: retryable,
		cause:     cause,
	}
}

// CategoryOf returns the outermost category in err's chain, or "".
func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}

	return ""
}

// Is reports whether err carries category anywhere in its chain.
func Is(err error, category Category) bool {
	for err != nil {
		var classified *classifiedError
		if !errors.As(err, &classified) {
			return false
		}

		if classified.category == category {
			return true
		}

		err = classified.cause
	}

	return false
}

// RetryableOf reports whether the outermost classified error is retryable.
func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}

	return false
}

// IsFatal reports whether err must stop the run.
func IsFatal(err error) bool {
	return Is(err, CategorySinkConnectionFailure)
}
