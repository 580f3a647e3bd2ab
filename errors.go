package tablekit

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound = errors.New("tablekit: item not found")

	// ErrForbidden is returned when the accountability context lacks
	// permission for the requested action, collection or rows.
	ErrForbidden = errors.New("tablekit: forbidden")

	// ErrInvalidPayload is returned for structurally defective payloads,
	// e.g. a batch-update element missing its primary key.
	ErrInvalidPayload = errors.New("tablekit: invalid payload")

	// ErrUnprocessableField is returned when a payload carries a field
	// value the access policy rejects.
	ErrUnprocessableField = errors.New("tablekit: unprocessable field")
)

// NotFoundError represents an error when an item is not found.
type NotFoundError struct {
	Collection string
	Key        any // Optional: the primary key that was searched for.
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("tablekit: item not found in %q (key=%v)", e.Collection, e.Key)
	}
	return fmt.Sprintf("tablekit: item not found in %q", e.Collection)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(err, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ForbiddenError represents a rejected action: the accountability context
// has no permission for the action on the collection, or the targeted rows
// are outside its row filter.
type ForbiddenError struct {
	Action     Action
	Collection string
	Reason     string
}

// Error returns the error string.
func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tablekit: %s on %q forbidden: %s", e.Action, e.Collection, e.Reason)
	}
	return fmt.Sprintf("tablekit: %s on %q forbidden", e.Action, e.Collection)
}

// Is reports whether the target error matches ForbiddenError.
func (e *ForbiddenError) Is(err error) bool {
	return err == ErrForbidden
}

// IsForbidden returns true if the error is a ForbiddenError.
func IsForbidden(err error) bool {
	if err == nil {
		return false
	}
	var e *ForbiddenError
	return errors.As(err, &e) || errors.Is(err, ErrForbidden)
}

// InvalidPayloadError represents a structural defect in a payload. The
// operation aborts before any write.
type InvalidPayloadError struct {
	Collection string
	Reason     string
}

// Error returns the error string.
func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("tablekit: invalid payload for %q: %s", e.Collection, e.Reason)
}

// Is reports whether the target error matches InvalidPayloadError.
func (e *InvalidPayloadError) Is(err error) bool {
	return err == ErrInvalidPayload
}

// IsInvalidPayload returns true if the error is an InvalidPayloadError.
func IsInvalidPayload(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidPayloadError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidPayload)
}

// UnprocessableFieldError represents a payload field the access policy
// refuses to accept, e.g. a write to a field outside the permitted set.
type UnprocessableFieldError struct {
	Collection string
	Field      string
}

// Error returns the error string.
func (e *UnprocessableFieldError) Error() string {
	return fmt.Sprintf("tablekit: field %q of %q cannot be written", e.Field, e.Collection)
}

// Is reports whether the target error matches UnprocessableFieldError.
func (e *UnprocessableFieldError) Is(err error) bool {
	return err == ErrUnprocessableField
}

// IsUnprocessableField returns true if the error is an UnprocessableFieldError.
func IsUnprocessableField(err error) bool {
	if err == nil {
		return false
	}
	var e *UnprocessableFieldError
	return errors.As(err, &e) || errors.Is(err, ErrUnprocessableField)
}
