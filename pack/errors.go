package pack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/query"
)

// MsgDoesNotExist is the failure message for objects missing from the source
const MsgDoesNotExist = "Record not found in the database.<br/>It may have been deleted. Please refresh the table!"

var (
	// ErrAlreadySaved is returned by save_object listeners that stored the
	// object themselves
	ErrAlreadySaved = errors.New("object already saved")
)

// ApplicationError is a predictable failure shown to the user
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// NewApplicationError formats an ApplicationError
func NewApplicationError(format string, args ...any) *ApplicationError {
	return &ApplicationError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports invalid object data
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "<br/>")
}

// OverlapError lists objects whose intervals intersect the saved one
type OverlapError struct {
	Header  string
	Objects []query.Record
}

func (e *OverlapError) Error() string {
	header := e.Header
	if header == "" {
		header = "There are overlaps with the following records:"
	}
	parts := make([]string, 0, len(e.Objects)+1)
	parts = append(parts, header)
	for _, o := range e.Objects {
		parts = append(parts, display(o))
	}
	return strings.Join(parts, "\n- ")
}

// RelatedError is returned when an object can not be deleted because other
// objects refer to it
type RelatedError struct {
	ID any
}

func (e *RelatedError) Error() string {
	return fmt.Sprintf("Failed to delete element %v. It may be referenced by other records.", e.ID)
}

// ContextError reports a declared parameter that is missing or malformed
type ContextError struct {
	Param string
	Err   error
}

func (e *ContextError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("required parameter %q is missing", e.Param)
	}
	return fmt.Sprintf("parameter %q: %v", e.Param, e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

// FailureMessage maps application-logic errors to the message of a failure
// result. ok is false for errors that are defects.
func FailureMessage(err error) (msg string, ok bool) {
	var (
		appErr     *ApplicationError
		validation *ValidationError
		overlap    *OverlapError
		related    *RelatedError
		contextErr *ContextError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr.Message, true
	case errors.As(err, &validation):
		return validation.Error(), true
	case errors.As(err, &overlap):
		return overlap.Error(), true
	case errors.As(err, &related):
		return related.Error(), true
	case errors.As(err, &contextErr):
		return contextErr.Error(), true
	case errors.Is(err, query.ErrDoesNotExist):
		return MsgDoesNotExist, true
	}
	return "", false
}

func display(rec query.Record) string {
	for _, key := range []string{"name", "title", "code"} {
		if v, ok := rec[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("#%v", rec.ID())
}
