package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/knot/internal/ir"
)

// ErrStopped is returned by Subscription.Next once a knot has stopped
// without failure, or once the subscription itself was closed.
var ErrStopped = errors.New("knot stopped")

// RuntimeError represents a configuration or execution failure of a knot.
//
// Runtime errors include:
//   - Wiring mistakes: use before activation, duplicate reducers
//   - Failures raised by reducers, transformers, triggers, sources or interceptors
//
// All of them are fatal for the knot instance that raised them.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// KnotID identifies the affected knot (empty before activation).
	KnotID string

	// Tag is the change, action or state tag involved, if any.
	Tag ir.Tag

	// Owner names the definition, prime or source that registered the handler.
	Owner string

	// Err is the underlying failure, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnhandledChange indicates a change no reducer accepts in the current state.
	ErrCodeUnhandledChange RuntimeErrorCode = "UNHANDLED_CHANGE"

	// ErrCodeNotActivated indicates a composite was used before Compose.
	ErrCodeNotActivated RuntimeErrorCode = "NOT_ACTIVATED"

	// ErrCodeAlreadyActivated indicates Register or Compose after Compose.
	ErrCodeAlreadyActivated RuntimeErrorCode = "ALREADY_ACTIVATED"

	// ErrCodeDuplicateReducer indicates two reducers for one change tag.
	ErrCodeDuplicateReducer RuntimeErrorCode = "DUPLICATE_REDUCER"

	// ErrCodeReducerFailed indicates a reducer returned an error or panicked.
	ErrCodeReducerFailed RuntimeErrorCode = "REDUCER_FAILED"

	// ErrCodeTransformerFailed indicates an action transformer failed.
	ErrCodeTransformerFailed RuntimeErrorCode = "TRANSFORMER_FAILED"

	// ErrCodeTriggerFailed indicates an on-enter trigger failed.
	ErrCodeTriggerFailed RuntimeErrorCode = "TRIGGER_FAILED"

	// ErrCodeInterceptorFailed indicates an interceptor or watcher panicked.
	ErrCodeInterceptorFailed RuntimeErrorCode = "INTERCEPTOR_FAILED"

	// ErrCodeSourceFailed indicates an event source failed.
	ErrCodeSourceFailed RuntimeErrorCode = "SOURCE_FAILED"

	// ErrCodeAlreadyRunning indicates Run was called twice.
	ErrCodeAlreadyRunning RuntimeErrorCode = "ALREADY_RUNNING"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Tag != "" {
		msg += fmt.Sprintf(" (tag=%s)", e.Tag)
	}
	if e.Owner != "" {
		msg += fmt.Sprintf(" (owner=%s)", e.Owner)
	}
	if e.KnotID != "" {
		msg += fmt.Sprintf(" (knot=%s)", e.KnotID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying failure.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// UnhandledChangeError is raised when a change arrives that the current
// state does not accept. It carries the offending pair for diagnosis.
//
// Reducers return it through Unexpected; the knot raises it itself when no
// reducer is registered for the change tag at all.
type UnhandledChangeError struct {
	KnotID string
	State  ir.Tagged
	Change ir.Tagged
}

// Error implements the error interface.
func (e *UnhandledChangeError) Error() string {
	msg := fmt.Sprintf("%s: unexpected change %s %+v in state %s %+v",
		ErrCodeUnhandledChange, ir.TagOf(e.Change), e.Change, ir.TagOf(e.State), e.State)
	if e.KnotID != "" {
		msg += fmt.Sprintf(" (knot=%s)", e.KnotID)
	}
	return msg
}

// Unexpected reports that change is not valid in state.
// Reducers return it for every state/change pair they do not handle.
func Unexpected(state, change ir.Tagged) error {
	return &UnhandledChangeError{State: state, Change: change}
}

// CodeOf returns the runtime error code carried by err, or "" if none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) RuntimeErrorCode {
	var uc *UnhandledChangeError
	if errors.As(err, &uc) {
		return ErrCodeUnhandledChange
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsUnhandledChange returns true if err reports an unhandled change.
func IsUnhandledChange(err error) bool {
	return CodeOf(err) == ErrCodeUnhandledChange
}

// IsNotActivated returns true if err reports use before activation.
func IsNotActivated(err error) bool {
	return CodeOf(err) == ErrCodeNotActivated
}

// IsDuplicateReducer returns true if err reports a duplicate reducer.
func IsDuplicateReducer(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateReducer
}

// NewNotActivatedError creates a RuntimeError for use before Compose.
func NewNotActivatedError(op string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotActivated,
		Message: fmt.Sprintf("%s called before Compose", op),
	}
}

// NewAlreadyActivatedError creates a RuntimeError for Register or Compose after Compose.
func NewAlreadyActivatedError(op, knotID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAlreadyActivated,
		Message: fmt.Sprintf("%s called after Compose", op),
		KnotID:  knotID,
	}
}

// NewDuplicateReducerError creates a RuntimeError for a change tag claimed twice.
func NewDuplicateReducerError(tag ir.Tag, first, second string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateReducer,
		Message: fmt.Sprintf("reducer registered by %q and %q", first, second),
		Tag:     tag,
		Owner:   second,
	}
}

// NewAlreadyRunningError creates a RuntimeError for a second Run call.
func NewAlreadyRunningError(knotID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAlreadyRunning,
		Message: "Run may only be called once",
		KnotID:  knotID,
	}
}

// newFailure creates a RuntimeError wrapping a handler failure.
func newFailure(code RuntimeErrorCode, knotID string, tag ir.Tag, owner string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: "handler failed",
		KnotID:  knotID,
		Tag:     tag,
		Owner:   owner,
		Err:     err,
	}
}
