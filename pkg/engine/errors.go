package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller whether repeating the call can succeed.
type ErrorClass string

const (
	// ErrorClassTransient: the store was busy or briefly unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict: another writer changed the workflow first. Reload
	// the aggregate and reapply the edit.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent: the request or the aggregate is wrong, retrying
	// gives the same answer.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeInvariant     = "INTERNAL_INVARIANT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStoreBusy     = "STORE_BUSY"
)

// EngineError is the classified error returned by phase construction, the
// advisor and the adapters around them.
// nolint:revive // stutters with the package name, kept for errors.As readability
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`

	// Resource is the workflow, phase or state the error is about.
	Resource  string `json:"resource,omitempty"`
	Operation string `json:"operation,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewTransientError reports a failure that may clear on its own.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, "", message, err)
}

// NewConflictError reports a lost optimistic-concurrency race.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, ErrCodeConflict, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, "", message, err)
}

// NewConfigurationError reports an unsupported combination requested by the
// caller of phase construction, e.g. blue/green on a daemon set.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeConfiguration, message, err)
}

// NewInvariantError reports a defect in the aggregate or strategy
// configuration discovered while computing advice.
func NewInvariantError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeInvariant, message, err)
}

func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func asEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	ok := errors.As(err, &e)
	return e, ok
}

// ClassOf returns the class of the first EngineError in the chain, or
// "unclassified".
func ClassOf(err error) ErrorClass {
	if e, ok := asEngineError(err); ok {
		return e.Class
	}
	return "unclassified"
}

// ErrorCode returns the code of the first EngineError in the chain.
func ErrorCode(err error) string {
	if e, ok := asEngineError(err); ok {
		return e.Code
	}
	return ""
}

func IsTransient(err error) bool { return ClassOf(err) == ErrorClassTransient }
func IsConflict(err error) bool  { return ClassOf(err) == ErrorClassConflict }
func IsPermanent(err error) bool { return ClassOf(err) == ErrorClassPermanent }

// IsRetryable reports whether repeating the call can succeed: transient
// errors and conflicts.
func IsRetryable(err error) bool { return IsTransient(err) || IsConflict(err) }

// IsConfigurationError reports an unsupported deployment type, topology or
// infrastructure combination.
func IsConfigurationError(err error) bool { return err != nil && ErrorCode(err) == ErrCodeConfiguration }

// IsInvariantError reports a broken aggregate invariant.
func IsInvariantError(err error) bool { return err != nil && ErrorCode(err) == ErrCodeInvariant }
