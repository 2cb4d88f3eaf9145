package cfgerr

import (
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible error classification.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindInvalidReference   Kind = "invalid_reference"
	KindDuplicateVersion   Kind = "duplicate_version"
	KindStorageUnavailable Kind = "storage_unavailable"
)

// Error carries a stable kind plus a human-readable message. The wrapped
// cause stays internal and is never serialized to callers.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidReferencef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidReference, Message: fmt.Sprintf(format, args...)}
}

func DuplicateVersionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDuplicateVersion, Message: fmt.Sprintf(format, args...)}
}

func StorageUnavailable(err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: "configuration storage unavailable", Err: err}
}

// KindOf extracts the classification of err, or "" when err is not ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
