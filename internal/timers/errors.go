package timers

import (
	"errors"
	"fmt"
)

var (
	ErrNotRecord     = errors.New("timer must be a record {name*: string, delay*: number (ms), interval*: bool, job*: func}")
	ErrInvalidField  = errors.New("invalid timer field")
	ErrMissingField  = errors.New("missing required timer field")
	ErrDuplicateName = errors.New("timer name already exists")
	ErrInvalidName   = errors.New("timer name must be a non-empty string")
)

// Kind names an error class of the registry's public contract.
type Kind string

const (
	KindNone            Kind = ""
	KindType            Kind = "TypeError"
	KindValidation      Kind = "ValidationError"
	KindMissingField    Kind = "MissingFieldError"
	KindDuplicateName   Kind = "DuplicateNameError"
	KindInvalidArgument Kind = "InvalidArgumentError"
)

// KindOf classifies err. Errors not produced by this package map to KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotRecord):
		return KindType
	case errors.Is(err, ErrInvalidField):
		return KindValidation
	case errors.Is(err, ErrMissingField):
		return KindMissingField
	case errors.Is(err, ErrDuplicateName):
		return KindDuplicateName
	case errors.Is(err, ErrInvalidName):
		return KindInvalidArgument
	default:
		return KindNone
	}
}

// FieldError reports a problem with one field of a timer definition.
// Err is ErrInvalidField or ErrMissingField.
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }
func (e *FieldError) Unwrap() error { return e.Err }

func invalidField(field, reason string) error {
	return &FieldError{Field: field, Reason: reason, Err: ErrInvalidField}
}

func missingField(field string) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf("property %s is required", field), Err: ErrMissingField}
}
