package session

import (
	"errors"
	"strings"
)

var (
	ErrBusy          = errors.New("a generation is already in progress")
	ErrNoBaseImage   = errors.New("no base image to refine: generate an image first")
	ErrMissingInputs = errors.New("missing required inputs")
	ErrEmptyResult   = errors.New("generation service returned an empty image")
	ErrInvalidSlot   = errors.New("invalid input slot")
)

// Field is an initial-generation input category.
type Field int

const (
	FieldReference Field = iota
	FieldProduct
	FieldTitle
	FieldPrice
)

func (f Field) String() string {
	switch f {
	case FieldReference:
		return "a reference image"
	case FieldProduct:
		return "a product image"
	case FieldTitle:
		return "a title"
	case FieldPrice:
		return "a price"
	}
	return "an input"
}

// ValidationError reports a request rejected before dispatch.
type ValidationError struct {
	Missing []Field
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Err.Error()
	}
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = f.String()
	}
	return "please provide " + joinList(names)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

type FailureKind string

const (
	KindValidation FailureKind = "validation"
	KindGeneration FailureKind = "generation"
	KindCodec      FailureKind = "codec"
)

// Failure is what the error slot holds. Its message is the wrapped
// error's message, unchanged.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
