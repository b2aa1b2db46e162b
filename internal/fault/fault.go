// Package fault carries guard failures across the dispatch services. A
// fault is a refusal: nothing was mutated, and the caller gets a short
// message plus a detail line.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Validation   Kind = "validation"
	Unauthorized Kind = "unauthorized"
	NotFound     Kind = "not_found"
	Conflict     Kind = "conflict"
)

type Error struct {
	Kind    Kind
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
}

func New(kind Kind, msg, detail string) *Error {
	return &Error{Kind: kind, Message: msg, Detail: detail}
}

// As unwraps err into a fault if it is one.
func As(err error) (*Error, bool) {
	var f *Error
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the fault kind of err, or "" for other errors.
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return ""
}
